package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxBodyBytes bounds what a single source may return.
const maxBodyBytes = 50 << 20

// Fetcher reads raw TLE text from a primary source and optional extra
// sources. A source is an http(s) URL or a local file path.
type Fetcher struct {
	source     string
	extra      []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. Extra sources are appended to the primary
// one; their failures are logged and skipped.
func NewFetcher(source string, logger *slog.Logger, extra ...string) *Fetcher {
	return &Fetcher{
		source: source,
		extra:  extra,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Source returns the primary source.
func (f *Fetcher) Source() string {
	return f.source
}

// Fetch reads every source and concatenates the results.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	data, err := f.read(ctx, f.source)
	if err != nil {
		return nil, err
	}
	for _, src := range f.extra {
		more, err := f.read(ctx, src)
		if err != nil {
			f.logger.Warn("skipping extra TLE source", "source", src, "error", err)
			continue
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		data = append(data, more...)
	}
	return data, nil
}

func (f *Fetcher) read(ctx context.Context, src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		file, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("opening TLE file: %w", err)
		}
		defer file.Close()
		return readLimited(file, src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, src)
	}
	return readLimited(resp.Body, src)
}

var errTooLarge = errors.New("TLE source exceeds byte limit")

func readLimited(r io.Reader, src string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%s: %w of %d", src, errTooLarge, maxBodyBytes)
	}
	return body, nil
}
