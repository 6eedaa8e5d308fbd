// Package tle reads NORAD two-line element sets and turns them into
// vessels of the sandbox world: Keplerian elements for prediction and an
// SGP4 tracker for the authoritative position.
package tle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// lineLength is the fixed width of both element lines.
const lineLength = 69

// Parse reads 3-line NORAD TLE format (name, line 1, line 2) from r.
// Malformed entries are skipped with a warning.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]
		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// resynchronize on the next line
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}
		i += 3

		e, err := parseEntry(name, line1, line2)
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", strings.TrimSpace(name), "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(name, line1, line2 string) (Entry, error) {
	if err := validateLines(line1, line2); err != nil {
		return Entry{}, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid NORAD ID %q: %w", line1[2:7], err)
	}
	if id2, err := strconv.Atoi(strings.TrimSpace(line2[2:7])); err != nil || id2 != id {
		return Entry{}, fmt.Errorf("line 2 NORAD ID %q does not match %d", line2[2:7], id)
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return Entry{}, err
	}
	mean, err := parseMean(line2)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		NORADID: id,
		Name:    strings.TrimSpace(name),
		Epoch:   epoch,
		Mean:    mean,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// parseMean reads the mean elements of a checked line 2. Eccentricity has an
// implied leading decimal point.
func parseMean(line2 string) (MeanElements, error) {
	var m MeanElements
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line2[8:16], &m.Inclination},
		{"raan", line2[17:25], &m.RAAN},
		{"eccentricity", "0." + strings.TrimSpace(line2[26:33]), &m.Eccentricity},
		{"argument of perigee", line2[34:42], &m.ArgPerigee},
		{"mean anomaly", line2[43:51], &m.MeanAnomaly},
		{"mean motion", line2[52:63], &m.MeanMotion},
	}
	for _, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return MeanElements{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = x
	}
	if m.MeanMotion <= 0 {
		return MeanElements{}, fmt.Errorf("mean motion %v must be positive", m.MeanMotion)
	}
	return m, nil
}

// validateLines checks widths, line numbers and checksums. The SGP4 library
// aborts the process on malformed input, so nothing unchecked may reach it.
func validateLines(line1, line2 string) error {
	for n, line := range []string{line1, line2} {
		if len(line) != lineLength {
			return fmt.Errorf("line%d length %d, expected %d", n+1, len(line), lineLength)
		}
		if line[0] != byte('1'+n) {
			return fmt.Errorf("line%d must start with '%d', got '%c'", n+1, n+1, line[0])
		}
		want := int(line[lineLength-1] - '0')
		if got := checksum(line[:lineLength-1]); got != want {
			return fmt.Errorf("line%d checksum %d, expected %d", n+1, got, want)
		}
	}
	return nil
}

// checksum is the sum of the digits, with '-' counting as 1, modulo 10.
func checksum(s string) int {
	sum := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// parseEpoch converts YYDDD.DDDDDDDD to a UTC time. Years 57-99 are the 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	// day 1 is January 1st
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}

// Load fetches and parses every source of f.
func Load(ctx context.Context, f *Fetcher, logger *slog.Logger) (*Dataset, error) {
	data, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid TLE entries in %s", f.Source())
	}

	ds := &Dataset{
		Source:    f.Source(),
		FetchedAt: time.Now().UTC(),
		Entries:   entries,
	}
	oldest, newest := ds.EpochSpan()
	logger.Info("TLE dataset loaded",
		"source", ds.Source,
		"entries", len(entries),
		"epoch_min", oldest.Format(time.RFC3339),
		"epoch_max", newest.Format(time.RFC3339),
	)
	return ds, nil
}
