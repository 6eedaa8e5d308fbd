package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/api/v1/scheduler/stats", "/api/v1/scheduler/stats"},
		{"/api/v1/vessels", "/api/v1/vessels"},
		{"/api/v1/world", "/api/v1/world"},
		{"/api/v1/world/warp", "/api/v1/world/warp"},
		{"/api/v1/stream", "/api/v1/stream"},
		{"/api/v1/stream/ws", "/api/v1/stream/ws"},

		// Per-vessel routes collapse to one label.
		{"/api/v1/vessels/6ba7b810-9dad-11d1-80b4-00c04fd430c8", "/api/v1/vessels/{id}"},
		{"/api/v1/vessels/not-a-uuid", "/api/v1/vessels/{id}"},

		// Unknown/bot paths collapse to "other".
		{"/api/v1/vessels/a/b", "other"},
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/", "other"},
		{"/api/v2/vessels", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 vessel IDs produce exactly 1
// distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/api/v1/vessels/" + string(rune('a'+i%26)) + string(rune('0'+i/26)))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", http.MethodGet, "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", http.MethodGet, "418"))

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestSchedulerCounters(t *testing.T) {
	before := testutil.ToFloat64(lockContentionTotal)
	IncLockContention()
	IncLockContention()
	if got := testutil.ToFloat64(lockContentionTotal) - before; got != 2 {
		t.Errorf("lock contention delta = %v, want 2", got)
	}

	SetVesselDirectFlux("v1", 1361)
	if got := testutil.ToFloat64(vesselDirectFlux.WithLabelValues("v1")); got != 1361 {
		t.Errorf("direct flux gauge = %v, want 1361", got)
	}
	DeleteVessel("v1")
	if n := testutil.CollectAndCount(vesselDirectFlux); n != 0 {
		t.Errorf("expected per-vessel series to be dropped, got %d", n)
	}
}

func TestStreamMetrics(t *testing.T) {
	IncStreamsActive()
	IncStreamsActive()
	DecStreamsActive()
	if got := testutil.ToFloat64(streamsActive); got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
	DecStreamsActive()

	before := testutil.ToFloat64(streamErrorsTotal.WithLabelValues("rate_limit"))
	IncStreamErrors("rate_limit")
	if got := testutil.ToFloat64(streamErrorsTotal.WithLabelValues("rate_limit")) - before; got != 1 {
		t.Errorf("rate_limit errors delta = %v, want 1", got)
	}

	AddStreamBytes(42)
	if got := testutil.ToFloat64(streamBytesTotal); got < 42 {
		t.Errorf("stream bytes = %v, want >= 42", got)
	}
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer is not a Flusher")
		}
		w.Write([]byte("data: {}\n\n"))
		f.Flush()
		if _, _, err := http.NewResponseController(w).Hijack(); err == nil {
			t.Error("recorder cannot be hijacked, want an error")
		}
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/stream", nil))
	if !w.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}
