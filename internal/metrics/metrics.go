package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substep_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "substep_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	stepsProducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_steps_produced_total",
		Help: "Global step markers produced by the worker.",
	})

	stepsConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_steps_consumed_total",
		Help: "Vessel steps handed to the consumer.",
	})

	lockContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_lock_contention_total",
		Help: "Main tick synchronizations that timed out acquiring the scheduler lock.",
	})

	catchupIncrementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_catchup_increments_total",
		Help: "Catch-up increments performed by the worker.",
	})

	backlogWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_backlog_warnings_total",
		Help: "Synchronizations where a vessel had fewer steps than the main tick consumed.",
	})

	orbitChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_orbit_changes_total",
		Help: "Orbit discontinuities detected on tracked vessels.",
	})

	workerRespawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_worker_respawns_total",
		Help: "Worker goroutines started by the main tick.",
	})

	workerPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_worker_panics_total",
		Help: "Worker goroutines that terminated on a recovered panic.",
	})

	markerQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "substep_marker_queue_length",
		Help: "Global step markers currently queued ahead of the main tick.",
	})

	vesselsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "substep_vessels_tracked",
		Help: "Vessel predictors currently owned by the scheduler.",
	})

	catchupQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "substep_catchup_queue_length",
		Help: "Vessel predictors waiting for catch-up.",
	})

	horizonLeadSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "substep_horizon_lead_seconds",
		Help: "Simulated seconds between the current time and the horizon.",
	})

	workerStepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "substep_worker_step_duration_seconds",
		Help:    "Time spent producing one global step for all bodies and vessels.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "substep_sync_duration_seconds",
		Help:    "Main tick synchronization duration, lock wait included.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .002, .005, .01},
	})

	vesselDirectFlux = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "substep_vessel_direct_flux_watts_per_m2",
			Help: "Time-averaged direct stellar flux over the last consumed steps.",
		},
		[]string{"vessel"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substep_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "substep_streams_active",
		Help: "Currently open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substep_stream_bytes_total",
		Help: "Bytes written to SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substep_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(stepsProducedTotal)
	prometheus.MustRegister(stepsConsumedTotal)
	prometheus.MustRegister(lockContentionTotal)
	prometheus.MustRegister(catchupIncrementsTotal)
	prometheus.MustRegister(backlogWarningsTotal)
	prometheus.MustRegister(orbitChangesTotal)
	prometheus.MustRegister(workerRespawnsTotal)
	prometheus.MustRegister(workerPanicsTotal)
	prometheus.MustRegister(markerQueueLength)
	prometheus.MustRegister(vesselsTracked)
	prometheus.MustRegister(catchupQueueLength)
	prometheus.MustRegister(horizonLeadSeconds)
	prometheus.MustRegister(workerStepDuration)
	prometheus.MustRegister(syncDuration)
	prometheus.MustRegister(vesselDirectFlux)
	prometheus.MustRegister(streamConnectionsTotal)
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(streamBytesTotal)
	prometheus.MustRegister(streamErrorsTotal)
}

// IncStepsProduced counts one produced global step.
func IncStepsProduced() { stepsProducedTotal.Inc() }

// AddStepsConsumed counts steps handed to the consumer.
func AddStepsConsumed(n int) { stepsConsumedTotal.Add(float64(n)) }

// IncLockContention counts one timed-out synchronization.
func IncLockContention() { lockContentionTotal.Inc() }

// IncCatchupIncrements counts one catch-up increment.
func IncCatchupIncrements() { catchupIncrementsTotal.Inc() }

// IncBacklogWarnings counts one vessel that fell behind.
func IncBacklogWarnings() { backlogWarningsTotal.Inc() }

// IncOrbitChanges counts one detected orbit discontinuity.
func IncOrbitChanges() { orbitChangesTotal.Inc() }

// IncWorkerRespawns counts one worker start.
func IncWorkerRespawns() { workerRespawnsTotal.Inc() }

// IncWorkerPanics counts one recovered worker panic.
func IncWorkerPanics() { workerPanicsTotal.Inc() }

// SetMarkerQueueLength publishes the marker queue length.
func SetMarkerQueueLength(n int) { markerQueueLength.Set(float64(n)) }

// SetVesselsTracked publishes the number of vessel predictors.
func SetVesselsTracked(n int) { vesselsTracked.Set(float64(n)) }

// SetCatchupQueueLength publishes the catch-up queue length.
func SetCatchupQueueLength(n int) { catchupQueueLength.Set(float64(n)) }

// SetHorizonLead publishes how far ahead the horizon is, in simulated seconds.
func SetHorizonLead(seconds float64) { horizonLeadSeconds.Set(seconds) }

// ObserveWorkerStep records the duration of one global step.
func ObserveWorkerStep(d time.Duration) { workerStepDuration.Observe(d.Seconds()) }

// ObserveSync records the duration of one main tick synchronization.
func ObserveSync(d time.Duration) { syncDuration.Observe(d.Seconds()) }

// SetVesselDirectFlux publishes a vessel's averaged direct flux.
func SetVesselDirectFlux(vessel string, flux float64) {
	vesselDirectFlux.WithLabelValues(vessel).Set(flux)
}

// DeleteVessel drops the per-vessel series of a vessel that left scope.
func DeleteVessel(vessel string) {
	vesselDirectFlux.DeleteLabelValues(vessel)
}

// IncStreamConnections counts a stream "connect" or "disconnect" event.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

// IncStreamsActive and DecStreamsActive track open streams.
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one SSE data message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes counts bytes written to streams.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// knownRoutes are the fixed paths served by the API.
var knownRoutes = map[string]bool{
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/scheduler/stats": true,
	"/api/v1/vessels":         true,
	"/api/v1/world":           true,
	"/api/v1/world/warp":      true,
	"/api/v1/world/running":   true,
	"/api/v1/stream":          true,
	"/api/v1/stream/ws":       true,
}

const vesselPrefix = "/api/v1/vessels/"

// normalizeRoute maps a request path to a bounded label set: per-vessel
// routes collapse to one template and unknown paths to "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, vesselPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return vesselPrefix + "{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush, Hijack and Unwrap keep streaming and protocol upgrades working
// behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(rw.ResponseWriter).Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, brw, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
