// Package stream implements Server-Sent Events (SSE) streaming of vessel
// environments. Clients connect via GET /api/v1/stream and receive, at a
// fixed real-time period, what every tracked vessel experienced over the
// last main tick.
//
// SSE message format:
//
//	data: {"type":"environments","ut":3600,"time":"2026-01-01T01:00:00Z","warp":10,"vessels":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","epoch":"2026-01-01T00:00:00Z","interval":60,"lookahead_steps":66}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
//
// GET /api/v1/stream/ws carries the same messages as WebSocket text frames.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/star/substep/internal/irradiance"
	"github.com/star/substep/internal/metrics"
	"github.com/star/substep/internal/substep"
)

// Config holds streaming limits.
type Config struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"` // Max concurrent streams per IP (default: 10).
	MaxTotal           int           `yaml:"max_total"`             // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`    // Keep-alive ping interval (default: 30s).
	Period             time.Duration `yaml:"period"`                // Default message period (default: 1s).
}

// DefaultConfig returns the default streaming limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		MaxTotal:           1000,
		KeepaliveInterval:  30 * time.Second,
		Period:             time.Second,
	}
}

// Environments supplies the vessel environments to stream.
type Environments interface {
	Snapshot() []irradiance.Environment
	Environment(id uuid.UUID) (irradiance.Environment, bool)
}

// Clock is the simulated time source.
type Clock interface {
	UniversalTime() float64
	TimeAt(ut float64) time.Time
	Warp() float64
}

// Engine describes the scheduler for the metadata message.
type Engine interface {
	Stats() substep.Stats
}

// Handler manages SSE and WebSocket streaming connections. Both transports
// share the connection limits.
type Handler struct {
	envs     Environments
	clock    Clock
	engine   Engine
	config   Config
	slots    *slots
	upgrader websocket.Upgrader
	clientIP func(*http.Request) string
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler. clientIP identifies the remote
// peer for the per-IP limit.
func NewHandler(envs Environments, clock Clock, engine Engine, config Config, clientIP func(*http.Request) string, logger *slog.Logger) *Handler {
	return &Handler{
		envs:     envs,
		clock:    clock,
		engine:   engine,
		config:   config,
		slots:    newSlots(config.MaxConcurrentPerIP, config.MaxTotal),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		clientIP: clientIP,
		logger:   logger,
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseQuery reads period_ms and vessel. msg is non-empty when the query is
// invalid.
func (h *Handler) parseQuery(r *http.Request) (period time.Duration, only *uuid.UUID, msg string) {
	period = h.config.Period
	if v := r.URL.Query().Get("period_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 60000 {
			return 0, nil, "invalid period_ms parameter, must be 100-60000"
		}
		period = time.Duration(n) * time.Millisecond
	}
	if v := r.URL.Query().Get("vessel"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return 0, nil, "invalid vessel parameter"
		}
		only = &id
	}
	return period, only, ""
}

// admit claims a connection slot and answers 429 when none is left.
func (h *Handler) admit(w http.ResponseWriter, ip string) (release func(), ok bool) {
	if release, ok = h.slots.take(ip); ok {
		return release, true
	}
	metrics.IncStreamErrors("rate_limit")
	h.logger.Warn("stream rate limit exceeded",
		"remote_ip", ip,
		"current_count", h.slots.held(ip),
		"total", h.slots.total(),
	)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "30")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
	return nil, false
}

// track records an admitted connection. The returned func ends it and frees
// its slot.
func (h *Handler) track(r *http.Request, ip, transport string, period time.Duration, release func()) func() {
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"transport", transport,
		"user_agent", r.Header.Get("User-Agent"),
		"period_ms", period.Milliseconds(),
	)
	return func() {
		release()
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"transport", transport,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}
}

// ServeHTTP serves the SSE environment stream.
// GET /api/v1/stream?period_ms=1000&vessel=<uuid>
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	period, only, msg := h.parseQuery(r)
	if msg != "" {
		badRequest(w, msg)
		return
	}

	ip := h.clientIP(r)
	release, ok := h.admit(w, ip)
	if !ok {
		return
	}
	defer h.track(r, ip, "sse", period, release)()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry (3-7s) spreads reconnections after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	out := &sseSink{w: w, flusher: flusher, rc: rc, logger: h.logger}
	h.pump(r.Context(), out, ip, period, only, nil, nil)
}

// pump sends the metadata message, then the environments every period with
// keep-alives in between. It returns when ctx ends, done is closed or a write
// fails. filters carries vessel filter changes and may be nil.
func (h *Handler) pump(ctx context.Context, out sink, ip string, period time.Duration, only *uuid.UUID, filters <-chan *uuid.UUID, done <-chan struct{}) {
	if err := out.send(h.metadata()); err != nil {
		h.sendFailed(ip, "metadata", err)
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-done:
			return

		case only = <-filters:
			h.logger.Debug("stream filter changed", "remote_ip", ip, "all", only == nil)

		case <-ticker.C:
			if err := out.send(h.environments(only)); err != nil {
				h.sendFailed(ip, "environments", err)
				return
			}

		case <-keepalive.C:
			if err := out.keepalive(); err != nil {
				h.sendFailed(ip, "keepalive", err)
				return
			}
		}
	}
}

func (h *Handler) sendFailed(ip, message string, err error) {
	metrics.IncStreamErrors("send_error")
	h.logger.Warn("stream send error", "remote_ip", ip, "message", message, "error", err)
}

func (h *Handler) metadata() metadataMessage {
	st := h.engine.Stats()
	return metadataMessage{
		Type:           "metadata",
		Epoch:          h.clock.TimeAt(0).UTC().Format(time.RFC3339),
		Interval:       st.Interval,
		LookaheadSteps: st.LookaheadSteps,
	}
}

func (h *Handler) environments(only *uuid.UUID) environmentsMessage {
	ut := h.clock.UniversalTime()
	msg := environmentsMessage{
		Type: "environments",
		UT:   ut,
		Time: h.clock.TimeAt(ut).UTC().Format(time.RFC3339),
		Warp: h.clock.Warp(),
	}
	if only != nil {
		msg.Vessels = []irradiance.Environment{}
		if env, ok := h.envs.Environment(*only); ok {
			msg.Vessels = append(msg.Vessels, env)
		}
		return msg
	}
	msg.Vessels = h.envs.Snapshot()
	return msg
}

// Message payload types, shared by both transports.

type metadataMessage struct {
	Type           string  `json:"type"`
	Epoch          string  `json:"epoch"`
	Interval       float64 `json:"interval"`
	LookaheadSteps int     `json:"lookahead_steps"`
}

type environmentsMessage struct {
	Type    string                   `json:"type"`
	UT      float64                  `json:"ut"`
	Time    string                   `json:"time"`
	Warp    float64                  `json:"warp"`
	Vessels []irradiance.Environment `json:"vessels"`
}
