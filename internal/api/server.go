// Package api serves the HTTP status and control surface of the engine.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/star/substep/internal/config"
	"github.com/star/substep/internal/health"
	"github.com/star/substep/internal/irradiance"
	"github.com/star/substep/internal/metrics"
	"github.com/star/substep/internal/stream"
	"github.com/star/substep/internal/substep"
	"github.com/star/substep/internal/world"
)

// Engine is the scheduler view the API reads.
type Engine interface {
	Alive() bool
	Stats() substep.Stats
	Vessels() []substep.VesselInfo
	Vessel(id uuid.UUID) (substep.VesselInfo, bool)
}

// World is the sandbox view the API reads and controls.
type World interface {
	UniversalTime() float64
	TimeAt(ut float64) time.Time
	Running() bool
	SetRunning(running bool)
	Warp() float64
	MaxWarpRate() float64
	SetWarp(rate float64) error
	Bodies() []world.BodyState
	Vessels() []world.VesselState
}

// Environments exposes the accumulated vessel environments.
type Environments interface {
	Snapshot() []irradiance.Environment
	Environment(id uuid.UUID) (irradiance.Environment, bool)
}

// Options holds the server dependencies. Without Environments the vessel
// routes carry no environment and no stream is served.
type Options struct {
	Auth         config.AuthConfig
	TrustProxy   bool
	Stream       stream.Config
	Engine       Engine
	World        World
	Environments Environments
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newHandler(logger, opts),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(logger *slog.Logger, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(opts.Engine.Alive))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/scheduler/stats", statsHandler(opts.Engine))
	// listings grow with the vessel count
	mux.Handle("GET /api/v1/vessels", gzhttp.GzipHandler(vesselsHandler(opts.Engine, opts.Environments)))
	mux.HandleFunc("GET /api/v1/vessels/{id}", vesselHandler(opts.Engine, opts.Environments))
	mux.Handle("GET /api/v1/world", gzhttp.GzipHandler(worldHandler(opts.World)))
	mux.HandleFunc("PUT /api/v1/world/warp", warpHandler(logger, opts.World))
	mux.HandleFunc("PUT /api/v1/world/running", runningHandler(logger, opts.World))
	if opts.Environments != nil {
		ip := func(r *http.Request) string { return clientIP(r, opts.TrustProxy) }
		sh := stream.NewHandler(opts.Environments, opts.World, opts.Engine, opts.Stream, ip, logger)
		mux.Handle("GET /api/v1/stream", sh)
		mux.HandleFunc("GET /api/v1/stream/ws", sh.WebSocket)
	}

	// metrics -> logging -> auth -> mux
	var handler http.Handler = mux
	handler = authMiddleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}
