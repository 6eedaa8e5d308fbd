package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/spf13/cobra"

	"github.com/star/substep/internal/api"
	"github.com/star/substep/internal/config"
	"github.com/star/substep/internal/irradiance"
	"github.com/star/substep/internal/substep"
	"github.com/star/substep/internal/tle"
	"github.com/star/substep/internal/world"
)

var (
	configPath string // YAML config file, optional
	logLevel   string // slog level name
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:          "substep",
	Short:        "Background predictive orbital sub-stepping engine",
	SilenceUsage: true,
}

// runCmd drives a sandbox world with the engine and serves the status API
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sandbox world, the sub-stepping engine and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath, logger)
		if err != nil {
			logger.Error("invalid configuration", "error", err)
			return err
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

// validateCmd checks the configuration, the system definition and the TLE
// sources without starting anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration, system definition and TLE sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath, logger)
		if err != nil {
			return err
		}
		sb, err := buildWorld(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d bodies, %d vessels, lookahead %d steps of %gs\n",
			len(sb.Bodies()), len(sb.Vessels()),
			cfg.Scheduler.LookaheadSteps(sb.MaxWarpRate()), cfg.Scheduler.Interval)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SUBSTEP_CONFIG"), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}

// buildWorld loads the system definition into a sandbox and adds the TLE
// vessels when a source is configured.
func buildWorld(ctx context.Context, cfg config.Config, logger *slog.Logger) (*world.Sandbox, error) {
	sys, err := world.LoadSystem(cfg.World.SystemFile)
	if err != nil {
		return nil, err
	}
	sb := world.NewSandbox(sys, logger)
	if err := sb.SetWarp(cfg.Tick.Warp); err != nil {
		return nil, fmt.Errorf("tick.warp: %w", err)
	}
	sb.SetRunning(!cfg.Tick.Paused)

	if cfg.TLE.Source == "" {
		return sb, nil
	}
	idx, ok := sys.BodyIndex(cfg.TLE.Body)
	if !ok {
		return nil, fmt.Errorf("tle.body %q: no such body in system %s", cfg.TLE.Body, sys.Name)
	}
	ds, err := tle.Load(ctx, tle.NewFetcher(cfg.TLE.Source, logger, cfg.TLE.Extra...), logger)
	if err != nil {
		return nil, fmt.Errorf("loading TLE data: %w", err)
	}
	body := sb.Bodies()[idx]
	for _, v := range tle.Vessels(ds, body, sb.Epoch(), logger) {
		if err := sb.AddVessel(v.State, v.Tracker); err != nil {
			logger.Warn("skipping TLE vessel", "name", v.State.Name, "error", err)
		}
	}
	return sb, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return fmt.Errorf("initializing sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		logger.Info("sentry enabled")
	}

	if cfg.StatsView.Enabled {
		// set configurations before calling `statsview.New()` method
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(cfg.StatsView.Addr))
		mgr := statsview.New()
		go mgr.Start()
		defer mgr.Stop()
		logger.Info("statsview enabled", "addr", cfg.StatsView.Addr)
	}

	sb, err := buildWorld(ctx, cfg, logger)
	if err != nil {
		return err
	}
	envs := irradiance.NewAccumulator(logger)
	sched := substep.New(cfg.Scheduler, sb, envs, logger)

	srv := api.NewServer(cfg.Server.Addr, logger, api.Options{
		Auth:         cfg.Server.Auth,
		TrustProxy:   cfg.Server.TrustProxy,
		Stream:       cfg.Server.Stream,
		Engine:       sched,
		World:        sb,
		Environments: envs,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "auth_enabled", cfg.Server.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	tickErr := mainLoop(ctx, sb, sched, cfg.Tick.Period, errc)
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}
	if tickErr != nil {
		logger.Error("server listen error", "error", tickErr)
		return tickErr
	}
	logger.Info("server stopped")
	return nil
}

// mainLoop is the host's main tick: advance the world by the real elapsed
// time, then let the engine synchronize. It returns when ctx ends or errc
// delivers.
func mainLoop(ctx context.Context, sb *world.Sandbox, sched *substep.Scheduler, period time.Duration, errc <-chan error) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer sched.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case now := <-ticker.C:
			sb.Advance(now.Sub(last))
			last = now
			sched.OnMainTick(ctx)
		}
	}
}
