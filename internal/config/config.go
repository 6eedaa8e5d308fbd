// Package config loads the service configuration: an optional YAML file
// layered with SUBSTEP_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/substep/internal/stream"
	"github.com/star/substep/internal/substep"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Scheduler substep.Config  `yaml:"scheduler"`
	Server    ServerConfig    `yaml:"server"`
	Tick      TickConfig      `yaml:"tick"`
	World     WorldConfig     `yaml:"world"`
	TLE       TLEConfig       `yaml:"tle"`
	SentryDSN string          `yaml:"sentry_dsn"`
	StatsView StatsViewConfig `yaml:"statsview"`
}

// ServerConfig configures the HTTP status surface.
type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	TrustProxy bool          `yaml:"trust_proxy"`
	Auth       AuthConfig    `yaml:"auth"`
	Stream     stream.Config `yaml:"stream"`
}

// AuthConfig guards the world control endpoints with a bearer token.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// TickConfig drives the main tick of the sandbox world.
type TickConfig struct {
	Period time.Duration `yaml:"period"` // real time between main ticks
	Warp   float64       `yaml:"warp"`   // initial time acceleration
	Paused bool          `yaml:"paused"`
}

// WorldConfig selects the system definition. An empty SystemFile uses the
// built-in solar system.
type WorldConfig struct {
	SystemFile string `yaml:"system_file"`
}

// TLEConfig adds NORAD catalog objects as vessels. Disabled when Source is
// empty.
type TLEConfig struct {
	Source string   `yaml:"source"`
	Extra  []string `yaml:"extra"`
	Body   string   `yaml:"body"` // body the objects orbit
}

// StatsViewConfig enables the runtime statistics viewer.
type StatsViewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Scheduler: substep.DefaultConfig(),
		Server: ServerConfig{
			Addr:   ":8080",
			Stream: stream.DefaultConfig(),
		},
		Tick: TickConfig{
			Period: 20 * time.Millisecond,
			Warp:   1,
		},
		TLE: TLEConfig{
			Body: "Earth",
		},
		StatsView: StatsViewConfig{
			Addr: "localhost:18066",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, logger); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logger.Info("config loaded",
		"file", path,
		"addr", cfg.Server.Addr,
		"interval", cfg.Scheduler.Interval,
		"max_lookahead_steps", cfg.Scheduler.MaxLookaheadSteps,
		"tick_period_ms", cfg.Tick.Period.Milliseconds(),
		"warp", cfg.Tick.Warp,
		"system_file", cfg.World.SystemFile,
		"tle_source", cfg.TLE.Source,
		"auth_enabled", cfg.Server.Auth.Enabled,
		"sentry", cfg.SentryDSN != "",
	)
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the values no component can recover from.
func (c Config) Validate() error {
	var problems []string
	if c.Scheduler.Interval <= 0 {
		problems = append(problems, "scheduler.interval must be positive")
	}
	if c.Scheduler.MaxLookaheadSteps < 0 {
		problems = append(problems, "scheduler.max_lookahead_steps must not be negative")
	}
	if c.Scheduler.LockTimeout < 0 {
		problems = append(problems, "scheduler.lock_timeout must not be negative")
	}
	if c.Tick.Period <= 0 {
		problems = append(problems, "tick.period must be positive")
	}
	if c.Tick.Warp < 0 {
		problems = append(problems, "tick.warp must not be negative")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.Stream.MaxConcurrentPerIP < 1 || c.Server.Stream.KeepaliveInterval <= 0 || c.Server.Stream.Period <= 0 {
		problems = append(problems, "server.stream limits must be positive")
	}
	if c.Server.Auth.Enabled && c.Server.Auth.Token == "" {
		problems = append(problems, "server.auth.token is required when auth is enabled")
	}
	if c.TLE.Source != "" && c.TLE.Body == "" {
		problems = append(problems, "tle.body is required with tle.source")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// applyEnv overrides cfg from SUBSTEP_* variables. Unparseable numbers are
// logged and ignored; an unparseable auth switch is an error.
func applyEnv(cfg *Config, logger *slog.Logger) error {
	loadSchedulerEnv(&cfg.Scheduler, logger)
	loadTickEnv(&cfg.Tick, logger)
	if err := loadServerEnv(&cfg.Server, logger); err != nil {
		return err
	}

	if v := os.Getenv("SUBSTEP_SYSTEM_FILE"); v != "" {
		cfg.World.SystemFile = v
	}
	if v := os.Getenv("SUBSTEP_TLE_SOURCE"); v != "" {
		cfg.TLE.Source = v
	}
	if v := os.Getenv("SUBSTEP_TLE_EXTRA"); v != "" {
		cfg.TLE.Extra = splitList(v)
	}
	if v := os.Getenv("SUBSTEP_TLE_BODY"); v != "" {
		cfg.TLE.Body = v
	}
	if v := os.Getenv("SUBSTEP_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if v := os.Getenv("SUBSTEP_STATSVIEW_ADDR"); v != "" {
		cfg.StatsView.Enabled = true
		cfg.StatsView.Addr = v
	}
	return nil
}

func loadSchedulerEnv(cfg *substep.Config, logger *slog.Logger) {
	if v := os.Getenv("SUBSTEP_INTERVAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			logger.Warn("invalid SUBSTEP_INTERVAL value, using default", "value", v, "default", cfg.Interval)
		} else {
			cfg.Interval = f
		}
	}

	if v := os.Getenv("SUBSTEP_LOOKAHEAD_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid SUBSTEP_LOOKAHEAD_STEPS value, using default", "value", v, "default", cfg.MaxLookaheadSteps)
		} else {
			cfg.MaxLookaheadSteps = n
		}
	}

	if v := os.Getenv("SUBSTEP_LOCK_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid SUBSTEP_LOCK_TIMEOUT_MS value, using default", "value", v, "default", cfg.LockTimeout.Milliseconds())
		} else {
			cfg.LockTimeout = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("SUBSTEP_RECOMPUTE_LOADED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid SUBSTEP_RECOMPUTE_LOADED value, using default", "value", v, "default", cfg.RecomputeLoaded)
		} else {
			cfg.RecomputeLoaded = b
		}
	}
}

func loadTickEnv(cfg *TickConfig, logger *slog.Logger) {
	if v := os.Getenv("SUBSTEP_TICK_PERIOD_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SUBSTEP_TICK_PERIOD_MS value, using default", "value", v, "default", cfg.Period.Milliseconds())
		} else {
			cfg.Period = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("SUBSTEP_WARP"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid SUBSTEP_WARP value, using default", "value", v, "default", cfg.Warp)
		} else {
			cfg.Warp = f
		}
	}
}

func loadServerEnv(cfg *ServerConfig, logger *slog.Logger) error {
	if v := os.Getenv("SUBSTEP_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	if v := os.Getenv("SUBSTEP_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid SUBSTEP_TRUST_PROXY value, defaulting to false", "value", v)
			b = false
		}
		cfg.TrustProxy = b
	}

	if v := os.Getenv("SUBSTEP_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: SUBSTEP_AUTH_ENABLED must be a boolean value (true/false/1/0)", ErrInvalid)
		}
		cfg.Auth.Enabled = enabled
	}
	if v := os.Getenv("SUBSTEP_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
