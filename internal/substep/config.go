package substep

import (
	"math"
	"time"
)

// Config holds scheduler tuning.
type Config struct {
	Interval            float64       `yaml:"interval"`             // simulated seconds between two steps (default: 60)
	MaxLookaheadSteps   int           `yaml:"max_lookahead_steps"`  // fixed lookahead; 0 derives it from the host max warp rate
	FixedDeltaTime      float64       `yaml:"fixed_delta_time"`     // real seconds per host physics tick (default: 0.02)
	SafetyFactor        float64       `yaml:"safety_factor"`        // lookahead margin over one tick at max warp (default: 2)
	LockTimeout         time.Duration `yaml:"lock_timeout"`         // main tick lock wait (default: 1ms)
	WorkerBackoff       time.Duration `yaml:"worker_backoff"`       // idle worker sleep when not woken (default: 2ms)
	VisibilityThreshold float64       `yaml:"visibility_threshold"` // min apparent diameter in radians for occluders (default: 0.003)
	RecomputeLoaded     bool          `yaml:"recompute_loaded"`     // refresh one step per tick on loaded vessels when not warping
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:            60,
		FixedDeltaTime:      0.02,
		SafetyFactor:        2,
		LockTimeout:         time.Millisecond,
		WorkerBackoff:       2 * time.Millisecond,
		VisibilityThreshold: 0.003,
		RecomputeLoaded:     true,
	}
}

// LookaheadSteps returns how many steps the worker keeps ahead of the current
// time: enough to cover one host tick at the fastest warp rate, with margin.
func (c Config) LookaheadSteps(maxWarpRate float64) int {
	if c.MaxLookaheadSteps > 0 {
		return c.MaxLookaheadSteps
	}
	if c.Interval <= 0 {
		return 1
	}
	n := int(maxWarpRate * c.FixedDeltaTime * c.SafetyFactor / c.Interval)
	return max(n, 1)
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 || math.IsNaN(c.Interval) {
		c.Interval = d.Interval
	}
	if c.FixedDeltaTime <= 0 {
		c.FixedDeltaTime = d.FixedDeltaTime
	}
	if c.SafetyFactor <= 0 {
		c.SafetyFactor = d.SafetyFactor
	}
	if c.LockTimeout < 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.WorkerBackoff <= 0 {
		c.WorkerBackoff = d.WorkerBackoff
	}
	if c.VisibilityThreshold <= 0 {
		c.VisibilityThreshold = d.VisibilityThreshold
	}
	return c
}
