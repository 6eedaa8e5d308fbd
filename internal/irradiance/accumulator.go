// Package irradiance turns consumed sub-steps into per-vessel environment
// figures: the flux a vessel received over the last main tick and since it
// entered scope.
package irradiance

import (
	"log/slog"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"

	"github.com/star/substep/internal/metrics"
	"github.com/star/substep/internal/substep"
)

// Average is the mean of a run of steps. Fluxes are in W/m².
type Average struct {
	Steps          int     `json:"steps"`
	FromUT         float64 `json:"from_ut"`
	ToUT           float64 `json:"to_ut"`
	DirectFlux     float64 `json:"direct_flux"`
	IndirectFlux   float64 `json:"indirect_flux"`
	CoreFlux       float64 `json:"core_flux"`
	SunlitFraction float64 `json:"sunlit_fraction"`
}

type sums struct {
	steps                  int
	fromUT, toUT           float64
	direct, indirect, core float64
	sunlit                 int
}

func (s *sums) add(st *substep.Step) {
	if s.steps == 0 {
		s.fromUT = st.UT
	}
	s.steps++
	s.toUT = st.UT
	s.direct += st.DirectFlux()
	s.indirect += st.IndirectFlux()
	s.core += st.BodiesCoreIrradiance
	if st.Sunlit() {
		s.sunlit++
	}
}

func (s sums) average() Average {
	if s.steps == 0 {
		return Average{}
	}
	n := float64(s.steps)
	return Average{
		Steps:          s.steps,
		FromUT:         s.fromUT,
		ToUT:           s.toUT,
		DirectFlux:     s.direct / n,
		IndirectFlux:   s.indirect / n,
		CoreFlux:       s.core / n,
		SunlitFraction: float64(s.sunlit) / n,
	}
}

// Environment is the latest known environment of one vessel.
type Environment struct {
	ID       uuid.UUID `json:"id"`
	MainBody int       `json:"main_body"`
	Altitude float64   `json:"altitude"`
	Landed   bool      `json:"landed"`
	Sunlit   bool      `json:"sunlit"`
	// LastTick averages the steps delivered on the most recent tick that
	// delivered any.
	LastTick Average `json:"last_tick"`
	Total    Average `json:"total"`
}

type vesselEnv struct {
	env   Environment
	total sums
}

// Accumulator implements substep.Consumer and substep.VesselRemover. It
// copies what it needs out of the steps and never retains them. Safe for
// concurrent reads while the main tick delivers.
type Accumulator struct {
	mu      sync.RWMutex
	vessels *orderedmap.OrderedMap[uuid.UUID, *vesselEnv]
	logger  *slog.Logger
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	return &Accumulator{
		vessels: orderedmap.NewOrderedMap[uuid.UUID, *vesselEnv](),
		logger:  logger,
	}
}

// ConsumeSteps implements substep.Consumer.
func (a *Accumulator) ConsumeSteps(id uuid.UUID, steps []*substep.Step) {
	if len(steps) == 0 {
		return
	}
	var tick sums
	for _, st := range steps {
		tick.add(st)
	}
	last := steps[len(steps)-1]

	a.mu.Lock()
	v, ok := a.vessels.Get(id)
	if !ok {
		v = &vesselEnv{env: Environment{ID: id}}
		a.vessels.Set(id, v)
		a.logger.Debug("tracking vessel environment", "vessel", id)
	}
	for _, st := range steps {
		v.total.add(st)
	}
	v.env.MainBody = last.MainBody
	v.env.Altitude = last.Altitude
	v.env.Landed = last.Landed
	v.env.Sunlit = last.Sunlit()
	v.env.LastTick = tick.average()
	v.env.Total = v.total.average()
	direct := v.env.LastTick.DirectFlux
	a.mu.Unlock()

	metrics.SetVesselDirectFlux(id.String(), direct)
}

// RemoveVessel implements substep.VesselRemover.
func (a *Accumulator) RemoveVessel(id uuid.UUID) {
	a.mu.Lock()
	ok := a.vessels.Delete(id)
	a.mu.Unlock()
	if ok {
		metrics.DeleteVessel(id.String())
		a.logger.Debug("vessel environment dropped", "vessel", id)
	}
}

// Environment returns the environment of one vessel.
func (a *Accumulator) Environment(id uuid.UUID) (Environment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.vessels.Get(id)
	if !ok {
		return Environment{}, false
	}
	return v.env, true
}

// Snapshot returns every vessel's environment in first-delivery order.
func (a *Accumulator) Snapshot() []Environment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Environment, 0, a.vessels.Len())
	for el := a.vessels.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.env)
	}
	return out
}

// Len returns the number of vessels with an environment.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vessels.Len()
}
