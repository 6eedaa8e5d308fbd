package substep

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
	"github.com/star/substep/internal/world"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	sunIndex = iota
	earthIndex
	moonIndex
)

const (
	sunMu       = 1.32712440018e20
	earthMu     = 3.986004418e14
	earthOrbit  = 1.496e11
	sunLum      = 3.828e26
	earthRadius = 6.371e6
)

// fakeWorld is a scriptable Provider.
type fakeWorld struct {
	mu      sync.Mutex
	running bool
	ut      float64
	maxWarp float64
	bodies  []world.BodyState
	vessels []world.VesselState
}

func newFakeWorld(ut float64) *fakeWorld {
	return &fakeWorld{
		running: true,
		ut:      ut,
		maxWarp: 100000,
		bodies: []world.BodyState{
			{
				Index:         sunIndex,
				Name:          "Sun",
				Radius:        6.957e8,
				GravParameter: sunMu,
				Star:          true,
				Luminosity:    sunLum,
				ReferenceBody: sunIndex,
			},
			{
				Index:           earthIndex,
				Name:            "Earth",
				Radius:          earthRadius,
				GravParameter:   earthMu,
				Albedo:          0.3,
				CoreThermalFlux: 0.087,
				ReferenceBody:   sunIndex,
				Orbit:           &orbit.Elements{SemiMajorAxis: earthOrbit, ReferenceBody: sunIndex},
			},
			{
				Index:         moonIndex,
				Name:          "Moon",
				Radius:        1.7374e6,
				GravParameter: 4.9048695e12,
				Albedo:        0.12,
				ReferenceBody: earthIndex,
				Orbit:         &orbit.Elements{SemiMajorAxis: 3.844e8, ReferenceBody: earthIndex},
			},
		},
	}
}

func (w *fakeWorld) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *fakeWorld) UniversalTime() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ut
}

func (w *fakeWorld) MaxWarpRate() float64 { return w.maxWarp }

func (w *fakeWorld) ReferenceFrame() (transform.Frame, float64) {
	return transform.Identity(), 0
}

func (w *fakeWorld) Bodies() []world.BodyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.BodyState(nil), w.bodies...)
}

func (w *fakeWorld) Vessels() []world.VesselState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.VesselState(nil), w.vessels...)
}

func (w *fakeWorld) setUT(ut float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ut = ut
}

func (w *fakeWorld) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
}

func (w *fakeWorld) addVessel(v world.VesselState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vessels = append(w.vessels, v)
}

func (w *fakeWorld) updateVessel(id uuid.UUID, fn func(v *world.VesselState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.vessels {
		if w.vessels[i].ID == id {
			fn(&w.vessels[i])
		}
	}
}

func (w *fakeWorld) removeVessel(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.vessels {
		if w.vessels[i].ID == id {
			w.vessels = append(w.vessels[:i], w.vessels[i+1:]...)
			return
		}
	}
}

func leoVessel(name string, sma float64) world.VesselState {
	return world.VesselState{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		Name:      name,
		Simulated: true,
		MainBody:  earthIndex,
		Orbit:     &orbit.Elements{SemiMajorAxis: sma, ReferenceBody: earthIndex},
	}
}

func testConfig(lookahead int) Config {
	cfg := DefaultConfig()
	cfg.MaxLookaheadSteps = lookahead
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, w *fakeWorld, consumer Consumer) *Scheduler {
	t.Helper()
	s := New(cfg, w, consumer, testLogger)
	s.Init()
	return s
}

// drain runs worker iterations inline until the worker would go idle.
func drain(t *testing.T, s *Scheduler) int {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		worked, ok := s.workOnce(context.Background())
		require.True(t, ok)
		if !worked {
			return i
		}
	}
	t.Fatal("worker never went idle")
	return 0
}

func markerTimes(s *Scheduler) []float64 {
	var uts []float64
	for _, m := range s.env.markers.All() {
		uts = append(uts, m.UT)
	}
	return uts
}

func predictor(t *testing.T, s *Scheduler, id uuid.UUID) *VesselPredictor {
	t.Helper()
	v, ok := s.vessels.Get(id)
	require.True(t, ok, "vessel %s not tracked", id)
	return v
}

// recorder keeps the times of every consumed step per vessel.
type recorder struct {
	mu      sync.Mutex
	times   map[uuid.UUID][]float64
	removed []uuid.UUID
}

func newRecorder() *recorder {
	return &recorder{times: make(map[uuid.UUID][]float64)}
}

func (r *recorder) ConsumeSteps(id uuid.UUID, steps []*Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range steps {
		r.times[id] = append(r.times[id], s.UT)
	}
}

func (r *recorder) RemoveVessel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}
