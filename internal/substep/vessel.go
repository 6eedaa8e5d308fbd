package substep

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/star/substep/internal/collections"
	"github.com/star/substep/internal/metrics"
	"github.com/star/substep/internal/world"
)

// env is the state a scheduler shares with its predictors. Everything in it
// is guarded by the scheduler lock.
type env struct {
	cfg     Config
	logger  *slog.Logger
	markers *collections.IndexedQueue[*Marker]
	bodies  []*BodyPredictor
	stars   []int
	steps   *collections.Pool[*Step]
}

func (e *env) releaseStep(s *Step) {
	if err := e.steps.Release(s.handle); err != nil {
		e.logger.Warn("step released twice", "ut", s.UT, "error", err)
	}
}

// VesselPredictor holds the predicted steps of one tracked vessel. steps.At(i)
// is the evaluation at markers.At(i); the queue never outgrows the markers.
type VesselPredictor struct {
	ID   uuid.UUID
	Name string

	env   *env
	orbit *OrbitPredictor

	landed       bool
	loaded       bool
	mainBody     int
	lat          float64
	lon          float64
	alt          float64
	hostPosition mgl64.Vec3

	steps    *collections.Deque[*Step]
	consumed []*Step

	queued  bool // in the catch-up queue
	fresh   bool
	removed bool
	seen    uint64 // last sync that saw the vessel

	// round-robin refresh of loaded vessels: the cursor survives across
	// ticks, the worker only clears pending
	recomputeCursor  int // last index scheduled, -1 before the first
	recomputePending bool
}

func newVesselPredictor(state world.VesselState, e *env, lookahead int) *VesselPredictor {
	v := &VesselPredictor{
		ID:            state.ID,
		env:           e,
		steps:           collections.NewDeque[*Step](lookahead),
		recomputeCursor: -1,
		fresh:           true,
	}
	v.apply(state)
	return v
}

// Len returns the number of queued steps.
func (v *VesselPredictor) Len() int { return v.steps.Len() }

// Landed reports whether the vessel is on the surface of its main body.
func (v *VesselPredictor) Landed() bool { return v.landed }

// MainBody returns the index of the body the vessel is bound to.
func (v *VesselPredictor) MainBody() int { return v.mainBody }

// Orbit returns the orbit snapshot, nil when landed or without trajectory.
func (v *VesselPredictor) Orbit() *OrbitPredictor { return v.orbit }

// Steps returns the queued steps, oldest first.
func (v *VesselPredictor) Steps() []*Step { return v.steps.ToSlice() }

// Update copies the host snapshot and consumes the steps whose markers the
// main tick has passed. It returns whether the vessel needs catch-up work.
// Main tick, under the scheduler lock.
func (v *VesselPredictor) Update(state world.VesselState, stepsToConsume int) bool {
	changed := v.apply(state)

	if v.fresh {
		// the markers left are all upcoming, nothing to consume yet
		v.fresh = false
		if v.steps.Len() == 0 && v.env.markers.Len() > 0 {
			v.steps.PushBack(v.computeAt(0))
		}
		return v.needsCatchUp()
	}

	if stepsToConsume > 0 {
		v.resetRecompute()
	}
	for i := 0; i < stepsToConsume; i++ {
		s, ok := v.steps.PopFront()
		if !ok {
			v.env.logger.Warn("simulation fell behind",
				"vessel", v.Name,
				"requested", stepsToConsume,
				"available", i,
			)
			metrics.IncBacklogWarnings()
			break
		}
		v.consumed = append(v.consumed, s)
	}

	if changed {
		metrics.IncOrbitChanges()
		if v.steps.Len() > 1 {
			dropped := v.steps.Truncate(1)
			for _, s := range dropped {
				v.env.releaseStep(s)
			}
			v.resetRecompute()
			v.env.logger.Debug("orbit changed, discarding predicted steps",
				"vessel", v.Name,
				"dropped", len(dropped),
			)
		}
	}

	if v.env.cfg.RecomputeLoaded && v.loaded && stepsToConsume == 0 && !changed && v.steps.Len() > 0 {
		v.recomputeCursor = (v.recomputeCursor + 1) % v.steps.Len()
		v.recomputePending = true
	}
	return v.needsCatchUp()
}

func (v *VesselPredictor) resetRecompute() {
	v.recomputeCursor = -1
	v.recomputePending = false
}

func (v *VesselPredictor) needsCatchUp() bool {
	return v.steps.Len() < v.env.markers.Len() || v.recomputePending
}

// apply copies the host snapshot and reports whether the trajectory changed
// discontinuously.
func (v *VesselPredictor) apply(s world.VesselState) bool {
	changed := s.MainBody != v.mainBody || s.Landed != v.landed
	v.Name = s.Name
	v.landed = s.Landed
	v.loaded = s.Loaded
	v.mainBody = s.MainBody
	v.lat = s.Latitude
	v.lon = s.Longitude
	v.alt = s.Altitude
	v.hostPosition = s.Position

	switch {
	case s.Landed || s.Orbit == nil:
		if v.orbit != nil {
			v.orbit = nil
			changed = true
		}
	case v.orbit == nil:
		v.orbit = newOrbitPredictor(*s.Orbit, v.env.bodies[s.MainBody])
		changed = true
	default:
		if v.orbit.update(*s.Orbit, v.env.bodies[s.MainBody]) {
			changed = true
		}
	}
	return changed
}

// ComputeNextStep evaluates the step for the marker just produced at index.
// Vessels with a gap before index are left to catch-up. Worker.
func (v *VesselPredictor) ComputeNextStep(index int) {
	if v.steps.Len() != index {
		return
	}
	v.steps.PushBack(v.computeAt(index))
}

// TryComputeMissingSteps evaluates one missing step, or refreshes the step
// scheduled for recompute when none is missing. It reports whether the
// vessel is caught up. Worker.
func (v *VesselPredictor) TryComputeMissingSteps() bool {
	n := v.steps.Len()
	if n < v.env.markers.Len() {
		v.steps.PushBack(v.computeAt(n))
		metrics.IncCatchupIncrements()
		return !v.needsCatchUp()
	}

	if i := v.recomputeCursor; v.recomputePending && i >= 0 && i < n {
		old := v.steps.At(i)
		v.steps.Set(i, v.computeAt(i))
		v.env.releaseStep(old)
	}
	v.recomputePending = false
	return true
}

// computeAt evaluates a new step at markers.At(i).
func (v *VesselPredictor) computeAt(i int) *Step {
	m := v.env.markers.At(i)
	latest := i == v.env.markers.Len()-1

	h, s := v.env.steps.Acquire()
	s.handle = h
	s.evaluate(stepInput{
		ut:        m.UT,
		latest:    latest,
		position:  v.positionAt(m.UT, latest),
		mainBody:  v.mainBody,
		landed:    v.landed,
		bodies:    v.env.bodies,
		stars:     v.env.stars,
		threshold: v.env.cfg.VisibilityThreshold,
	})
	return s
}

func (v *VesselPredictor) positionAt(ut float64, latest bool) mgl64.Vec3 {
	switch {
	case v.landed:
		return v.env.bodies[v.mainBody].SurfacePosition(v.lat, v.lon, v.alt, ut, latest)
	case v.orbit != nil:
		return v.orbit.positionAt(ut, latest)
	default:
		return v.hostPosition
	}
}

// release hands every queued step back to the pool. The predictor must not
// be used afterwards.
func (v *VesselPredictor) release() {
	for _, s := range v.steps.All() {
		v.env.releaseStep(s)
	}
	v.steps.Clear()
	v.removed = true
}
