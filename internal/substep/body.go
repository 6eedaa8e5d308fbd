package substep

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/substep/internal/transform"
	"github.com/star/substep/internal/world"
)

// BodyPredictor caches one massive body's position for the worker. It keeps
// two caches: the position at the latest produced step, which nearly every
// query asks for, and a single slot keyed by an arbitrary time for catch-up.
type BodyPredictor struct {
	Index           int
	Name            string
	Radius          float64
	GravParameter   float64
	Albedo          float64
	CoreThermalFlux float64
	Star            bool
	Luminosity      float64
	Atmosphere      *world.Atmosphere
	ReferenceBody   int

	state  world.BodyState
	bodies []*BodyPredictor
	orbit  *OrbitPredictor

	// host snapshot taken on the main tick, applied by the next Update
	pending    world.BodyState
	hasPending bool

	hostPosition mgl64.Vec3
	ref          transform.Frame
	invRot       float64

	latest    Marker
	hasLatest bool
	lastValid bool
	lastPos   mgl64.Vec3
	lastFrame transform.Frame

	cacheValid  bool
	cachedUT    float64
	cachedPos   mgl64.Vec3
	cachedFrame transform.Frame
}

// newBodyPredictor builds a predictor. bodies is the scheduler's full body
// slice, used to resolve the parent.
func newBodyPredictor(state world.BodyState, bodies []*BodyPredictor) *BodyPredictor {
	b := &BodyPredictor{
		Index:           state.Index,
		Name:            state.Name,
		Radius:          state.Radius,
		GravParameter:   state.GravParameter,
		Albedo:          state.Albedo,
		CoreThermalFlux: state.CoreThermalFlux,
		Star:            state.Star,
		Luminosity:      state.Luminosity,
		Atmosphere:      state.Atmosphere,
		ReferenceBody:   state.ReferenceBody,
		bodies:          bodies,
		ref:             transform.Identity(),
	}
	b.apply(state)
	return b
}

// Parent returns the predictor of the body this one orbits, itself for the
// root.
func (b *BodyPredictor) Parent() *BodyPredictor {
	return b.bodies[b.ReferenceBody]
}

// IsRoot reports whether the body has no orbit of its own.
func (b *BodyPredictor) IsRoot() bool { return b.orbit == nil }

// CanRotate reports whether the body has a rotating frame.
func (b *BodyPredictor) CanRotate() bool { return b.state.CanRotate() }

// Orbit returns the orbit snapshot, nil for the root.
func (b *BodyPredictor) Orbit() *OrbitPredictor { return b.orbit }

// Sync records the host's snapshot of the body and the current reference
// frame. Main tick, under the scheduler lock.
func (b *BodyPredictor) Sync(state world.BodyState, ref transform.Frame, inverseRotAngle float64) {
	b.pending = state
	b.hasPending = true
	b.ref = ref
	b.invRot = inverseRotAngle
}

// Update applies the pending host snapshot and moves the hot cache to m.
// The position itself is computed on first use, so bodies can be updated in
// any order relative to their parents. Worker, under the scheduler lock.
func (b *BodyPredictor) Update(m *Marker) {
	if b.hasPending {
		b.apply(b.pending)
		b.hasPending = false
		b.cacheValid = false
	}
	b.latest = *m
	b.hasLatest = true
	b.lastValid = false
}

func (b *BodyPredictor) apply(state world.BodyState) {
	b.state = state
	b.hostPosition = state.Position
	if state.Root() {
		b.orbit = nil
		return
	}
	parent := b.bodies[state.ReferenceBody]
	if parent == nil {
		// parent not built yet; Init links orbits once every body exists
		return
	}
	if b.orbit == nil {
		b.orbit = newOrbitPredictor(*state.Orbit, parent)
	} else {
		b.orbit.update(*state.Orbit, parent)
	}
}

// reference returns the celestial frame and inverse rotation angle used for
// arbitrary-time queries: the latest step's when one exists.
func (b *BodyPredictor) reference() (transform.Frame, float64) {
	if b.hasLatest {
		return b.latest.Frame, b.latest.InverseRotAngle
	}
	return b.ref, b.invRot
}

// Position returns the position at the latest produced step.
func (b *BodyPredictor) Position() mgl64.Vec3 {
	if !b.hasLatest {
		return b.hostPosition
	}
	if !b.lastValid {
		if b.orbit == nil {
			b.lastPos = b.hostPosition
		} else {
			b.lastPos = b.orbit.Position()
		}
		b.lastFrame = b.state.FrameAt(b.latest.UT, b.latest.InverseRotAngle, b.latest.Frame)
		b.lastValid = true
	}
	return b.lastPos
}

// PositionAt returns the position at ut, recomputing only when ut differs
// from the previous arbitrary-time query.
func (b *BodyPredictor) PositionAt(ut float64) mgl64.Vec3 {
	b.checkCache(ut)
	return b.cachedPos
}

func (b *BodyPredictor) positionAt(ut float64, latest bool) mgl64.Vec3 {
	if latest {
		return b.Position()
	}
	return b.PositionAt(ut)
}

// SurfacePosition returns the world position of ground coordinates at ut.
func (b *BodyPredictor) SurfacePosition(lat, lon, alt, ut float64, latest bool) mgl64.Vec3 {
	offset := b.state.SurfaceOffset(lat, lon, alt)
	if latest {
		pos := b.Position()
		return b.lastFrame.LocalToWorld(offset).Add(pos)
	}
	b.checkCache(ut)
	return b.cachedFrame.LocalToWorld(offset).Add(b.cachedPos)
}

func (b *BodyPredictor) checkCache(ut float64) {
	if b.cacheValid && ut == b.cachedUT {
		return
	}
	if b.orbit == nil {
		b.cachedPos = b.hostPosition
	} else {
		b.cachedPos = b.orbit.PositionAt(ut)
	}
	frame, invRot := b.reference()
	b.cachedFrame = b.state.FrameAt(ut, invRot, frame)
	b.cachedUT = ut
	b.cacheValid = true
}
