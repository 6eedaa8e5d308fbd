package world

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
)

// Tracker supplies a vessel's authoritative position relative to its main
// body, in the body's inertial frame, at simulated time ut. Vessels without a
// tracker are placed from their orbital elements.
type Tracker interface {
	Track(ut float64) (mgl64.Vec3, error)
}

type sandboxVessel struct {
	state   VesselState
	tracker Tracker
}

// Sandbox is an in-memory Provider. The host loop advances it with Advance;
// everything else reads snapshots. Safe for concurrent use.
type Sandbox struct {
	mu sync.RWMutex

	epoch   time.Time
	ut      float64
	warp    float64
	maxWarp float64
	running bool

	frame           transform.Frame
	inverseRotAngle float64

	bodies  []BodyState
	vessels []*sandboxVessel
	byID    map[uuid.UUID]*sandboxVessel

	logger *slog.Logger
}

// NewSandbox builds a running sandbox at the system epoch, at 1x warp.
func NewSandbox(sys *System, logger *slog.Logger) *Sandbox {
	s := &Sandbox{
		epoch:   sys.Epoch,
		warp:    1,
		maxWarp: sys.MaxWarpRate,
		running: true,
		frame:   transform.Identity(),
		bodies:  sys.BodyStates(),
		byID:    make(map[uuid.UUID]*sandboxVessel),
		logger:  logger,
	}
	for _, v := range sys.VesselStates() {
		s.addLocked(v, nil)
	}
	s.refreshLocked()

	logger.Info("sandbox world initialized",
		"system", sys.Name,
		"epoch", sys.Epoch.UTC().Format(time.RFC3339),
		"bodies", len(s.bodies),
		"vessels", len(s.vessels),
		"max_warp", s.maxWarp,
	)
	return s
}

// Running implements Provider.
func (s *Sandbox) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// UniversalTime implements Provider.
func (s *Sandbox) UniversalTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ut
}

// MaxWarpRate implements Provider.
func (s *Sandbox) MaxWarpRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxWarp
}

// ReferenceFrame implements Provider.
func (s *Sandbox) ReferenceFrame() (transform.Frame, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.inverseRotAngle
}

// Bodies implements Provider. The returned slice is a copy.
func (s *Sandbox) Bodies() []BodyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BodyState, len(s.bodies))
	copy(out, s.bodies)
	return out
}

// Vessels implements Provider. The returned slice is a copy in insertion order.
func (s *Sandbox) Vessels() []VesselState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VesselState, len(s.vessels))
	for i, v := range s.vessels {
		out[i] = v.state
		if v.state.Orbit != nil {
			el := *v.state.Orbit
			out[i].Orbit = &el
		}
	}
	return out
}

// Tracked reports whether a vessel is still placed by its tracker.
func (s *Sandbox) Tracked(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	return ok && v.tracker != nil
}

// Vessel returns one vessel snapshot.
func (s *Sandbox) Vessel(id uuid.UUID) (VesselState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return VesselState{}, false
	}
	return v.state, true
}

// Epoch returns the wall-clock instant of UT 0.
func (s *Sandbox) Epoch() time.Time { return s.epoch }

// TimeAt converts simulated seconds to a wall-clock instant.
func (s *Sandbox) TimeAt(ut float64) time.Time {
	return s.epoch.Add(time.Duration(ut * float64(time.Second)))
}

// Warp returns the current time acceleration.
func (s *Sandbox) Warp() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warp
}

// SetWarp changes the time acceleration.
func (s *Sandbox) SetWarp(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate < 0 || rate > s.maxWarp || math.IsNaN(rate) {
		return fmt.Errorf("warp rate %g outside [0, %g]", rate, s.maxWarp)
	}
	s.warp = rate
	s.logger.Info("warp changed", "rate", rate)
	return nil
}

// SetRunning pauses or resumes simulated time.
func (s *Sandbox) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// SetReferenceFrame replaces the celestial reference frame.
func (s *Sandbox) SetReferenceFrame(f transform.Frame, inverseRotAngle float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
	s.inverseRotAngle = inverseRotAngle
	s.refreshLocked()
}

// Advance moves simulated time forward by real elapsed time times the warp
// rate. It does nothing while paused.
func (s *Sandbox) Advance(real time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.ut += real.Seconds() * s.warp
	s.refreshLocked()
}

// SetUniversalTime jumps to an absolute simulated time.
func (s *Sandbox) SetUniversalTime(ut float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ut = ut
	s.refreshLocked()
}

// AddVessel registers a vessel. tracker may be nil.
func (s *Sandbox) AddVessel(v VesselState, tracker Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[v.ID]; ok {
		return fmt.Errorf("vessel %s already exists", v.ID)
	}
	if v.MainBody < 0 || v.MainBody >= len(s.bodies) {
		return fmt.Errorf("vessel %s: main body %d out of range", v.ID, v.MainBody)
	}
	s.addLocked(v, tracker)
	s.refreshLocked()
	return nil
}

// RemoveVessel deletes a vessel from the world.
func (s *Sandbox) RemoveVessel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	for i, cur := range s.vessels {
		if cur == v {
			s.vessels = append(s.vessels[:i], s.vessels[i+1:]...)
			break
		}
	}
	return true
}

// SetSimulated moves a vessel in or out of the scope of interest.
func (s *Sandbox) SetSimulated(id uuid.UUID, simulated bool) bool {
	return s.mutate(id, func(v *sandboxVessel) {
		v.state.Simulated = simulated
	})
}

// SetOrbit replaces a vessel's trajectory, as a maneuver would. A different
// reference body moves the vessel to that body's sphere of influence.
func (s *Sandbox) SetOrbit(id uuid.UUID, el orbit.Elements) bool {
	return s.mutate(id, func(v *sandboxVessel) {
		v.state.Orbit = &el
		v.state.MainBody = el.ReferenceBody
		v.state.Landed = false
		v.tracker = nil
	})
}

// SetLanded puts a vessel on the ground of body.
func (s *Sandbox) SetLanded(id uuid.UUID, body int, lat, lon, alt float64) bool {
	return s.mutate(id, func(v *sandboxVessel) {
		v.state.Landed = true
		v.state.MainBody = body
		v.state.Latitude, v.state.Longitude, v.state.Altitude = lat, lon, alt
		v.state.Orbit = nil
		v.tracker = nil
	})
}

func (s *Sandbox) mutate(id uuid.UUID, fn func(v *sandboxVessel)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(v)
	s.refreshLocked()
	return true
}

func (s *Sandbox) addLocked(v VesselState, tracker Tracker) {
	sv := &sandboxVessel{state: v, tracker: tracker}
	s.vessels = append(s.vessels, sv)
	s.byID[v.ID] = sv
}

// refreshLocked recomputes every body and vessel position at the current UT.
func (s *Sandbox) refreshLocked() {
	positions := BodyPositions(s.bodies, s.ut, s.frame)
	for i := range s.bodies {
		s.bodies[i].Position = positions[i]
	}
	for _, v := range s.vessels {
		v.state.Position = s.vesselPositionLocked(v)
	}
}

func (s *Sandbox) vesselPositionLocked(v *sandboxVessel) mgl64.Vec3 {
	body := s.bodies[v.state.MainBody]
	if v.state.Landed {
		f := body.FrameAt(s.ut, s.inverseRotAngle, s.frame)
		return f.LocalToWorld(body.SurfaceOffset(v.state.Latitude, v.state.Longitude, v.state.Altitude)).Add(body.Position)
	}
	if v.tracker != nil {
		rel, err := v.tracker.Track(s.ut)
		if err == nil {
			return s.frame.WorldToLocal(rel).Add(body.Position)
		}
		s.logger.Warn("tracker failed, falling back to elements", "vessel", v.state.Name, "error", err)
		v.tracker = nil
	}
	if v.state.Orbit != nil {
		rel := orbit.Position(*v.state.Orbit, body.GravParameter, s.ut)
		return s.frame.WorldToLocal(rel).Add(body.Position)
	}
	return body.Position
}

// BodyPositions computes every body's world position at ut by walking the
// hierarchy from the root. Orbit positions are expressed in the reference
// frame before being offset by the parent position.
func BodyPositions(bodies []BodyState, ut float64, frame transform.Frame) []mgl64.Vec3 {
	out := make([]mgl64.Vec3, len(bodies))
	done := make([]bool, len(bodies))
	var resolve func(i, depth int) mgl64.Vec3
	resolve = func(i, depth int) mgl64.Vec3 {
		if done[i] {
			return out[i]
		}
		b := bodies[i]
		if b.Root() || depth > len(bodies) {
			out[i] = mgl64.Vec3{}
		} else {
			parent := resolve(b.ReferenceBody, depth+1)
			rel := orbit.Position(*b.Orbit, bodies[b.ReferenceBody].GravParameter, ut)
			out[i] = frame.WorldToLocal(rel).Add(parent)
		}
		done[i] = true
		return out[i]
	}
	for i := range bodies {
		resolve(i, 0)
	}
	return out
}
