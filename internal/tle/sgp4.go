package tle

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	satellite "github.com/joshuaferrara/go-satellite"
)

// Tracker propagates one entry with SGP4. Positions are TEME, relative to
// the Earth's center, in meters.
//
// Propagate takes the satellite by value, so SGP4 error codes never reach
// the caller; failures are detected from the output instead.
type Tracker struct {
	sat     satellite.Satellite
	noradID int
	epoch   time.Time
}

// NewTracker initializes SGP4 for e. epoch is the wall-clock instant of
// simulated time 0.
func NewTracker(e Entry, epoch time.Time) (*Tracker, error) {
	if err := validateLines(e.Line1, e.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}
	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return &Tracker{sat: sat, noradID: e.NORADID, epoch: epoch}, nil
}

// NORADID returns the catalog number being tracked.
func (t *Tracker) NORADID() int { return t.noradID }

// Track implements world.Tracker. SGP4 is sampled at whole seconds.
func (t *Tracker) Track(ut float64) (mgl64.Vec3, error) {
	at := t.epoch.Add(time.Duration(ut * float64(time.Second))).UTC()
	pos, _ := satellite.Propagate(t.sat, at.Year(), int(at.Month()), at.Day(), at.Hour(), at.Minute(), at.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return mgl64.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", t.noradID)
	}
	// below the surface or beyond the Moon means SGP4 has diverged
	km := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if km < 6200 || km > 400000 {
		return mgl64.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", t.noradID, km)
	}
	return mgl64.Vec3{pos.X * 1000, pos.Y * 1000, pos.Z * 1000}, nil
}
