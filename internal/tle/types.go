package tle

import (
	"math"
	"time"
)

// MeanElements are the SGP4 mean elements of line 2, in catalog units.
type MeanElements struct {
	Inclination  float64 // degrees
	RAAN         float64 // degrees
	Eccentricity float64
	ArgPerigee   float64 // degrees
	MeanAnomaly  float64 // degrees
	MeanMotion   float64 // revolutions per day
}

// Period is one revolution at the mean motion.
func (m MeanElements) Period() time.Duration {
	if m.MeanMotion <= 0 {
		return 0
	}
	return time.Duration(float64(24*time.Hour) / m.MeanMotion)
}

// SemiMajorAxis is the axis implied by the mean motion around a body of
// gravitational parameter mu, in meters.
func (m MeanElements) SemiMajorAxis(mu float64) float64 {
	n := m.MeanMotion * 2 * math.Pi / 86400
	return math.Cbrt(mu / (n * n))
}

// Entry is one catalog object with checked lines. The raw lines are kept for
// SGP4, the parsed elements seed the Keplerian predictor.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Mean    MeanElements
	Line1   string
	Line2   string
}

// staleAge is how far an element epoch may lie from simulated time 0 before
// the Keplerian prediction is considered unreliable.
const staleAge = 30 * 24 * time.Hour

// Dataset is every entry read from one source.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Entries   []Entry
}

// EpochSpan returns the oldest and newest element epoch, zero when empty.
func (d *Dataset) EpochSpan() (oldest, newest time.Time) {
	for i, e := range d.Entries {
		if i == 0 || e.Epoch.Before(oldest) {
			oldest = e.Epoch
		}
		if i == 0 || e.Epoch.After(newest) {
			newest = e.Epoch
		}
	}
	return oldest, newest
}

// Stale counts the entries whose epoch is more than staleAge away from at.
func (d *Dataset) Stale(at time.Time) int {
	n := 0
	for _, e := range d.Entries {
		if age := at.Sub(e.Epoch); age > staleAge || age < -staleAge {
			n++
		}
	}
	return n
}
