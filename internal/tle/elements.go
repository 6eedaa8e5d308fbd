package tle

import (
	"fmt"
	"math"
	"time"

	"github.com/star/substep/internal/orbit"
)

// Elements converts the mean elements of e to Keplerian elements around a
// body of gravitational parameter mu. epoch is the wall-clock instant of
// simulated time 0. The result ignores drag and perturbations, which is what
// the predictors need; the tracker stays authoritative.
func Elements(e Entry, mu float64, epoch time.Time) (orbit.Elements, error) {
	m := e.Mean
	if m.MeanMotion <= 0 {
		return orbit.Elements{}, fmt.Errorf("NORAD %d: mean motion must be positive", e.NORADID)
	}
	if m.Eccentricity < 0 || m.Eccentricity >= 1 {
		return orbit.Elements{}, fmt.Errorf("NORAD %d: eccentricity %v is not elliptic", e.NORADID, m.Eccentricity)
	}
	return orbit.Elements{
		Inclination:         m.Inclination,
		LAN:                 m.RAAN,
		Eccentricity:        m.Eccentricity,
		ArgumentOfPeriapsis: m.ArgPerigee,
		MeanAnomalyAtEpoch:  m.MeanAnomaly * math.Pi / 180,
		SemiMajorAxis:       m.SemiMajorAxis(mu),
		Epoch:               e.Epoch.Sub(epoch).Seconds(),
	}, nil
}
