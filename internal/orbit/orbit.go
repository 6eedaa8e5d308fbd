// Package orbit implements two-body Keplerian propagation: a pure mapping
// from orbital elements and time to a position relative to the parent body.
package orbit

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Elements is a snapshot of one orbit's defining elements. Angles are in
// degrees except the mean anomaly, which is in radians like the host reports it.
type Elements struct {
	Inclination         float64 `yaml:"inclination"`
	Eccentricity        float64 `yaml:"eccentricity"`
	SemiMajorAxis       float64 `yaml:"semi_major_axis"` // meters, negative for hyperbolic orbits
	LAN                 float64 `yaml:"lan"`
	ArgumentOfPeriapsis float64 `yaml:"argument_of_periapsis"`
	MeanAnomalyAtEpoch  float64 `yaml:"mean_anomaly_at_epoch"`
	Epoch               float64 `yaml:"epoch"` // simulated seconds
	ReferenceBody       int     `yaml:"reference_body"`
}

// Hyperbolic reports whether the orbit is open.
func (e Elements) Hyperbolic() bool {
	return e.Eccentricity >= 1.0
}

// MeanMotion returns the mean angular rate in rad/s around a parent of
// gravitational parameter mu.
func (e Elements) MeanMotion(mu float64) float64 {
	a := math.Abs(e.SemiMajorAxis)
	if a == 0 || mu <= 0 {
		return 0
	}
	return math.Sqrt(mu / (a * a * a))
}

// Period returns the orbital period in seconds, or +Inf for open orbits.
func (e Elements) Period(mu float64) float64 {
	n := e.MeanMotion(mu)
	if e.Hyperbolic() || n == 0 {
		return math.Inf(1)
	}
	return 2 * math.Pi / n
}

// SemiLatusRectum returns a(1-e²), positive for both conic families.
func (e Elements) SemiLatusRectum() float64 {
	return e.SemiMajorAxis * (1 - e.Eccentricity*e.Eccentricity)
}

// Basis returns the perifocal axes in the parent's inertial frame: P toward
// periapsis, Q 90° ahead in the direction of motion, W the orbit normal.
func (e Elements) Basis() (p, q, w mgl64.Vec3) {
	rot := mgl64.Rotate3DZ(mgl64.DegToRad(e.LAN)).
		Mul3(mgl64.Rotate3DX(mgl64.DegToRad(e.Inclination))).
		Mul3(mgl64.Rotate3DZ(mgl64.DegToRad(e.ArgumentOfPeriapsis)))
	return rot.Col(0), rot.Col(1), rot.Col(2)
}

// MeanAnomalyAt returns the mean anomaly at simulated time t.
func (e Elements) MeanAnomalyAt(mu, t float64) float64 {
	return e.MeanAnomalyAtEpoch + e.MeanMotion(mu)*(t-e.Epoch)
}

// TrueAnomalyAt returns the true anomaly in radians at simulated time t.
func (e Elements) TrueAnomalyAt(mu, t float64) float64 {
	m := e.MeanAnomalyAt(mu, t)
	ecc := e.Eccentricity
	if e.Hyperbolic() {
		h := SolveHyperbolicAnomaly(m, ecc)
		return 2 * math.Atan(math.Sqrt((ecc+1)/(ecc-1))*math.Tanh(h/2))
	}
	m = math.Mod(m, 2*math.Pi)
	ea := SolveEccentricAnomaly(m, ecc)
	return 2 * math.Atan2(math.Sqrt(1+ecc)*math.Sin(ea/2), math.Sqrt(1-ecc)*math.Cos(ea/2))
}

// Position returns the position relative to the parent body at simulated
// time t, in the parent's inertial frame (meters).
func Position(e Elements, mu, t float64) mgl64.Vec3 {
	nu := e.TrueAnomalyAt(mu, t)
	cosNu, sinNu := math.Cos(nu), math.Sin(nu)
	r := e.SemiLatusRectum() / (1 + e.Eccentricity*cosNu)
	p, q, _ := e.Basis()
	return p.Mul(r * cosNu).Add(q.Mul(r * sinNu))
}

const (
	solverTolerance = 1e-12
	solverMaxIter   = 50
)

// SolveEccentricAnomaly solves Kepler's equation M = E - e·sin(E) for an
// elliptic orbit with Newton iterations.
func SolveEccentricAnomaly(m, ecc float64) float64 {
	if ecc < 1e-10 {
		return m
	}
	ea := m
	if ecc > 0.8 {
		ea = math.Pi
	}
	for i := 0; i < solverMaxIter; i++ {
		d := (ea - ecc*math.Sin(ea) - m) / (1 - ecc*math.Cos(ea))
		ea -= d
		if math.Abs(d) < solverTolerance {
			break
		}
	}
	return ea
}

// SolveHyperbolicAnomaly solves M = e·sinh(H) - H for an open orbit.
func SolveHyperbolicAnomaly(m, ecc float64) float64 {
	h := math.Asinh(m / ecc)
	for i := 0; i < solverMaxIter; i++ {
		d := (ecc*math.Sinh(h) - h - m) / (ecc*math.Cosh(h) - 1)
		h -= d
		if math.Abs(d) < solverTolerance {
			break
		}
	}
	return h
}
