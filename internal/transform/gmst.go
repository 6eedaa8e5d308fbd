package transform

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// JulianDate converts a time.Time (UTC) to Julian Date.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour()) + float64(t.Minute())/60.0 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600.0

	// Jan/Feb count as months 13/14 of the previous year.
	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5 + h/24.0
}

// SiderealAngle returns Greenwich Mean Sidereal Time at t as an angle in
// degrees, normalized to [0, 360). IAU-82 model (Vallado Eq 3-47).
//
// The sandbox world uses it as the initial rotation of an Earth-like body so
// that TLE-defined vessels see the ground rotate consistently with SGP4.
func SiderealAngle(t time.Time) float64 {
	tUT1 := (JulianDate(t) - j2000) / 36525.0

	// seconds of time; 876600h = 3155760000 s
	sec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	return NormalizeDegrees(sec / 240.0) // 86400 s ↔ 360°
}

// NormalizeDegrees maps an angle to [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	return deg
}
