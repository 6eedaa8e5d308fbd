package substep

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/substep/internal/world"
)

const (
	// homeDensityASL is the sea level air density of the reference body in kg/m³.
	homeDensityASL = 1.225
	// insolationAtHome is the fraction of stellar flux absorbed by the
	// reference atmosphere at sea level.
	insolationAtHome = 0.15
)

// StellarFlux returns the flux in W/m² at distance meters from the center of
// a star of the given luminosity.
func StellarFlux(luminosity, distance float64) float64 {
	if distance <= 0 {
		return 0
	}
	return luminosity / (4 * math.Pi * distance * distance)
}

// solarPowerFactor returns the proportion of flux going through a column of
// air with the given density, scaled so the reference atmosphere absorbs
// insolationAtHome at sea level.
func solarPowerFactor(density float64) float64 {
	num := (1 - insolationAtHome) * homeDensityASL
	return num / (num + density*insolationAtHome)
}

// lightTransparency returns the proportion of flux coming along fluxDir that
// is not absorbed by the atmosphere above altitude. up is the local vertical.
// Non-refracting radially symmetrical atmosphere (Schoenberg 1929).
func lightTransparency(radius float64, atmo *world.Atmosphere, altitude float64, up, fluxDir mgl64.Vec3) float64 {
	if atmo == nil || atmo.Pressure(altitude) <= 0 {
		return 1
	}
	density := atmo.Density(altitude)
	ra := radius + altitude
	ya := atmo.Depth - altitude
	q := ra * math.Max(0, up.Dot(fluxDir))
	path := math.Sqrt(q*q+2*ra*ya+ya*ya) - q
	if path <= 0 {
		return 1
	}
	return solarPowerFactor(density) * ya / path
}

// geometricAlbedoFactor maps the [0,1] star-body-observer angle factor to the
// share of reflected flux. Reflection concentrates toward the star, more so
// on airless bodies; both curves integrate to 0.5 over [0,1].
func geometricAlbedoFactor(hasAtmosphere bool, angleFactor float64) float64 {
	if hasAtmosphere {
		return math.Pow(angleFactor*1.113, 1.3)
	}
	return math.Pow(angleFactor*1.225, 2)
}

// inAtmosphere reports whether altitude is below the body's atmosphere top.
func (b *BodyPredictor) inAtmosphere(altitude float64) bool {
	return b.Atmosphere != nil && altitude < b.Atmosphere.Depth
}

// indirectFlux returns the albedo and thermal re-emission flux of body at
// an observer altitude, assuming everything the disc intercepts from the star
// is reflected (over one hemisphere) or re-emitted (over the full sphere).
func indirectFlux(body *BodyPredictor, bodyPos, starPos, observer mgl64.Vec3, starLuminosity, altitude float64, litByStar bool) (albedo, emissive float64) {
	fluxAtBody := StellarFlux(starLuminosity, starPos.Sub(bodyPos).Len())
	r2 := body.Radius * body.Radius
	d2 := (body.Radius + altitude) * (body.Radius + altitude)
	if d2 <= 0 {
		return 0, 0
	}

	if litByStar {
		hemispheric := fluxAtBody * r2 / (2 * d2)
		toStar := starPos.Sub(bodyPos).Normalize()
		toObserver := observer.Sub(bodyPos).Normalize()
		angle := (toStar.Dot(toObserver) + 1) / 2
		albedo = hemispheric * body.Albedo * geometricAlbedoFactor(body.Atmosphere != nil, angle)
	}

	// re-emission happens whether the body is currently lit or not
	spheric := fluxAtBody * r2 / (4 * d2)
	emissive = spheric * (1 - body.Albedo)

	if body.inAtmosphere(altitude) {
		up := observer.Sub(bodyPos).Normalize()
		atmo := lightTransparency(body.Radius, body.Atmosphere, altitude, up, up)
		albedo *= atmo
		emissive *= atmo
	}
	return albedo, emissive
}

// coreFlux returns a body's internal thermal flux at altitude.
func coreFlux(body *BodyPredictor, altitude float64) float64 {
	if body.CoreThermalFlux == 0 {
		return 0
	}
	d := body.Radius + altitude
	if d <= 0 {
		return 0
	}
	return body.CoreThermalFlux * body.Radius * body.Radius / (d * d)
}
