package substep

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/substep/internal/collections"
	"github.com/star/substep/internal/transform"
)

// StarFlux is the contribution of one star to a step.
type StarFlux struct {
	Star      int        // body index of the star
	Direction mgl64.Vec3 // unit vector from the vessel to the star
	Distance  float64    // meters, center to center
	Occluded  bool

	DirectRawFlux      float64 // W/m², ignoring occlusion and atmosphere
	DirectFlux         float64 // W/m² reaching the vessel
	BodiesAlbedoFlux   float64 // W/m² reflected by the main body and planet
	BodiesEmissiveFlux float64 // W/m² re-emitted by the main body and planet

	// MainBodyVesselStarAngle maps the main body, vessel, star angle from
	// [0°, 180°] to [0, 1].
	MainBodyVesselStarAngle float64
}

type bodySample struct {
	position  mgl64.Vec3
	diff      mgl64.Vec3 // vessel to body center
	occluding bool       // large enough to be tested for occlusion
}

// Step is the environment evaluated for one vessel at one instant. Steps are
// pooled: they belong to the predictor that produced them until consumed.
type Step struct {
	UT                float64
	Position          mgl64.Vec3
	MainBody          int
	MainBodyPosition  mgl64.Vec3
	MainBodyDirection mgl64.Vec3 // unit vector from the vessel to the main body
	Altitude          float64
	Landed            bool

	MainBodyVisible   bool
	MainBodyIsMoon    bool
	MainPlanetVisible bool

	StarFluxes           []StarFlux
	BodiesCoreIrradiance float64

	samples []bodySample
	handle  collections.Handle
}

// DirectFlux sums the direct flux of every star.
func (s *Step) DirectFlux() float64 {
	var total float64
	for i := range s.StarFluxes {
		total += s.StarFluxes[i].DirectFlux
	}
	return total
}

// IndirectFlux sums albedo and re-emitted flux of every star.
func (s *Step) IndirectFlux() float64 {
	var total float64
	for i := range s.StarFluxes {
		total += s.StarFluxes[i].BodiesAlbedoFlux + s.StarFluxes[i].BodiesEmissiveFlux
	}
	return total
}

// Sunlit reports whether at least one star is in line of sight.
func (s *Step) Sunlit() bool {
	for i := range s.StarFluxes {
		if !s.StarFluxes[i].Occluded {
			return true
		}
	}
	return false
}

// stepInput is what one evaluation reads: the vessel's resolved position and
// the shared body predictors.
type stepInput struct {
	ut        float64
	latest    bool // ut is the latest produced step, use the hot body caches
	position  mgl64.Vec3
	mainBody  int
	landed    bool
	bodies    []*BodyPredictor
	stars     []int
	threshold float64
}

// evaluate fills the step. It reads the body predictors and nothing else, so
// it is safe on the worker while the main tick runs.
func (s *Step) evaluate(in stepInput) {
	s.UT = in.ut
	s.Position = in.position
	s.MainBody = in.mainBody
	s.Landed = in.landed

	mb := in.bodies[in.mainBody]
	s.MainBodyPosition = mb.positionAt(in.ut, in.latest)
	var dist float64
	s.MainBodyDirection, dist = transform.Direction(s.Position, s.MainBodyPosition)
	s.Altitude = dist - mb.Radius

	if cap(s.samples) < len(in.bodies) {
		s.samples = make([]bodySample, len(in.bodies))
	}
	s.samples = s.samples[:len(in.bodies)]
	for i, b := range in.bodies {
		p := b.positionAt(in.ut, in.latest)
		diff := p.Sub(s.Position)
		s.samples[i] = bodySample{
			position:  p,
			diff:      diff,
			occluding: transform.ApparentSize(b.Radius, diff.Len()) > in.threshold,
		}
	}

	s.MainBodyVisible = in.landed || mb.inAtmosphere(s.Altitude) ||
		!s.occluded(in.bodies, s.MainBodyDirection, s.Altitude, mb.Index)

	planet := mb.Parent()
	s.MainBodyIsMoon = planet != mb && !planet.Star
	s.MainPlanetVisible = false
	var planetPos mgl64.Vec3
	var planetAltitude float64
	if s.MainBodyIsMoon {
		planetPos = s.samples[planet.Index].position
		dir, d := transform.Direction(s.Position, planetPos)
		planetAltitude = d - planet.Radius
		s.MainPlanetVisible = !s.occluded(in.bodies, dir, d, planet.Index)
	}

	if cap(s.StarFluxes) < len(in.stars) {
		s.StarFluxes = make([]StarFlux, len(in.stars))
	}
	s.StarFluxes = s.StarFluxes[:len(in.stars)]
	for i, idx := range in.stars {
		s.evaluateStar(&s.StarFluxes[i], in.bodies, idx, mb, planet, planetPos, planetAltitude)
	}

	s.BodiesCoreIrradiance = 0
	if !mb.Star {
		if s.MainBodyVisible {
			s.BodiesCoreIrradiance += coreFlux(mb, s.Altitude)
		}
		if s.MainBodyIsMoon && s.MainPlanetVisible {
			s.BodiesCoreIrradiance += coreFlux(planet, planetAltitude)
		}
	}
}

func (s *Step) evaluateStar(sf *StarFlux, bodies []*BodyPredictor, idx int, mb, planet *BodyPredictor, planetPos mgl64.Vec3, planetAltitude float64) {
	star := bodies[idx]
	starPos := s.samples[idx].position

	sf.Star = idx
	sf.Direction, sf.Distance = transform.Direction(s.Position, starPos)
	sf.Occluded = s.occluded(bodies, sf.Direction, sf.Distance, idx)
	sf.DirectRawFlux = StellarFlux(star.Luminosity, sf.Distance)
	sf.DirectFlux = 0
	if !sf.Occluded {
		sf.DirectFlux = sf.DirectRawFlux
		if mb.inAtmosphere(s.Altitude) {
			up := s.MainBodyDirection.Mul(-1)
			sf.DirectFlux *= lightTransparency(mb.Radius, mb.Atmosphere, s.Altitude, up, sf.Direction)
		}
	}

	sf.BodiesAlbedoFlux = 0
	sf.BodiesEmissiveFlux = 0
	if !mb.Star {
		if s.MainBodyVisible {
			lit := true
			if s.MainBodyIsMoon {
				// the planet can eclipse its moon
				toStar, d := transform.Direction(s.MainBodyPosition, starPos)
				lit = !transform.RayHitSphere(planetPos.Sub(s.MainBodyPosition), toStar, planet.Radius, d)
			}
			a, e := indirectFlux(mb, s.MainBodyPosition, starPos, s.Position, star.Luminosity, s.Altitude, lit)
			sf.BodiesAlbedoFlux += a
			sf.BodiesEmissiveFlux += e
		}
		if s.MainBodyIsMoon && s.MainPlanetVisible {
			a, e := indirectFlux(planet, planetPos, starPos, s.Position, star.Luminosity, planetAltitude, true)
			sf.BodiesAlbedoFlux += a
			sf.BodiesEmissiveFlux += e
		}
	}

	sf.MainBodyVesselStarAngle = (sf.Direction.Dot(s.MainBodyDirection) + 1) * 0.5
}

// occluded tests the ray from the vessel along dir against every body large
// enough to matter, except the target.
func (s *Step) occluded(bodies []*BodyPredictor, dir mgl64.Vec3, maxDistance float64, except int) bool {
	for i, b := range bodies {
		if i == except || !s.samples[i].occluding {
			continue
		}
		if transform.RayHitSphere(s.samples[i].diff, dir, b.Radius, maxDistance) {
			return true
		}
	}
	return false
}
