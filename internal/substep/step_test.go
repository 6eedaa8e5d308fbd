package substep

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
	"github.com/star/substep/internal/world"
)

func earthLikeAtmosphere() *world.Atmosphere {
	return &world.Atmosphere{
		Depth:                70000,
		PressureSeaLevel:     101.325,
		TemperatureSeaLevel:  288.15,
		TemperatureLapseRate: 0.0065,
		GasMassLapseRate:     5.25588,
		MolarMass:            0.0289644,
	}
}

func evaluateAt(s *Scheduler, pos mgl64.Vec3, mainBody int, landed bool) *Step {
	st := &Step{}
	st.evaluate(stepInput{
		ut:        0,
		position:  pos,
		mainBody:  mainBody,
		landed:    landed,
		bodies:    s.env.bodies,
		stars:     s.env.stars,
		threshold: s.cfg.VisibilityThreshold,
	})
	return st
}

func TestStellarFlux(t *testing.T) {
	assert.InDelta(t, 1361, StellarFlux(sunLum, earthOrbit), 1)
	assert.InDelta(t, 1361.0/4, StellarFlux(sunLum, 2*earthOrbit), 0.5)
	assert.Zero(t, StellarFlux(sunLum, 0))
}

func TestStepDayAndNightSide(t *testing.T) {
	s := newTestScheduler(t, testConfig(4), newFakeWorld(0), nil)
	earth := s.env.bodies[earthIndex].PositionAt(0)
	require.InDelta(t, earthOrbit, earth.X(), 1)

	day := evaluateAt(s, earth.Sub(mgl64.Vec3{7e6, 0, 0}), earthIndex, false)
	night := evaluateAt(s, earth.Add(mgl64.Vec3{7e6, 0, 0}), earthIndex, false)

	require.Len(t, day.StarFluxes, 1)
	require.Len(t, night.StarFluxes, 1)
	assert.InDelta(t, 7e6-earthRadius, day.Altitude, 1e-3)
	assert.True(t, day.MainBodyVisible)
	assert.True(t, night.MainBodyVisible)
	assert.False(t, day.MainBodyIsMoon)

	dsf, nsf := day.StarFluxes[0], night.StarFluxes[0]
	assert.False(t, dsf.Occluded)
	assert.True(t, day.Sunlit())
	assert.InDelta(t, dsf.DirectRawFlux, dsf.DirectFlux, 1e-9)
	assert.InDelta(t, 1361, dsf.DirectFlux, 2)

	assert.True(t, nsf.Occluded, "Earth is between the vessel and the Sun")
	assert.False(t, night.Sunlit())
	assert.Zero(t, nsf.DirectFlux)
	assert.Greater(t, nsf.DirectRawFlux, 0.0)

	assert.Greater(t, dsf.BodiesAlbedoFlux, 0.0)
	assert.InDelta(t, 0, nsf.BodiesAlbedoFlux, 1e-9, "the night side reflects nothing")
	assert.InDelta(t, dsf.BodiesEmissiveFlux, nsf.BodiesEmissiveFlux, dsf.BodiesEmissiveFlux*1e-3)

	assert.InDelta(t, 0, dsf.MainBodyVesselStarAngle, 1e-9, "Sun and Earth in opposite directions")
	assert.InDelta(t, 1, nsf.MainBodyVesselStarAngle, 1e-9)

	assert.Greater(t, day.BodiesCoreIrradiance, 0.0)
	assert.Less(t, day.BodiesCoreIrradiance, 0.087)
	assert.InDelta(t, day.DirectFlux()+day.IndirectFlux(), dsf.DirectFlux+dsf.BodiesAlbedoFlux+dsf.BodiesEmissiveFlux, 1e-9)
}

func TestStepAroundMoon(t *testing.T) {
	s := newTestScheduler(t, testConfig(4), newFakeWorld(0), nil)
	moon := s.env.bodies[moonIndex].PositionAt(0)

	// between the Moon and the Earth, looking at both
	st := evaluateAt(s, moon.Sub(mgl64.Vec3{3e6, 0, 0}), moonIndex, false)
	assert.True(t, st.MainBodyIsMoon)
	assert.True(t, st.MainBodyVisible)
	assert.True(t, st.MainPlanetVisible)
	assert.Greater(t, st.BodiesCoreIrradiance, 0.0, "Earth's core flux reaches the vessel")

	// behind the Moon, the Earth is hidden
	hidden := evaluateAt(s, moon.Add(mgl64.Vec3{3e6, 0, 0}), moonIndex, false)
	assert.False(t, hidden.MainPlanetVisible)
	assert.Zero(t, hidden.BodiesCoreIrradiance)
}

func TestStepSkipsSmallOccluders(t *testing.T) {
	s := newTestScheduler(t, testConfig(4), newFakeWorld(0), nil)
	earth := s.env.bodies[earthIndex].PositionAt(0)

	// far enough behind Earth that its disc is below the threshold
	far := earth.Add(mgl64.Vec3{5e9, 0, 0})
	st := evaluateAt(s, far, sunIndex, false)
	require.Less(t, transform.ApparentSize(earthRadius, 5e9), s.cfg.VisibilityThreshold)
	assert.False(t, st.StarFluxes[0].Occluded)
	assert.Zero(t, st.BodiesCoreIrradiance, "stars have no core flux")
}

func TestAtmosphereTransparency(t *testing.T) {
	atmo := earthLikeAtmosphere()
	require.InDelta(t, 1.225, atmo.Density(0), 1e-3)

	up := mgl64.Vec3{0, 0, 1}
	zenith := lightTransparency(earthRadius, atmo, 0, up, up)
	assert.InDelta(t, 0.85, zenith, 1e-3)

	grazing := lightTransparency(earthRadius, atmo, 0, up, mgl64.Vec3{1, 0, 0})
	assert.Less(t, grazing, zenith)
	assert.Greater(t, grazing, 0.0)

	high := lightTransparency(earthRadius, atmo, 30000, up, up)
	assert.Greater(t, high, zenith)

	assert.Equal(t, 1.0, lightTransparency(earthRadius, nil, 0, up, up))
	assert.Equal(t, 1.0, lightTransparency(earthRadius, atmo, 80000, up, up))
}

func TestGeometricAlbedoFactor(t *testing.T) {
	assert.InDelta(t, 1.225*1.225, geometricAlbedoFactor(false, 1), 1e-9)
	assert.InDelta(t, math.Pow(1.113, 1.3), geometricAlbedoFactor(true, 1), 1e-9)
	assert.Zero(t, geometricAlbedoFactor(false, 0))

	// both curves average to one half over the angle range
	for _, atmo := range []bool{false, true} {
		var sum float64
		const n = 10000
		for i := 0; i < n; i++ {
			sum += geometricAlbedoFactor(atmo, (float64(i)+0.5)/n)
		}
		assert.InDelta(t, 0.5, sum/n, 0.01)
	}
}

func TestStepInAtmosphere(t *testing.T) {
	w := newFakeWorld(0)
	w.bodies[earthIndex].Atmosphere = earthLikeAtmosphere()
	s := newTestScheduler(t, testConfig(4), w, nil)
	earth := s.env.bodies[earthIndex].PositionAt(0)

	// 1 km above the sub-solar point
	st := evaluateAt(s, earth.Sub(mgl64.Vec3{earthRadius + 1000, 0, 0}), earthIndex, false)
	sf := st.StarFluxes[0]
	assert.False(t, sf.Occluded)
	assert.Less(t, sf.DirectFlux, sf.DirectRawFlux)
	assert.Greater(t, sf.DirectFlux, 0.8*sf.DirectRawFlux)
}

func TestBodyPredictorCaches(t *testing.T) {
	w := newFakeWorld(0)
	s := newTestScheduler(t, testConfig(3), w, nil)
	drain(t, s)

	earth := s.env.bodies[earthIndex]
	moon := s.env.bodies[moonIndex]
	sun := s.env.bodies[sunIndex]
	require.Same(t, sun, earth.Parent())
	require.Same(t, earth, moon.Parent())
	require.Same(t, sun, sun.Parent())
	assert.True(t, sun.IsRoot())
	assert.False(t, moon.IsRoot())

	last := s.env.markers.At(2).UT
	wantEarth := orbit.Position(*w.bodies[earthIndex].Orbit, sunMu, last)
	assert.InDelta(t, 0, earth.Position().Sub(wantEarth).Len(), 1e-3)

	wantMoon := wantEarth.Add(orbit.Position(*w.bodies[moonIndex].Orbit, earthMu, last))
	assert.InDelta(t, 0, moon.Position().Sub(wantMoon).Len(), 1e-3)
	assert.InDelta(t, 0, moon.PositionAt(last).Sub(moon.Position()).Len(), 1e-3, "both caches agree")

	first := s.env.markers.At(0).UT
	p := moon.PositionAt(first)
	assert.Equal(t, first, moon.cachedUT)
	assert.Equal(t, p, moon.PositionAt(first))
	assert.NotEqual(t, p, moon.Position())
}

func TestBodyPredictorPicksUpHostChanges(t *testing.T) {
	w := newFakeWorld(0)
	s := newTestScheduler(t, testConfig(3), w, nil)
	drain(t, s)

	w.mu.Lock()
	el := *w.bodies[moonIndex].Orbit
	el.SemiMajorAxis = 4e8
	w.bodies[moonIndex].Orbit = &el
	w.mu.Unlock()

	w.setUT(61)
	require.True(t, s.Synchronize())
	moon := s.env.bodies[moonIndex]
	assert.Equal(t, 3.844e8, moon.Orbit().Elements().SemiMajorAxis, "applied on the worker's next step")

	worked, ok := s.workOnce(context.Background())
	require.True(t, ok)
	require.True(t, worked)
	assert.Equal(t, 4e8, moon.Orbit().Elements().SemiMajorAxis)
	earth := s.env.bodies[earthIndex]
	assert.InDelta(t, 4e8, moon.Position().Sub(earth.Position()).Len(), 1)
}

func TestLandedVesselFollowsRotation(t *testing.T) {
	w := newFakeWorld(0)
	w.bodies[earthIndex].Rotates = true
	w.bodies[earthIndex].RotationPeriod = 86164
	s := newTestScheduler(t, testConfig(3), w, nil)
	drain(t, s)

	lander := world.VesselState{
		ID:        leoVessel("lander", 0).ID,
		Name:      "lander",
		Simulated: true,
		Landed:    true,
		MainBody:  earthIndex,
		Altitude:  100,
	}
	w.addVessel(lander)
	s.Synchronize()
	drain(t, s)

	v := predictor(t, s, lander.ID)
	require.Equal(t, 3, v.Len())
	earth := s.env.bodies[earthIndex]
	for _, st := range v.Steps() {
		rel := st.Position.Sub(earth.PositionAt(st.UT))
		assert.InDelta(t, earthRadius+100, rel.Len(), 1e-3)
		assert.InDelta(t, 100, st.Altitude, 1e-3)
		assert.True(t, st.Landed)
		assert.True(t, st.MainBodyVisible)

		want := transform.PlanetaryFrame(360 * st.UT / 86164).LocalToWorld(mgl64.Vec3{earthRadius + 100, 0, 0})
		assert.InDelta(t, 0, rel.Sub(want).Len(), 1e-3)
	}
}

func TestTimedMutex(t *testing.T) {
	m := newTimedMutex()
	require.True(t, m.TryLockFor(0))
	assert.False(t, m.TryLockFor(0))
	assert.False(t, m.TryLockFor(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.LockContext(ctx))

	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Unlock()
	}()
	assert.True(t, m.TryLockFor(time.Second))
	m.Unlock()

	assert.Panics(t, func() { m.Unlock() })
}
