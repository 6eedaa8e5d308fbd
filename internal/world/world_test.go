package world

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const minimalSystem = `
name: tiny
epoch: 2026-01-01T00:00:00Z
max_warp_rate: 1000
bodies:
  - name: Star
    radius: 7.0e8
    grav_parameter: 1.327e20
    star: true
    luminosity: 3.8e26
  - name: Rock
    parent: Star
    radius: 6.0e6
    grav_parameter: 4.0e14
    albedo: 0.3
    rotates: true
    rotation_period: 86400
    orbit:
      semi_major_axis: 1.5e11
vessels:
  - name: Probe
    body: Rock
    orbit:
      semi_major_axis: 7.0e6
  - name: Base
    id: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
    body: Rock
    landed:
      latitude: 0
      longitude: 90
      altitude: 50
`

func TestParseSystem(t *testing.T) {
	sys, err := ParseSystem([]byte(minimalSystem))
	require.NoError(t, err)
	assert.Equal(t, "tiny", sys.Name)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), sys.Epoch.UTC())

	bodies := sys.BodyStates()
	require.Len(t, bodies, 2)
	assert.True(t, bodies[0].Root())
	assert.Equal(t, 0, bodies[0].ReferenceBody)
	assert.False(t, bodies[1].Root())
	assert.Equal(t, 0, bodies[1].ReferenceBody)
	assert.Equal(t, 0, bodies[1].Orbit.ReferenceBody)
	assert.True(t, bodies[1].CanRotate())

	vessels := sys.VesselStates()
	require.Len(t, vessels, 2)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceOID, []byte("Probe")), vessels[0].ID)
	assert.Equal(t, 1, vessels[0].MainBody)
	assert.Equal(t, 1, vessels[0].Orbit.ReferenceBody)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", vessels[1].ID.String())
	assert.True(t, vessels[1].Landed)
	assert.Nil(t, vessels[1].Orbit)
	for _, v := range vessels {
		assert.True(t, v.Simulated)
	}
}

func TestParseSystemRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown key",
			mutate:  func(s string) string { return strings.Replace(s, "name: tiny", "name: tiny\ncolour: blue", 1) },
			wantErr: "colour",
		},
		{
			name:    "no warp",
			mutate:  func(s string) string { return strings.Replace(s, "max_warp_rate: 1000", "max_warp_rate: 0", 1) },
			wantErr: "max_warp_rate",
		},
		{
			name:    "unknown parent",
			mutate:  func(s string) string { return strings.Replace(s, "parent: Star", "parent: Nowhere", 1) },
			wantErr: "unknown parent",
		},
		{
			name:    "dark star",
			mutate:  func(s string) string { return strings.Replace(s, "luminosity: 3.8e26", "luminosity: 0", 1) },
			wantErr: "luminosity",
		},
		{
			name:    "unknown vessel body",
			mutate:  func(s string) string { return strings.Replace(s, "body: Rock\n    orbit", "body: Moon\n    orbit", 1) },
			wantErr: "unknown body",
		},
		{
			name: "orbit and landed",
			mutate: func(s string) string {
				return strings.Replace(s, "    landed:", "    orbit:\n      semi_major_axis: 7.0e6\n    landed:", 1)
			},
			wantErr: "exactly one of orbit or landed",
		},
		{
			name:    "bad id",
			mutate:  func(s string) string { return strings.Replace(s, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "nope", 1) },
			wantErr: "invalid id",
		},
		{
			name:    "two roots",
			mutate:  func(s string) string { return strings.Replace(s, "    parent: Star\n", "", 1) },
			wantErr: "exactly one root",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSystem([]byte(tt.mutate(minimalSystem)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateParentCycle(t *testing.T) {
	sys := &System{
		MaxWarpRate: 1,
		Bodies: []BodyDef{
			{Name: "Root", Radius: 1},
			{Name: "A", Parent: "B", Radius: 1, Orbit: &orbit.Elements{SemiMajorAxis: 10}},
			{Name: "B", Parent: "A", Radius: 1, Orbit: &orbit.Elements{SemiMajorAxis: 10}},
		},
	}
	err := sys.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSystem))
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuiltinSystem(t *testing.T) {
	sys, err := LoadSystem("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemName, sys.Name)

	earth, ok := sys.BodyIndex("Earth")
	require.True(t, ok)
	moon, ok := sys.BodyIndex("Moon")
	require.True(t, ok)
	bodies := sys.BodyStates()
	assert.Equal(t, earth, bodies[moon].ReferenceBody)
	assert.InDelta(t, transform.SiderealAngle(sys.Epoch), bodies[earth].InitialRotation, 1e-9)

	_, err = BuiltinSystem("andromeda")
	assert.Error(t, err)
}

func TestLoadSystemFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalSystem), 0o644))

	sys, err := LoadSystem(path)
	require.NoError(t, err)
	assert.Len(t, sys.Bodies, 2)

	_, err = LoadSystem(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAtmosphere(t *testing.T) {
	a := &Atmosphere{
		Depth:                70000,
		PressureSeaLevel:     101.325,
		TemperatureSeaLevel:  288.15,
		TemperatureLapseRate: 0.0065,
		GasMassLapseRate:     5.25588,
		MolarMass:            0.0289644,
	}
	assert.InDelta(t, 101.325, a.Pressure(0), 1e-9)
	assert.InDelta(t, 54.05, a.Pressure(5000), 0.1)
	assert.InDelta(t, 1.225, a.Density(0), 1e-3)
	assert.InDelta(t, 255.65, a.Temperature(5000), 1e-9)
	assert.Zero(t, a.Pressure(70000))
	assert.Zero(t, a.Density(80000))

	var none *Atmosphere
	assert.Zero(t, none.Pressure(0))
	assert.Zero(t, none.Density(0))
}

func TestBodyRotation(t *testing.T) {
	b := BodyState{Rotates: true, RotationPeriod: 1000, InitialRotation: 90}
	assert.InDelta(t, 90, b.RotationAngle(0, 0), 1e-9)
	assert.InDelta(t, 180, b.RotationAngle(250, 0), 1e-9)

	b.InverseRotation = true
	assert.InDelta(t, 150, b.RotationAngle(250, 30), 1e-9)

	ref := transform.PlanetaryFrame(45)
	still := BodyState{}
	assert.Equal(t, ref, still.FrameAt(10, 0, ref))

	locked := BodyState{Rotates: true, RotationPeriod: 1000, TidallyLocked: true}
	assert.False(t, locked.CanRotate(), "tidally locked without an orbit")
}

func TestBodyPositionsFollowHierarchy(t *testing.T) {
	sys, err := ParseSystem([]byte(minimalSystem))
	require.NoError(t, err)
	bodies := sys.BodyStates()

	pos := BodyPositions(bodies, 0, transform.Identity())
	assert.Equal(t, mgl64.Vec3{}, pos[0])
	assert.InDelta(t, 1.5e11, pos[1].Len(), 1)

	later := BodyPositions(bodies, 86400, transform.Identity())
	want := orbit.Position(*bodies[1].Orbit, bodies[0].GravParameter, 86400)
	assert.InDelta(t, 0, later[1].Sub(want).Len(), 1e-3)
}

func newTinySandbox(t *testing.T) *Sandbox {
	t.Helper()
	sys, err := ParseSystem([]byte(minimalSystem))
	require.NoError(t, err)
	return NewSandbox(sys, testLogger)
}

func TestSandboxAdvance(t *testing.T) {
	s := newTinySandbox(t)
	assert.True(t, s.Running())
	assert.Equal(t, 1000.0, s.MaxWarpRate())
	assert.Zero(t, s.UniversalTime())

	s.Advance(2 * time.Second)
	assert.InDelta(t, 2, s.UniversalTime(), 1e-9)

	require.NoError(t, s.SetWarp(100))
	s.Advance(500 * time.Millisecond)
	assert.InDelta(t, 52, s.UniversalTime(), 1e-9)

	s.SetRunning(false)
	s.Advance(time.Second)
	assert.InDelta(t, 52, s.UniversalTime(), 1e-9)
	assert.False(t, s.Running())

	assert.Error(t, s.SetWarp(5000))
	assert.Error(t, s.SetWarp(-1))
	assert.Error(t, s.SetWarp(math.NaN()))
	assert.Equal(t, 100.0, s.Warp())

	assert.Equal(t, s.Epoch().Add(90*time.Second), s.TimeAt(90))
}

func TestSandboxVesselPositions(t *testing.T) {
	s := newTinySandbox(t)
	s.SetUniversalTime(1000)

	bodies := s.Bodies()
	rock := bodies[1]
	vessels := s.Vessels()
	require.Len(t, vessels, 2)

	craft := vessels[0]
	assert.InDelta(t, 7e6, craft.Position.Sub(rock.Position).Len(), 1e-3)

	base := vessels[1]
	rel := base.Position.Sub(rock.Position)
	assert.InDelta(t, 6e6+50, rel.Len(), 1e-3)
	// longitude 90 rotated by 1000/86400 of a turn
	want := transform.PlanetaryFrame(360.0*1000/86400).LocalToWorld(mgl64.Vec3{0, 6e6 + 50, 0})
	assert.InDelta(t, 0, rel.Sub(want).Len(), 1e-3)
}

func TestSandboxVesselMutations(t *testing.T) {
	s := newTinySandbox(t)
	craft := s.Vessels()[0]

	require.True(t, s.SetOrbit(craft.ID, orbit.Elements{SemiMajorAxis: 9e6, ReferenceBody: 1}))
	got, ok := s.Vessel(craft.ID)
	require.True(t, ok)
	assert.Equal(t, 9e6, got.Orbit.SemiMajorAxis)
	assert.InDelta(t, 9e6, got.Position.Sub(s.Bodies()[1].Position).Len(), 1e-3)

	require.True(t, s.SetLanded(craft.ID, 1, 10, 10, 0))
	got, _ = s.Vessel(craft.ID)
	assert.True(t, got.Landed)
	assert.Nil(t, got.Orbit)

	require.True(t, s.SetSimulated(craft.ID, false))
	got, _ = s.Vessel(craft.ID)
	assert.False(t, got.Simulated)

	assert.True(t, s.RemoveVessel(craft.ID))
	assert.False(t, s.RemoveVessel(craft.ID))
	assert.Len(t, s.Vessels(), 1)
	assert.False(t, s.SetSimulated(craft.ID, true))
}

type stubTracker struct {
	pos mgl64.Vec3
	err error
}

func (s stubTracker) Track(float64) (mgl64.Vec3, error) { return s.pos, s.err }

func TestSandboxTrackedVessel(t *testing.T) {
	s := newTinySandbox(t)
	tracked := VesselState{
		ID:        uuid.New(),
		Name:      "tracked",
		Simulated: true,
		MainBody:  1,
		Orbit:     &orbit.Elements{SemiMajorAxis: 7e6, ReferenceBody: 1},
	}
	require.NoError(t, s.AddVessel(tracked, stubTracker{pos: mgl64.Vec3{0, 0, 8e6}}))
	assert.Error(t, s.AddVessel(tracked, nil), "duplicate id")

	got, ok := s.Vessel(tracked.ID)
	require.True(t, ok)
	assert.InDelta(t, 0, got.Position.Sub(s.Bodies()[1].Position.Add(mgl64.Vec3{0, 0, 8e6})).Len(), 1e-3)

	failing := tracked
	failing.ID = uuid.New()
	require.NoError(t, s.AddVessel(failing, stubTracker{err: errors.New("decayed")}))
	got, _ = s.Vessel(failing.ID)
	assert.InDelta(t, 7e6, got.Position.Sub(s.Bodies()[1].Position).Len(), 1e-3, "falls back to elements")
	assert.False(t, s.Tracked(failing.ID), "a failed tracker is dropped")
	assert.True(t, s.Tracked(tracked.ID))

	bad := tracked
	bad.ID = uuid.New()
	bad.MainBody = 9
	assert.Error(t, s.AddVessel(bad, nil))
}
