// Package world defines the authoritative simulated universe that the
// sub-stepping engine samples once per main tick, and an in-memory sandbox
// implementation driven by a YAML system definition.
package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
)

// Provider is the read-only view of the host world.
type Provider interface {
	// Running reports whether simulated time is currently advancing.
	Running() bool
	// UniversalTime is the authoritative simulated time in seconds.
	UniversalTime() float64
	// MaxWarpRate is the fastest supported time acceleration multiplier.
	MaxWarpRate() float64
	// ReferenceFrame returns the current celestial reference frame and the
	// inverse rotation angle in degrees.
	ReferenceFrame() (transform.Frame, float64)
	Bodies() []BodyState
	Vessels() []VesselState
}

// Atmosphere describes a standard lapse-rate atmosphere.
type Atmosphere struct {
	Depth                float64 `yaml:"depth"`                  // meters
	PressureSeaLevel     float64 `yaml:"pressure_sea_level"`     // kPa
	TemperatureSeaLevel  float64 `yaml:"temperature_sea_level"`  // K
	TemperatureLapseRate float64 `yaml:"temperature_lapse_rate"` // K/m
	GasMassLapseRate     float64 `yaml:"gas_mass_lapse_rate"`
	MolarMass            float64 `yaml:"molar_mass"` // kg/mol
}

// IdealGasConstant in J/(K·mol).
const IdealGasConstant = 8.3144598

// Pressure returns the static pressure in kPa at altitude, 0 above the
// atmosphere.
func (a *Atmosphere) Pressure(altitude float64) float64 {
	if a == nil || altitude >= a.Depth || a.TemperatureSeaLevel <= 0 {
		return 0
	}
	base := 1 - a.TemperatureLapseRate*altitude/a.TemperatureSeaLevel
	if base <= 0 {
		return 0
	}
	return a.PressureSeaLevel * math.Pow(base, a.GasMassLapseRate)
}

// Temperature returns the air temperature in K at altitude.
func (a *Atmosphere) Temperature(altitude float64) float64 {
	if a == nil || altitude >= a.Depth {
		return 0
	}
	return a.TemperatureSeaLevel - a.TemperatureLapseRate*altitude
}

// Density returns the air density in kg/m³ at altitude.
func (a *Atmosphere) Density(altitude float64) float64 {
	p := a.Pressure(altitude)
	temp := a.Temperature(altitude)
	if p <= 0 || temp <= 0 {
		return 0
	}
	return p * 1000 * a.MolarMass / (IdealGasConstant * temp)
}

// BodyState is a per-tick snapshot of one massive body. Index matches the
// position in the slice returned by Provider.Bodies.
type BodyState struct {
	Index           int
	Name            string
	Radius          float64 // meters
	GravParameter   float64 // m³/s²
	Albedo          float64 // bond albedo
	CoreThermalFlux float64 // W/m² at the surface
	Star            bool
	Luminosity      float64 // W, stars only
	Atmosphere      *Atmosphere
	Rotates         bool
	TidallyLocked   bool
	InitialRotation float64 // degrees
	RotationPeriod  float64 // seconds
	InverseRotation bool
	ReferenceBody   int // own index for the root
	Position        mgl64.Vec3
	Orbit           *orbit.Elements // nil for the root
}

// Root reports whether the body sits at the top of the hierarchy.
func (b BodyState) Root() bool {
	return b.Orbit == nil || b.ReferenceBody == b.Index
}

// CanRotate reports whether the body has a usable rotating frame.
func (b BodyState) CanRotate() bool {
	return b.Rotates && b.RotationPeriod != 0 && (!b.TidallyLocked || b.Orbit != nil)
}

// VesselState is a per-tick snapshot of one tracked object.
type VesselState struct {
	ID        uuid.UUID
	Name      string
	Simulated bool
	Landed    bool
	Loaded    bool
	MainBody  int
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Altitude  float64 // meters
	Position  mgl64.Vec3
	Orbit     *orbit.Elements // nil when landed without a trajectory
}

// RotationAngle returns the body's rotation about its pole at ut, in degrees.
// Bodies flagged for inverse rotation are expressed relative to the rotating
// reference frame, so its angle is removed.
func (b BodyState) RotationAngle(ut, inverseRotAngle float64) float64 {
	angle := math.Mod(b.InitialRotation+360*ut/b.RotationPeriod, 360)
	if b.InverseRotation {
		angle = math.Mod(angle-inverseRotAngle, 360)
	}
	return angle
}

// FrameAt returns the body-fixed frame at ut. Non-rotating bodies use the
// reference frame.
func (b BodyState) FrameAt(ut, inverseRotAngle float64, ref transform.Frame) transform.Frame {
	if !b.CanRotate() {
		return ref
	}
	return transform.PlanetaryFrame(b.RotationAngle(ut, inverseRotAngle))
}

// SurfaceOffset returns the body-local vector from the body center to the
// given ground coordinates.
func (b BodyState) SurfaceOffset(lat, lon, alt float64) mgl64.Vec3 {
	return transform.SphericalVector(lat, lon).Mul(b.Radius + alt)
}
