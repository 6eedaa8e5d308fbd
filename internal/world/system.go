package world

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
)

// builtin holds the system definitions shipped with the binary.
//
//go:embed systems/*.yaml
var builtin embed.FS

// DefaultSystemName is the builtin system used when no file is configured.
const DefaultSystemName = "sol"

// ErrInvalidSystem wraps every validation failure of a system definition.
var ErrInvalidSystem = errors.New("invalid system definition")

// System is a YAML description of a universe: its bodies and the vessels
// present at epoch.
type System struct {
	Name        string      `yaml:"name"`
	Epoch       time.Time   `yaml:"epoch"`
	MaxWarpRate float64     `yaml:"max_warp_rate"`
	Bodies      []BodyDef   `yaml:"bodies"`
	Vessels     []VesselDef `yaml:"vessels"`
}

// BodyDef describes one massive body. Parent is empty for the root.
type BodyDef struct {
	Name            string          `yaml:"name"`
	Parent          string          `yaml:"parent"`
	Radius          float64         `yaml:"radius"`
	GravParameter   float64         `yaml:"grav_parameter"`
	Albedo          float64         `yaml:"albedo"`
	CoreThermalFlux float64         `yaml:"core_thermal_flux"`
	Star            bool            `yaml:"star"`
	Luminosity      float64         `yaml:"luminosity"`
	Atmosphere      *Atmosphere     `yaml:"atmosphere"`
	Rotates         bool            `yaml:"rotates"`
	TidallyLocked   bool            `yaml:"tidally_locked"`
	InitialRotation float64         `yaml:"initial_rotation"`
	SiderealEpoch   bool            `yaml:"sidereal_epoch"` // initial rotation from GMST at epoch
	RotationPeriod  float64         `yaml:"rotation_period"`
	InverseRotation bool            `yaml:"inverse_rotation"`
	Orbit           *orbit.Elements `yaml:"orbit"`
}

// VesselDef describes one vessel. Exactly one of Orbit and Landed is set.
type VesselDef struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name"`
	Body   string          `yaml:"body"`
	Loaded bool            `yaml:"loaded"`
	Orbit  *orbit.Elements `yaml:"orbit"`
	Landed *Surface        `yaml:"landed"`
}

// Surface is a ground location on a body.
type Surface struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"`
}

// LoadSystem reads a system definition from path, or the builtin default
// when path is empty.
func LoadSystem(path string) (*System, error) {
	if path == "" {
		return BuiltinSystem(DefaultSystemName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system file: %w", err)
	}
	return ParseSystem(data)
}

// BuiltinSystem returns one of the embedded system definitions by name.
func BuiltinSystem(name string) (*System, error) {
	data, err := builtin.ReadFile("systems/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("builtin system %q: %w", name, err)
	}
	return ParseSystem(data)
}

// ParseSystem decodes and validates a system definition. Unknown keys are
// rejected.
func ParseSystem(data []byte) (*System, error) {
	var sys System
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sys); err != nil {
		return nil, fmt.Errorf("parsing system: %w", err)
	}
	if err := sys.Validate(); err != nil {
		return nil, err
	}
	return &sys, nil
}

// BodyIndex returns the index of the named body.
func (s *System) BodyIndex(name string) (int, bool) {
	for i, b := range s.Bodies {
		if b.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Validate checks names, the body hierarchy and physical ranges.
func (s *System) Validate() error {
	if len(s.Bodies) == 0 {
		return fmt.Errorf("%w: no bodies", ErrInvalidSystem)
	}
	if s.MaxWarpRate < 1 {
		return fmt.Errorf("%w: max_warp_rate must be >= 1, got %g", ErrInvalidSystem, s.MaxWarpRate)
	}

	roots := 0
	seen := make(map[string]bool, len(s.Bodies))
	for i, b := range s.Bodies {
		prefix := fmt.Sprintf("body[%d] %q", i, b.Name)
		if b.Name == "" || seen[b.Name] {
			return fmt.Errorf("%w: %s: empty or duplicate name", ErrInvalidSystem, prefix)
		}
		seen[b.Name] = true
		if b.Radius <= 0 {
			return fmt.Errorf("%w: %s: radius must be positive", ErrInvalidSystem, prefix)
		}
		if b.Albedo < 0 || b.Albedo > 1 {
			return fmt.Errorf("%w: %s: albedo must be in [0,1]", ErrInvalidSystem, prefix)
		}
		if b.Star && b.Luminosity <= 0 {
			return fmt.Errorf("%w: %s: star needs a positive luminosity", ErrInvalidSystem, prefix)
		}
		if b.Rotates && b.RotationPeriod == 0 {
			return fmt.Errorf("%w: %s: rotating body needs a rotation period", ErrInvalidSystem, prefix)
		}
		if b.Parent == "" {
			roots++
			continue
		}
		if b.Orbit == nil {
			return fmt.Errorf("%w: %s: orbiting body needs an orbit", ErrInvalidSystem, prefix)
		}
		if _, ok := s.BodyIndex(b.Parent); !ok {
			return fmt.Errorf("%w: %s: unknown parent %q", ErrInvalidSystem, prefix, b.Parent)
		}
	}
	if roots != 1 {
		return fmt.Errorf("%w: expected exactly one root body, got %d", ErrInvalidSystem, roots)
	}
	if err := s.checkHierarchy(); err != nil {
		return err
	}

	ids := make(map[string]bool, len(s.Vessels))
	for i, v := range s.Vessels {
		prefix := fmt.Sprintf("vessel[%d] %q", i, v.Name)
		if v.Name == "" {
			return fmt.Errorf("%w: %s: empty name", ErrInvalidSystem, prefix)
		}
		if _, ok := s.BodyIndex(v.Body); !ok {
			return fmt.Errorf("%w: %s: unknown body %q", ErrInvalidSystem, prefix, v.Body)
		}
		if (v.Orbit == nil) == (v.Landed == nil) {
			return fmt.Errorf("%w: %s: exactly one of orbit or landed is required", ErrInvalidSystem, prefix)
		}
		id, err := v.UUID()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSystem, prefix, err)
		}
		if ids[id.String()] {
			return fmt.Errorf("%w: %s: duplicate id %s", ErrInvalidSystem, prefix, id)
		}
		ids[id.String()] = true
	}
	return nil
}

// checkHierarchy rejects parent cycles.
func (s *System) checkHierarchy() error {
	for i := range s.Bodies {
		cur := i
		for steps := 0; s.Bodies[cur].Parent != ""; steps++ {
			if steps > len(s.Bodies) {
				return fmt.Errorf("%w: body %q is part of a parent cycle", ErrInvalidSystem, s.Bodies[i].Name)
			}
			cur, _ = s.BodyIndex(s.Bodies[cur].Parent)
		}
	}
	return nil
}

// UUID returns the vessel's configured id, or a stable id derived from its
// name.
func (v VesselDef) UUID() (uuid.UUID, error) {
	if v.ID == "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(v.Name)), nil
	}
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", v.ID, err)
	}
	return id, nil
}

// BodyStates converts the definitions into indexed body snapshots at epoch.
func (s *System) BodyStates() []BodyState {
	out := make([]BodyState, len(s.Bodies))
	for i, b := range s.Bodies {
		ref := i
		if b.Parent != "" {
			ref, _ = s.BodyIndex(b.Parent)
		}
		rot := b.InitialRotation
		if b.SiderealEpoch {
			rot = transform.SiderealAngle(s.Epoch)
		}
		var el *orbit.Elements
		if b.Orbit != nil {
			cp := *b.Orbit
			cp.ReferenceBody = ref
			el = &cp
		}
		out[i] = BodyState{
			Index:           i,
			Name:            b.Name,
			Radius:          b.Radius,
			GravParameter:   b.GravParameter,
			Albedo:          b.Albedo,
			CoreThermalFlux: b.CoreThermalFlux,
			Star:            b.Star,
			Luminosity:      b.Luminosity,
			Atmosphere:      b.Atmosphere,
			Rotates:         b.Rotates,
			TidallyLocked:   b.TidallyLocked,
			InitialRotation: rot,
			RotationPeriod:  b.RotationPeriod,
			InverseRotation: b.InverseRotation,
			ReferenceBody:   ref,
			Orbit:           el,
		}
	}
	return out
}

// VesselStates converts the vessel definitions into snapshots. Every vessel
// starts simulated.
func (s *System) VesselStates() []VesselState {
	out := make([]VesselState, 0, len(s.Vessels))
	for _, v := range s.Vessels {
		id, _ := v.UUID()
		body, _ := s.BodyIndex(v.Body)
		vs := VesselState{
			ID:        id,
			Name:      v.Name,
			Simulated: true,
			Loaded:    v.Loaded,
			MainBody:  body,
		}
		if v.Landed != nil {
			vs.Landed = true
			vs.Latitude = v.Landed.Latitude
			vs.Longitude = v.Landed.Longitude
			vs.Altitude = v.Landed.Altitude
		} else {
			cp := *v.Orbit
			cp.ReferenceBody = body
			vs.Orbit = &cp
		}
		out = append(out, vs)
	}
	return out
}
