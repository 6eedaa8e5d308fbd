package substep

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/substep/internal/orbit"
	"github.com/star/substep/internal/transform"
)

// OrbitPredictor is a frozen copy of one orbit's elements and a reference to
// the parent body's predictor. Position queries never touch the host's live
// orbit, so the worker can evaluate it while the host mutates its own.
type OrbitPredictor struct {
	elements    orbit.Elements
	parent      *BodyPredictor
	fingerprint uint64
}

func newOrbitPredictor(el orbit.Elements, parent *BodyPredictor) *OrbitPredictor {
	return &OrbitPredictor{
		elements:    el,
		parent:      parent,
		fingerprint: orbit.Fingerprint(el),
	}
}

// Elements returns the snapshot.
func (o *OrbitPredictor) Elements() orbit.Elements { return o.elements }

// Parent returns the predictor of the body being orbited.
func (o *OrbitPredictor) Parent() *BodyPredictor { return o.parent }

// update replaces the snapshot and reports whether the orbit changed shape,
// orientation or parent since the previous one.
func (o *OrbitPredictor) update(el orbit.Elements, parent *BodyPredictor) bool {
	fp := orbit.Fingerprint(el)
	changed := fp != o.fingerprint || parent != o.parent
	o.elements = el
	o.parent = parent
	o.fingerprint = fp
	return changed
}

// relative returns the position relative to the parent at ut, in world axes.
func (o *OrbitPredictor) relative(ut float64, frame transform.Frame) mgl64.Vec3 {
	return frame.WorldToLocal(orbit.Position(o.elements, o.parent.GravParameter, ut))
}

// Position returns the world position at the latest produced step.
func (o *OrbitPredictor) Position() mgl64.Vec3 {
	m := &o.parent.latest
	return o.relative(m.UT, m.Frame).Add(o.parent.Position())
}

// PositionAt returns the world position at an arbitrary time.
func (o *OrbitPredictor) PositionAt(ut float64) mgl64.Vec3 {
	frame, _ := o.parent.reference()
	return o.relative(ut, frame).Add(o.parent.PositionAt(ut))
}

func (o *OrbitPredictor) positionAt(ut float64, latest bool) mgl64.Vec3 {
	if latest {
		return o.Position()
	}
	return o.PositionAt(ut)
}
