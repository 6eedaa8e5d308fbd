// Package transform provides the reference-frame and ray geometry used by the
// sub-stepping engine.
//
// World space is an inertial, right-handed, Z-up frame. A Frame is an
// orthonormal basis expressed in world coordinates: its columns are the
// frame's X, Y and Z axes.
package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Frame is an orthonormal rotation from frame-local to world coordinates.
type Frame struct {
	basis mgl64.Mat3
}

// Identity returns the world frame itself.
func Identity() Frame {
	return Frame{basis: mgl64.Ident3()}
}

// NewFrame builds a frame from a rotation matrix whose columns are the axes.
func NewFrame(m mgl64.Mat3) Frame {
	return Frame{basis: m}
}

// PlanetaryFrame returns the frame of a body whose pole is the world Z axis,
// rotated by rotationDeg about it.
func PlanetaryFrame(rotationDeg float64) Frame {
	return Frame{basis: mgl64.Rotate3DZ(mgl64.DegToRad(rotationDeg))}
}

// IsZero reports whether f was never initialized.
func (f Frame) IsZero() bool {
	return f.basis == mgl64.Mat3{}
}

// Matrix returns the local-to-world rotation.
func (f Frame) Matrix() mgl64.Mat3 {
	return f.basis
}

// LocalToWorld rotates a frame-local vector into world space.
func (f Frame) LocalToWorld(v mgl64.Vec3) mgl64.Vec3 {
	if f.IsZero() {
		return v
	}
	return f.basis.Mul3x1(v)
}

// WorldToLocal rotates a world vector into the frame.
func (f Frame) WorldToLocal(v mgl64.Vec3) mgl64.Vec3 {
	if f.IsZero() {
		return v
	}
	return f.basis.Transpose().Mul3x1(v)
}

// SphericalVector returns the unit vector for latitude/longitude given in
// degrees, in the body-local frame (Z toward the north pole).
func SphericalVector(latDeg, lonDeg float64) mgl64.Vec3 {
	lat := mgl64.DegToRad(latDeg)
	lon := mgl64.DegToRad(lonDeg)
	cosLat := math.Cos(lat)
	return mgl64.Vec3{cosLat * math.Cos(lon), cosLat * math.Sin(lon), math.Sin(lat)}
}
