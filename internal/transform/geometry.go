package transform

import "github.com/go-gl/mathgl/mgl64"

// RayHitSphere reports whether a ray starting at the origin, going along the
// unit vector dir, hits a sphere of the given radius before maxDistance.
// toCenter is the vector from the ray origin to the sphere center.
func RayHitSphere(toCenter, dir mgl64.Vec3, radius, maxDistance float64) bool {
	// projection of origin->center on the ray
	k := toCenter.Dot(dir)
	if k <= 0 || k >= maxDistance {
		return false
	}
	miss := dir.Mul(k).Sub(toCenter)
	return miss.Dot(miss) < radius*radius
}

// ApparentSize returns the approximate angular diameter in radians of a
// sphere of the given radius seen from distance.
func ApparentSize(radius, distance float64) float64 {
	if distance <= 0 {
		return 0
	}
	return radius * 2.0 / distance
}

// Direction returns the unit vector from a to b and the distance between them.
func Direction(from, to mgl64.Vec3) (mgl64.Vec3, float64) {
	d := to.Sub(from)
	n := d.Len()
	if n == 0 {
		return mgl64.Vec3{}, 0
	}
	return d.Mul(1 / n), n
}
