package orbit

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Quantization steps for the elements that define an orbit's shape and
// orientation. Coarser steps on the angles that become ill-defined for
// near-circular or near-equatorial orbits keep numerical jitter from
// registering as a maneuver.
const (
	quantInclination  = 1e-5 // degrees
	quantEccentricity = 1e-5
	quantSMA          = 1.0  // meters
	quantLAN          = 1e-2 // degrees
	quantArgPe        = 1e-1 // degrees
)

// Fingerprint hashes the defining elements after quantization. Two snapshots
// of the same unperturbed orbit share a fingerprint; a maneuver or a change of
// reference body does not.
func Fingerprint(e Elements) uint64 {
	var buf [6 * 8]byte
	put := func(i int, v int64) {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	put(0, quantize(e.Inclination, quantInclination))
	put(1, quantize(e.Eccentricity, quantEccentricity))
	put(2, quantize(e.SemiMajorAxis, quantSMA))
	put(3, quantize(e.LAN, quantLAN))
	put(4, quantize(e.ArgumentOfPeriapsis, quantArgPe))
	put(5, int64(e.ReferenceBody))
	return xxh3.Hash(buf[:])
}

func quantize(v, step float64) int64 {
	return int64(math.Round(v / step))
}
