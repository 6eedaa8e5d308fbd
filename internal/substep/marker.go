package substep

import (
	"github.com/google/uuid"

	"github.com/star/substep/internal/collections"
	"github.com/star/substep/internal/transform"
)

// Marker identifies one future instant shared by every predictor. The
// reference frame and inverse rotation angle are captured once per instant
// from the host. Markers are pooled and must not be retained once the main
// tick has passed them.
type Marker struct {
	UT              float64
	InverseRotAngle float64
	Frame           transform.Frame

	handle collections.Handle
}

// Consumer receives consumed steps on the main tick, in time order per vessel.
// Steps are recycled after the next synchronization, so implementations must
// not retain them.
type Consumer interface {
	ConsumeSteps(id uuid.UUID, steps []*Step)
}

// VesselRemover is implemented by consumers that track per-vessel state and
// want to hear when a vessel leaves scope.
type VesselRemover interface {
	RemoveVessel(id uuid.UUID)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(id uuid.UUID, steps []*Step)

// ConsumeSteps implements Consumer.
func (f ConsumerFunc) ConsumeSteps(id uuid.UUID, steps []*Step) { f(id, steps) }
