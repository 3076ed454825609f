package vision

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robot-control/robotd/internal/geom"
)

// Measurement is an externally computed field pose.
type Measurement struct {
	Pose geom.Pose2d
	// Timestamp is the capture time on the robot clock.
	Timestamp time.Duration
	// Confidence is in [0, 1].
	Confidence float64
}

func (m Measurement) String() string {
	return fmt.Sprintf("Measurement(%v @%v conf=%.2f)", m.Pose, m.Timestamp, m.Confidence)
}

// Mailbox is a single-slot, latest-value hand-off.
type Mailbox struct {
	slot        atomic.Pointer[Measurement]
	published   atomic.Uint64
	overwritten atomic.Uint64
}

// Publish stores m, replacing any sample not yet taken.
func (b *Mailbox) Publish(m Measurement) {
	b.published.Add(1)
	if prev := b.slot.Swap(&m); prev != nil {
		b.overwritten.Add(1)
	}
}

// Take returns the freshest sample and empties the slot.
func (b *Mailbox) Take() (Measurement, bool) {
	p := b.slot.Swap(nil)
	if p == nil {
		return Measurement{}, false
	}
	return *p, true
}

// Stats returns how many samples were published and how many were replaced
// before being taken.
func (b *Mailbox) Stats() (published, overwritten uint64) {
	return b.published.Load(), b.overwritten.Load()
}
