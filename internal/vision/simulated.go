package vision

import (
	"context"
	"time"

	"github.com/robot-control/robotd/internal/geom"
)

// Simulated publishes the ground-truth pose with a fixed latency, standing
// in for a camera when running without hardware.
type Simulated struct {
	Truth      func() geom.Pose2d
	Clock      func() time.Duration
	Mailbox    *Mailbox
	Period     time.Duration
	Latency    time.Duration
	Confidence float64
}

// Run publishes until ctx is done.
func (s *Simulated) Run(ctx context.Context) error {
	period := s.Period
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Sampled now, stamped as if captured Latency ago.
			s.Mailbox.Publish(Measurement{
				Pose:       s.Truth(),
				Timestamp:  s.Clock() - s.Latency,
				Confidence: s.Confidence,
			})
		}
	}
}
