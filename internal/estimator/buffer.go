package estimator

import (
	"sort"
	"time"

	"github.com/robot-control/robotd/internal/geom"
)

type sample struct {
	t    time.Duration
	pose geom.Pose2d
}

// poseBuffer is a time-ordered window of poses.
type poseBuffer struct {
	window  time.Duration
	samples []sample
}

func newPoseBuffer(window time.Duration) *poseBuffer {
	return &poseBuffer{window: window}
}

// add appends a sample. Samples older than the window, measured from t, are
// dropped. A sample at the same time as the newest replaces it.
func (b *poseBuffer) add(t time.Duration, p geom.Pose2d) {
	if n := len(b.samples); n > 0 && b.samples[n-1].t == t {
		b.samples[n-1].pose = p
		return
	}
	b.samples = append(b.samples, sample{t: t, pose: p})

	cut := 0
	for cut < len(b.samples)-1 && b.samples[cut].t < t-b.window {
		cut++
	}
	if cut > 0 {
		b.samples = append(b.samples[:0], b.samples[cut:]...)
	}
}

func (b *poseBuffer) clear() { b.samples = b.samples[:0] }

func (b *poseBuffer) oldest() (time.Duration, bool) {
	if len(b.samples) == 0 {
		return 0, false
	}
	return b.samples[0].t, true
}

// sampleAt interpolates the pose at t. Times outside the buffer clamp to
// the nearest end.
func (b *poseBuffer) sampleAt(t time.Duration) (geom.Pose2d, bool) {
	n := len(b.samples)
	if n == 0 {
		return geom.Pose2d{}, false
	}
	if t <= b.samples[0].t {
		return b.samples[0].pose, true
	}
	if t >= b.samples[n-1].t {
		return b.samples[n-1].pose, true
	}

	i := sort.Search(n, func(i int) bool { return b.samples[i].t >= t })
	lo, hi := b.samples[i-1], b.samples[i]
	frac := float64(t-lo.t) / float64(hi.t-lo.t)
	return lo.pose.Interpolate(hi.pose, frac), true
}
