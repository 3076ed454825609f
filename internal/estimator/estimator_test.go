package estimator

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/kinematics"
	"github.com/robot-control/robotd/internal/vision"
)

const tick = 20 * time.Millisecond

type harness struct {
	t         *testing.T
	est       *Estimator
	now       time.Duration
	distance  float64
	angle     geom.Rotation2d
	gyroAngle geom.Rotation2d
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	kin, err := kinematics.NewSwerveKinematics(
		r2.Point{X: 0.29, Y: 0.33}, r2.Point{X: 0.29, Y: -0.33},
		r2.Point{X: -0.29, Y: 0.33}, r2.Point{X: -0.29, Y: -0.33},
	)
	require.NoError(t, err)

	h := &harness{t: t}
	est, err := New(cfg, kin, h.gyroAngle, h.positions(), geom.Pose2d{}, nil)
	require.NoError(t, err)
	h.est = est
	return h
}

func (h *harness) positions() []kinematics.ModulePosition {
	p := make([]kinematics.ModulePosition, 4)
	for i := range p {
		p[i] = kinematics.ModulePosition{Distance: h.distance, Angle: h.angle}
	}
	return p
}

// drive advances every wheel by d meters over one tick.
func (h *harness) drive(d float64) geom.Pose2d {
	h.now += tick
	h.distance += d
	return h.est.Update(h.now, h.gyroAngle, h.positions())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StateStdDevs = [3]float64{0.5, 0.5, 0.5}
	cfg.VisionStdDevs = [3]float64{0.5, 0.5, 0.5}
	return cfg
}

func TestOdometryStraightLine(t *testing.T) {
	h := newHarness(t, testConfig())

	var pose geom.Pose2d
	for i := 0; i < 10; i++ {
		pose = h.drive(0.125)
	}

	assert.InDelta(t, 1.25, pose.X(), 1e-9)
	assert.InDelta(t, 0, pose.Y(), 1e-9)
	assert.InDelta(t, 0, pose.Rotation.Radians(), 1e-9)
	assert.Equal(t, h.est.OdometryPose(), pose)
}

func TestOdometryUsesGyroForHeading(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gyroAngle = geom.FromDegrees(30)
	pose := h.drive(0)

	assert.InDelta(t, 30, pose.Rotation.Degrees(), 1e-9)
	assert.InDelta(t, 0, pose.X(), 1e-9)
}

func TestTimestampNeverGoesBackwards(t *testing.T) {
	h := newHarness(t, testConfig())
	h.drive(0.1)
	before := h.est.Timestamp()

	h.est.Update(before-10*time.Millisecond, h.gyroAngle, h.positions())
	assert.Equal(t, before, h.est.Timestamp())
}

func TestVisionOutlierRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 5; i++ {
		h.drive(0.1)
	}
	before := h.est.Pose()

	err := h.est.AddVisionMeasurement(vision.Measurement{
		Pose:       geom.NewPose(before.X()+3, before.Y()+4, geom.Rotation2d{}),
		Timestamp:  h.now,
		Confidence: 1,
	})

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonOutlier, rej.Reason)
	assert.ErrorIs(t, err, ErrVisionRejected)
	assert.Equal(t, before, h.est.Pose())
}

func TestVisionOutlierGateFollowsOdometry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.drive(0)

	// Measurements 0.9 m ahead of odometry pull the fused pose forward.
	for i := 0; i < 20; i++ {
		h.drive(0)
		require.NoError(t, h.est.AddVisionMeasurement(vision.Measurement{
			Pose:       geom.NewPose(0.9, 0, geom.Rotation2d{}),
			Timestamp:  h.now,
			Confidence: 1,
		}))
	}
	fused := h.est.Pose()
	require.Greater(t, fused.X(), 0.5)
	assert.InDelta(t, 0, h.est.OdometryPose().X(), 1e-9)

	// Within 1 m of the fused pose but 1.5 m from odometry.
	err := h.est.AddVisionMeasurement(vision.Measurement{
		Pose:       geom.NewPose(1.5, 0, geom.Rotation2d{}),
		Timestamp:  h.now,
		Confidence: 1,
	})
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonOutlier, rej.Reason)
	assert.Equal(t, fused, h.est.Pose())
}

func TestVisionRejections(t *testing.T) {
	tests := []struct {
		name   string
		m      func(h *harness) vision.Measurement
		reason Reason
	}{
		{
			name: "low confidence",
			m: func(h *harness) vision.Measurement {
				return vision.Measurement{Timestamp: h.now, Confidence: 0.1}
			},
			reason: ReasonLowConfidence,
		},
		{
			name: "stale",
			m: func(h *harness) vision.Measurement {
				return vision.Measurement{Timestamp: h.now - time.Second, Confidence: 1}
			},
			reason: ReasonStale,
		},
		{
			name: "before history",
			m: func(h *harness) vision.Measurement {
				return vision.Measurement{Timestamp: h.now - 400*time.Millisecond, Confidence: 1}
			},
			reason: ReasonNoHistory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxStaleness = 500 * time.Millisecond
			cfg.HistoryWindow = 300 * time.Millisecond
			h := newHarness(t, cfg)
			for i := 0; i < 60; i++ {
				h.drive(0.01)
			}
			before := h.est.Pose()

			err := h.est.AddVisionMeasurement(tt.m(h))
			var rej *RejectError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Equal(t, before, h.est.Pose())
		})
	}
}

func TestVisionLatencyCompensation(t *testing.T) {
	h := newHarness(t, testConfig())
	// 0.05 m per tick for 20 ticks: x = 1.0 at 400 ms, x = 0.5 at 200 ms.
	for i := 0; i < 20; i++ {
		h.drive(0.05)
	}
	require.InDelta(t, 1.0, h.est.Pose().X(), 1e-9)

	// The camera saw the robot 0.5 m to the left of where odometry put it,
	// 200 ms ago. Equal trust gives half of that correction.
	err := h.est.AddVisionMeasurement(vision.Measurement{
		Pose:       geom.NewPose(0.5, 0.5, geom.Rotation2d{}),
		Timestamp:  200 * time.Millisecond,
		Confidence: 1,
	})
	require.NoError(t, err)

	pose := h.est.Pose()
	assert.InDelta(t, 1.0, pose.X(), 1e-9)
	assert.InDelta(t, 0.25, pose.Y(), 1e-9)

	// Further odometry carries the correction forward.
	pose = h.drive(0.05)
	assert.InDelta(t, 1.05, pose.X(), 1e-9)
	assert.InDelta(t, 0.25, pose.Y(), 1e-9)
	assert.InDelta(t, 0, h.est.OdometryPose().Y(), 1e-9)
}

func TestFutureTimestampClampedToNow(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 5; i++ {
		h.drive(0.1)
	}

	err := h.est.AddVisionMeasurement(vision.Measurement{
		Pose:       geom.NewPose(0.5, 0.2, geom.Rotation2d{}),
		Timestamp:  h.now + time.Second,
		Confidence: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, h.est.Pose().Y(), 1e-9)
}

func TestLowerConfidenceMovesLess(t *testing.T) {
	run := func(conf float64) float64 {
		h := newHarness(t, testConfig())
		for i := 0; i < 5; i++ {
			h.drive(0.1)
		}
		require.NoError(t, h.est.AddVisionMeasurement(vision.Measurement{
			Pose:       geom.NewPose(0.5, 0.4, geom.Rotation2d{}),
			Timestamp:  h.now,
			Confidence: conf,
		}))
		return h.est.Pose().Y()
	}
	assert.Greater(t, run(1.0), run(0.6))
}

func TestResetPoseDiscardsHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 5; i++ {
		h.drive(0.1)
	}
	require.NoError(t, h.est.AddVisionMeasurement(vision.Measurement{
		Pose: geom.NewPose(0.5, 0.4, geom.Rotation2d{}), Timestamp: h.now, Confidence: 1,
	}))

	target := geom.NewPose(4, 2, geom.FromDegrees(180))
	h.est.ResetPose(h.now, h.gyroAngle, h.positions(), target)
	assert.Equal(t, target, h.est.Pose())

	pose := h.drive(0.5)
	assert.InDelta(t, 3.5, pose.X(), 1e-9)
	assert.InDelta(t, 2, pose.Y(), 1e-9)

	// A measurement from before the reset predates the new history.
	err := h.est.AddVisionMeasurement(vision.Measurement{
		Pose: target, Timestamp: h.now - 2*tick, Confidence: 1,
	})
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNoHistory, rej.Reason)
}

func TestResetHeadingIsAnOffset(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gyroAngle = geom.FromDegrees(75)
	h.drive(0)
	h.drive(0.2)
	x, y := h.est.Pose().X(), h.est.Pose().Y()

	h.est.ResetHeading(h.gyroAngle, geom.Rotation2d{})
	assert.InDelta(t, 0, h.est.Pose().Rotation.Degrees(), 1e-9)
	assert.InDelta(t, x, h.est.Pose().X(), 1e-9)
	assert.InDelta(t, y, h.est.Pose().Y(), 1e-9)

	// The gyro still reads 75, and driving forward now moves along +X.
	pose := h.drive(0.3)
	assert.InDelta(t, x+0.3, pose.X(), 1e-9)
	assert.InDelta(t, y, pose.Y(), 1e-9)
}

func TestBufferInterpolation(t *testing.T) {
	b := newPoseBuffer(time.Second)
	b.add(0, geom.NewPose(0, 0, geom.Rotation2d{}))
	b.add(100*time.Millisecond, geom.NewPose(1, 0, geom.Rotation2d{}))

	p, ok := b.sampleAt(25 * time.Millisecond)
	require.True(t, ok)
	assert.InDelta(t, 0.25, p.X(), 1e-9)

	b.add(1500*time.Millisecond, geom.NewPose(2, 0, geom.Rotation2d{}))
	oldest, _ := b.oldest()
	assert.Equal(t, 1500*time.Millisecond, oldest)
}
