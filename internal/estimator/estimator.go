package estimator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/kinematics"
	"github.com/robot-control/robotd/internal/vision"
)

// ErrVisionRejected is matched by every rejection returned from
// AddVisionMeasurement.
var ErrVisionRejected = errors.New("vision measurement rejected")

// Reason says why a vision measurement was rejected.
type Reason string

const (
	ReasonLowConfidence Reason = "low_confidence"
	ReasonStale         Reason = "stale"
	ReasonNoHistory     Reason = "no_history"
	ReasonOutlier       Reason = "outlier"
)

// RejectError describes a rejected vision measurement.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrVisionRejected, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return ErrVisionRejected }

// Config tunes the estimator. Standard deviations are in meters, meters and
// radians for x, y and heading.
type Config struct {
	StateStdDevs  [3]float64
	VisionStdDevs [3]float64

	// MinConfidence is the lowest accepted measurement confidence.
	MinConfidence float64
	// MaxStaleness is the oldest accepted capture age.
	MaxStaleness time.Duration
	// OutlierDistance rejects measurements farther than this from the
	// current odometry-only pose. Zero disables the check.
	OutlierDistance float64
	// HistoryWindow bounds how far back measurements can be replayed.
	HistoryWindow time.Duration
}

// DefaultConfig returns settings suited to a 20 ms loop and a camera with
// roughly 100 ms of latency.
func DefaultConfig() Config {
	return Config{
		StateStdDevs:    [3]float64{0.1, 0.1, 0.1},
		VisionStdDevs:   [3]float64{0.9, 0.9, 0.9},
		MinConfidence:   0.5,
		MaxStaleness:    500 * time.Millisecond,
		OutlierDistance: 1.0,
		HistoryWindow:   1500 * time.Millisecond,
	}
}

type visionUpdate struct {
	t            time.Duration
	visionPose   geom.Pose2d
	odometryPose geom.Pose2d
}

// compensate carries the motion between the update's odometry pose and pose
// onto the corrected vision pose.
func (u visionUpdate) compensate(pose geom.Pose2d) geom.Pose2d {
	return u.visionPose.TransformBy(geom.NewTransform(u.odometryPose, pose))
}

// Estimator tracks the robot's field pose.
type Estimator struct {
	cfg    Config
	kin    *kinematics.SwerveKinematics
	logger *slog.Logger

	q [3]float64

	now            time.Duration
	odometryPose   geom.Pose2d
	prevPositions  []kinematics.ModulePosition
	prevHeading    geom.Rotation2d
	headingOffset  geom.Rotation2d
	odometryBuffer *poseBuffer

	updates  []visionUpdate
	estimate geom.Pose2d

	rejectLog rate.Sometimes
}

// New creates an estimator at initial, with the gyro currently reading
// gyroAngle and the modules at positions.
func New(cfg Config, kin *kinematics.SwerveKinematics, gyroAngle geom.Rotation2d, positions []kinematics.ModulePosition, initial geom.Pose2d, logger *slog.Logger) (*Estimator, error) {
	if len(positions) != kin.NumModules() {
		return nil, fmt.Errorf("estimator: %w", kinematics.ErrModuleCount)
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Estimator{
		cfg:            cfg,
		kin:            kin,
		logger:         logger.With("component", "estimator"),
		odometryBuffer: newPoseBuffer(cfg.HistoryWindow),
		rejectLog:      rate.Sometimes{Interval: time.Second},
	}
	for i, s := range cfg.StateStdDevs {
		e.q[i] = s * s
	}
	e.ResetPose(0, gyroAngle, positions, initial)
	return e, nil
}

// Pose returns the current fused estimate.
func (e *Estimator) Pose() geom.Pose2d { return e.estimate }

// OdometryPose returns the pose from odometry alone, ignoring vision.
func (e *Estimator) OdometryPose() geom.Pose2d { return e.odometryPose }

// Timestamp returns the time of the last odometry step.
func (e *Estimator) Timestamp() time.Duration { return e.now }

// ResetPose discards all history and places the robot at pose.
func (e *Estimator) ResetPose(t time.Duration, gyroAngle geom.Rotation2d, positions []kinematics.ModulePosition, pose geom.Pose2d) {
	e.headingOffset = pose.Rotation.Minus(gyroAngle)
	e.prevHeading = pose.Rotation
	e.prevPositions = append(e.prevPositions[:0], positions...)
	e.odometryPose = pose
	e.estimate = pose
	if t > e.now {
		e.now = t
	}

	e.odometryBuffer.clear()
	e.updates = e.updates[:0]
	e.odometryBuffer.add(e.now, pose)
}

// ResetHeading makes the robot's current heading read as heading without
// touching the gyro. Translation is kept; vision history is discarded.
func (e *Estimator) ResetHeading(gyroAngle, heading geom.Rotation2d) {
	e.headingOffset = heading.Minus(gyroAngle)
	e.prevHeading = heading
	e.odometryPose = geom.Pose2d{Translation: e.estimate.Translation, Rotation: heading}
	e.estimate = e.odometryPose

	e.odometryBuffer.clear()
	e.updates = e.updates[:0]
	e.odometryBuffer.add(e.now, e.odometryPose)
}

// Update applies one odometry step and returns the new estimate. t must not
// go backwards; an earlier t is treated as the previous timestamp.
func (e *Estimator) Update(t time.Duration, gyroAngle geom.Rotation2d, positions []kinematics.ModulePosition) geom.Pose2d {
	if t < e.now {
		t = e.now
	}
	e.now = t

	heading := gyroAngle.Plus(e.headingOffset)
	if twist, err := e.kin.ToTwist(e.prevPositions, positions); err == nil {
		twist.Dtheta = heading.Minus(e.prevHeading).Radians()
		moved := e.odometryPose.Exp(twist)
		e.odometryPose = geom.Pose2d{Translation: moved.Translation, Rotation: heading}
		e.prevPositions = append(e.prevPositions[:0], positions...)
	} else {
		e.odometryPose.Rotation = heading
	}
	e.prevHeading = heading

	e.odometryBuffer.add(t, e.odometryPose)
	e.refresh()
	return e.estimate
}

// AddVisionMeasurement blends a delayed absolute measurement into the
// estimate. A rejected measurement leaves the estimate untouched and is
// returned as a *RejectError.
func (e *Estimator) AddVisionMeasurement(m vision.Measurement) error {
	if err := e.addVision(m); err != nil {
		e.rejectLog.Do(func() {
			e.logger.Info("Vision measurement rejected", "error", err, "capture", m.Timestamp, "now", e.now)
		})
		return err
	}
	return nil
}

func (e *Estimator) addVision(m vision.Measurement) error {
	if m.Confidence < e.cfg.MinConfidence || m.Confidence <= 0 {
		return &RejectError{Reason: ReasonLowConfidence, Detail: fmt.Sprintf("confidence %.2f below %.2f", m.Confidence, e.cfg.MinConfidence)}
	}

	t := m.Timestamp
	if t > e.now {
		t = e.now
	}
	if e.cfg.MaxStaleness > 0 && e.now-t > e.cfg.MaxStaleness {
		return &RejectError{Reason: ReasonStale, Detail: fmt.Sprintf("captured %v ago", e.now-t)}
	}
	oldest, ok := e.odometryBuffer.oldest()
	if !ok || t < oldest {
		return &RejectError{Reason: ReasonNoHistory, Detail: fmt.Sprintf("capture %v predates history", t)}
	}

	e.pruneUpdates(oldest)

	// The gate is anchored to odometry alone; accepted corrections never
	// move it.
	if e.cfg.OutlierDistance > 0 {
		if d := e.odometryPose.Distance(m.Pose); d > e.cfg.OutlierDistance {
			return &RejectError{Reason: ReasonOutlier, Detail: fmt.Sprintf("%.2f m from odometry", d)}
		}
	}

	odometrySample, _ := e.odometryBuffer.sampleAt(t)
	estimateAt := e.sampleAt(t, odometrySample)

	k := e.gain(m.Confidence)
	tw := estimateAt.Log(m.Pose)
	corrected := estimateAt.Exp(geom.Twist2d{Dx: k[0] * tw.Dx, Dy: k[1] * tw.Dy, Dtheta: k[2] * tw.Dtheta})

	// Later updates were computed from a history this one now replaces.
	i := sort.Search(len(e.updates), func(i int) bool { return e.updates[i].t >= t })
	e.updates = append(e.updates[:i], visionUpdate{t: t, visionPose: corrected, odometryPose: odometrySample})

	e.refresh()
	return nil
}

// gain returns the per-axis blend factor for a measurement. Lower confidence
// inflates the vision standard deviations.
func (e *Estimator) gain(confidence float64) [3]float64 {
	var k [3]float64
	for i := range k {
		if e.q[i] == 0 {
			continue
		}
		std := e.cfg.VisionStdDevs[i] / confidence
		r := std * std
		k[i] = e.q[i] / (e.q[i] + math.Sqrt(e.q[i]*r))
	}
	return k
}

// sampleAt returns the fused estimate as it stood at t.
func (e *Estimator) sampleAt(t time.Duration, odometrySample geom.Pose2d) geom.Pose2d {
	i := sort.Search(len(e.updates), func(i int) bool { return e.updates[i].t > t })
	if i == 0 {
		return odometrySample
	}
	return e.updates[i-1].compensate(odometrySample)
}

// pruneUpdates drops vision updates that can no longer be reached from the
// odometry history, keeping the newest one at or before oldest.
func (e *Estimator) pruneUpdates(oldest time.Duration) {
	i := sort.Search(len(e.updates), func(i int) bool { return e.updates[i].t > oldest })
	if i > 1 {
		e.updates = append(e.updates[:0], e.updates[i-1:]...)
	}
}

func (e *Estimator) refresh() {
	if oldest, ok := e.odometryBuffer.oldest(); ok {
		e.pruneUpdates(oldest)
	}
	if len(e.updates) == 0 {
		e.estimate = e.odometryPose
		return
	}
	e.estimate = e.updates[len(e.updates)-1].compensate(e.odometryPose)
}
