package drivetrain

import (
	"errors"
	"time"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/kinematics"
)

// ErrShortPath is returned for a path with fewer than two waypoints.
var ErrShortPath = errors.New("path needs at least two waypoints")

// WaypointTrajectory moves through straight segments at a constant speed,
// turning the heading linearly along each segment.
type WaypointTrajectory struct {
	poses []geom.Pose2d
	// times[i] is when poses[i] is reached.
	times []time.Duration
}

var _ Trajectory = (*WaypointTrajectory)(nil)

// NewWaypointTrajectory returns a trajectory through poses at speed m/s.
func NewWaypointTrajectory(speed float64, poses ...geom.Pose2d) (*WaypointTrajectory, error) {
	if len(poses) < 2 {
		return nil, ErrShortPath
	}
	if speed <= 0 {
		return nil, errors.New("path speed must be positive")
	}
	times := make([]time.Duration, len(poses))
	for i := 1; i < len(poses); i++ {
		seg := poses[i].Distance(poses[i-1]) / speed
		times[i] = times[i-1] + time.Duration(seg*float64(time.Second))
	}
	return &WaypointTrajectory{poses: poses, times: times}, nil
}

func (w *WaypointTrajectory) Duration() time.Duration { return w.times[len(w.times)-1] }

func (w *WaypointTrajectory) InitialPose() geom.Pose2d { return w.poses[0] }

func (w *WaypointTrajectory) Sample(t time.Duration) TrajectoryState {
	last := len(w.poses) - 1
	if t <= 0 {
		t = 0
	}
	if t >= w.times[last] {
		return TrajectoryState{Pose: w.poses[last]}
	}

	i := 1
	for w.times[i] < t {
		i++
	}
	from, to := w.poses[i-1], w.poses[i]
	span := w.times[i] - w.times[i-1]
	if span <= 0 {
		return TrajectoryState{Pose: to}
	}
	frac := float64(t-w.times[i-1]) / float64(span)
	secs := span.Seconds()

	heading := from.Rotation.Plus(to.Rotation.Minus(from.Rotation).Times(frac))
	pose := geom.Pose2d{
		Translation: from.Translation.Add(to.Translation.Sub(from.Translation).Mul(frac)),
		Rotation:    heading,
	}
	d := to.Translation.Sub(from.Translation)
	return TrajectoryState{
		Pose: pose,
		Velocity: kinematics.ChassisSpeeds{
			Vx:    d.X / secs,
			Vy:    d.Y / secs,
			Omega: to.Rotation.Minus(from.Rotation).Radians() / secs,
		},
	}
}
