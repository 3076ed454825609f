package drivetrain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/geom"
)

// run drives cmd the way the scheduler would, one tick at a time, and
// returns the number of ticks until it finished.
func (r *rig) run(cmd command.Command, limit int) int {
	r.t.Helper()
	require.NoError(r.t, cmd.Initialize())
	for i := 1; i <= limit; i++ {
		require.NoError(r.t, cmd.Execute())
		r.tick()
		if cmd.IsFinished() {
			cmd.End(false)
			return i
		}
	}
	r.t.Fatalf("%s did not finish in %d ticks", cmd.Name(), limit)
	return limit
}

func TestTeleopDrive(t *testing.T) {
	r := newRig(t)
	in := DriveInput{Forward: 0.05}
	cmd := TeleopDrive(r.dt, func() DriveInput { return in }, 0.1)
	assert.Equal(t, []command.Resource{Resource}, cmd.Requirements())
	require.NoError(t, cmd.Initialize())

	require.NoError(t, cmd.Execute())
	assert.True(t, r.dt.Parked(), "stick noise parks the drivetrain")

	in = DriveInput{Forward: 1}
	require.NoError(t, cmd.Execute())
	assert.InDelta(t, maxSpeed, r.dt.DesiredStates()[0].Speed, 1e-9)

	in = DriveInput{Forward: 1, Slow: true}
	require.NoError(t, cmd.Execute())
	assert.InDelta(t, 0.35*maxSpeed, r.dt.DesiredStates()[0].Speed, 1e-9)

	cmd.End(true)
	assert.Zero(t, r.dt.DesiredStates()[0].Speed)
	assert.False(t, cmd.IsFinished())
}

func TestApplyDeadband(t *testing.T) {
	assert.Zero(t, applyDeadband(0.1, 0.1))
	assert.InDelta(t, 1, applyDeadband(1, 0.1), 1e-12)
	assert.InDelta(t, -0.5, applyDeadband(-0.55, 0.1), 1e-12)
}

func TestDriveToPose(t *testing.T) {
	r := newRig(t)
	target := geom.NewPose(1.0, 0.5, geom.Rotation2d{})
	cfg := DefaultAlignConfig()
	cmd := DriveToPose(r.dt, target, cfg)

	ticks := r.run(cmd, 500)
	assert.Greater(t, ticks, 10)
	assert.LessOrEqual(t, r.dt.Pose().Distance(target), cfg.PositionTolerance)
	assert.InDelta(t, r.world.Pose().X(), r.dt.Pose().X(), 0.05)
	assert.Zero(t, r.dt.DesiredStates()[0].Speed, "End stops the drivetrain")
}

func TestFollowPath(t *testing.T) {
	r := newRig(t)
	traj, err := NewWaypointTrajectory(1.0,
		geom.NewPose(2, 1, geom.Rotation2d{}),
		geom.NewPose(3, 1, geom.Rotation2d{}),
	)
	require.NoError(t, err)
	assert.Equal(t, time.Second, traj.Duration())

	cmd := ResettingPath(r.dt, traj, DefaultAlignConfig())
	assert.Equal(t, []command.Resource{Resource}, cmd.Requirements())

	ticks := r.run(cmd, 200)
	assert.InDelta(t, 51, ticks, 2)
	assert.InDelta(t, 3, r.dt.Pose().X(), 0.1)
	assert.InDelta(t, 1, r.dt.Pose().Y(), 0.01)
}

func TestWaypointTrajectorySample(t *testing.T) {
	traj, err := NewWaypointTrajectory(2.0,
		geom.NewPose(0, 0, geom.Rotation2d{}),
		geom.NewPose(2, 0, geom.FromDegrees(90)),
		geom.NewPose(2, 2, geom.FromDegrees(90)),
	)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, traj.Duration())

	mid := traj.Sample(500 * time.Millisecond)
	assert.InDelta(t, 1, mid.Pose.X(), 1e-9)
	assert.InDelta(t, 45, mid.Pose.Rotation.Degrees(), 1e-9)
	assert.InDelta(t, 2, mid.Velocity.Vx, 1e-9)
	assert.InDelta(t, math.Pi/2, mid.Velocity.Omega, 1e-9)

	second := traj.Sample(1500 * time.Millisecond)
	assert.InDelta(t, 2, second.Pose.X(), 1e-9)
	assert.InDelta(t, 1, second.Pose.Y(), 1e-9)
	assert.InDelta(t, 2, second.Velocity.Vy, 1e-9)

	end := traj.Sample(5 * time.Second)
	assert.Equal(t, geom.NewPose(2, 2, geom.FromDegrees(90)), end.Pose)
	assert.Zero(t, end.Velocity.Vx)

	_, err = NewWaypointTrajectory(1, geom.Pose2d{})
	assert.ErrorIs(t, err, ErrShortPath)
}

func TestBalance(t *testing.T) {
	r := newRig(t)
	cfg := DefaultBalanceConfig()
	cfg.LevelTicks = 3
	cmd := Balance(r.dt, cfg)
	require.NoError(t, cmd.Initialize())

	r.gyro.SetTilt(geom.FromDegrees(10), geom.Rotation2d{})
	r.tick()
	require.NoError(t, cmd.Execute())
	vx := r.dt.DesiredStates()[0].Speed
	assert.InDelta(t, 0.3, vx, 1e-9, "nose up drives forward")
	assert.InDelta(t, 0, r.dt.DesiredStates()[0].Angle.Degrees(), 1e-9)

	r.gyro.SetTilt(geom.FromDegrees(-40), geom.Rotation2d{})
	r.tick()
	require.NoError(t, cmd.Execute())
	assert.InDelta(t, cfg.MaxSpeed, r.dt.DesiredStates()[0].Speed, 1e-9)
	assert.InDelta(t, 180, math.Abs(r.dt.DesiredStates()[0].Angle.Degrees()), 1e-9)

	r.gyro.SetTilt(geom.FromDegrees(1), geom.Rotation2d{})
	for i := 0; i < 3; i++ {
		r.tick()
		assert.False(t, cmd.IsFinished())
		require.NoError(t, cmd.Execute())
	}
	assert.True(t, cmd.IsFinished())
	assert.True(t, r.dt.Parked())
}
