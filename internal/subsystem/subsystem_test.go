package subsystem

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal/sim"
)

type bench struct {
	ctx     context.Context
	now     time.Duration
	sched   *command.Scheduler
	armIO   *sim.Arm
	arm     *Arm
	gripIO  *sim.Gripper
	gripper *Gripper
}

func newBench(t *testing.T) *bench {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	b := &bench{ctx: context.Background(), armIO: sim.NewArm(), gripIO: sim.NewGripper()}
	b.sched = command.NewScheduler(b.clock, logger, ArmResource, GripperResource)
	b.arm = NewArm(DefaultArmConfig(), b.armIO, logger)
	b.gripper = NewGripper(DefaultGripperConfig(), b.gripIO, logger)
	require.NoError(t, b.sched.RegisterDefaultCommand(ArmResource, HoldArm(b.arm)))
	require.NoError(t, b.sched.RegisterDefaultCommand(GripperResource, GripperIdle(b.gripper)))
	b.tick()
	return b
}

func (b *bench) clock() time.Duration { return b.now }

func (b *bench) tick() {
	b.now += 20 * time.Millisecond
	b.sched.Tick()
	b.arm.Periodic(b.ctx)
	b.gripper.Periodic(b.ctx)
}

func (b *bench) runUntilIdle(t *testing.T, cmd command.Command, limit int) int {
	t.Helper()
	require.NoError(t, b.sched.ScheduleNow(cmd))
	for i := 1; i <= limit; i++ {
		b.tick()
		if !b.sched.IsScheduled(cmd) {
			return i
		}
	}
	t.Fatalf("%s still scheduled after %d ticks", cmd.Name(), limit)
	return limit
}

func TestArmFirstSampleHoldsPosition(t *testing.T) {
	io := sim.NewArm()
	require.NoError(t, io.SetPivot(context.Background(), geom.FromDegrees(30)))
	arm := NewArm(DefaultArmConfig(), io, nil)

	arm.Periodic(context.Background())
	assert.InDelta(t, 30, arm.Target().Pivot.Degrees(), 1e-9)
	assert.True(t, arm.AtTarget())
}

func TestArmTargetIsClamped(t *testing.T) {
	arm := NewArm(DefaultArmConfig(), sim.NewArm(), nil)
	arm.SetTarget(NewArmSetpoint(200, 3))
	assert.InDelta(t, 120, arm.Target().Pivot.Degrees(), 1e-9)
	assert.InDelta(t, 1.2, arm.Target().Extension, 1e-9)

	arm.SetTarget(NewArmSetpoint(-200, -1))
	assert.InDelta(t, -120, arm.Target().Pivot.Degrees(), 1e-9)
	assert.Zero(t, arm.Target().Extension)
}

func TestSetArmPositionRetractsFirst(t *testing.T) {
	b := newBench(t)
	b.arm.SetTarget(NewArmSetpoint(-20, 0.5))
	b.tick()
	b.tick()
	require.InDelta(t, 0.5, b.arm.Position().Extension, 1e-9)

	var seen []ArmSetpoint
	goal := NewArmSetpoint(45, 0.9)
	cmd := SetArmPosition(b.arm, goal)
	require.NoError(t, b.sched.ScheduleNow(cmd))
	for i := 0; i < 20 && b.sched.IsScheduled(cmd); i++ {
		b.tick()
		seen = append(seen, b.arm.Position())
	}
	require.False(t, b.sched.IsScheduled(cmd))

	// The pivot only moves once the telescope is retracted.
	for _, p := range seen {
		if p.Pivot.Degrees() > -20+1e-9 {
			assert.Zero(t, p.Extension, "extended while pivoting: %v", p)
			break
		}
	}
	final := b.arm.Position()
	assert.InDelta(t, 45, final.Pivot.Degrees(), 1e-9)
	assert.InDelta(t, 0.9, final.Extension, 1e-9)
	assert.Equal(t, "HoldArm", b.sched.Owner(ArmResource).Name())
}

func TestArmReadFaultIsNeverAtTarget(t *testing.T) {
	b := newBench(t)
	var faults int
	b.arm.OnFault = func(string, error) { faults++ }
	b.armIO.SetReadError(errors.New("CAN bus off"))
	b.tick()

	assert.False(t, b.arm.AtTarget())
	assert.Equal(t, 1, faults)
}

func TestIntakeUntilStall(t *testing.T) {
	b := newBench(t)
	cmd := Intake(b.gripper)
	require.NoError(t, b.sched.ScheduleNow(cmd))
	b.tick()
	assert.InDelta(t, 0.8, b.gripIO.Output(), 1e-9)

	b.gripIO.SetCurrent(30)
	ticks := 0
	for b.sched.IsScheduled(cmd) && ticks < 20 {
		b.tick()
		ticks++
	}
	// One tick for the current to be sampled, then five stalled ticks.
	assert.Equal(t, 6, ticks)
	assert.True(t, b.gripper.HasPiece())
	assert.InDelta(t, 0.1, b.gripIO.Output(), 1e-9)
	assert.Equal(t, "GripperIdle", b.sched.Owner(GripperResource).Name())
}

func TestInterruptedIntakeStopsRollers(t *testing.T) {
	b := newBench(t)
	cmd := Intake(b.gripper)
	require.NoError(t, b.sched.ScheduleNow(cmd))
	b.tick()
	b.sched.Cancel(cmd)
	b.tick()

	assert.False(t, b.gripper.HasPiece())
	assert.Zero(t, b.gripIO.Output())
}

func TestOuttakeIsTimed(t *testing.T) {
	b := newBench(t)
	b.gripper.hasPiece = true
	cmd := Outtake(b.gripper, b.clock, 100*time.Millisecond)
	assert.Equal(t, []command.Resource{GripperResource}, cmd.Requirements())

	ticks := b.runUntilIdle(t, cmd, 50)
	assert.Equal(t, 5, ticks)
	assert.False(t, b.gripper.HasPiece())
	assert.Zero(t, b.gripIO.Output())
}
