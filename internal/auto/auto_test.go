package auto

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/drivetrain"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal/sim"
	"github.com/robot-control/robotd/internal/subsystem"
)

type bench struct {
	ctx     context.Context
	now     time.Duration
	sched   *command.Scheduler
	arm     *subsystem.Arm
	gripper *subsystem.Gripper
	m       Mechanisms
}

// newBench wires the arm and gripper. Routines that touch the drivetrain
// can be built against it but not run.
func newBench(t *testing.T) *bench {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	b := &bench{ctx: context.Background()}
	b.sched = command.NewScheduler(b.clock, logger, drivetrain.Resource, subsystem.ArmResource, subsystem.GripperResource)
	b.arm = subsystem.NewArm(subsystem.DefaultArmConfig(), sim.NewArm(), logger)
	b.gripper = subsystem.NewGripper(subsystem.DefaultGripperConfig(), sim.NewGripper(), logger)
	require.NoError(t, b.sched.RegisterDefaultCommand(subsystem.ArmResource, subsystem.HoldArm(b.arm)))
	require.NoError(t, b.sched.RegisterDefaultCommand(subsystem.GripperResource, subsystem.GripperIdle(b.gripper)))
	b.m = Mechanisms{
		Arm:     b.arm,
		Gripper: b.gripper,
		Clock:   b.clock,
		Align:   drivetrain.DefaultAlignConfig(),
		Balance: drivetrain.DefaultBalanceConfig(),
		Grid:    DefaultGridGeometry(),
	}
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

func (b *bench) run(t *testing.T, cmd command.Command, limit int) int {
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

func TestParsePolePosition(t *testing.T) {
	tests := []struct {
		in   string
		want PolePosition
		err  bool
	}{
		{"", Center, false},
		{"center", Center, false},
		{"Left", Left, false},
		{" right ", Right, false},
		{"up", Center, true},
	}
	for _, tt := range tests {
		got, err := ParsePolePosition(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestGridPoses(t *testing.T) {
	g := GridGeometry{PoleSpacing: 0.56, ApproachDistance: 0.35}
	// Facing the grid, which lies towards -x.
	node := geom.NewPose(1.85, 2.75, geom.FromDegrees(180))

	center := g.ScorePose(node, Center)
	assert.True(t, center.Equal(node, 1e-9), center)

	left := g.ScorePose(node, Left)
	assert.InDelta(t, 1.85, left.X(), 1e-9)
	assert.InDelta(t, 2.19, left.Y(), 1e-9)
	assert.InDelta(t, 180, math.Abs(left.Rotation.Degrees()), 1e-9)

	right := g.ScorePose(node, Right)
	assert.InDelta(t, 3.31, right.Y(), 1e-9)

	approach := g.ApproachPose(node, Left)
	assert.InDelta(t, 2.20, approach.X(), 1e-9)
	assert.InDelta(t, 2.19, approach.Y(), 1e-9)
}

func TestWithPolePositionCopies(t *testing.T) {
	base := ScoringTarget{Name: "cone-high"}
	left := base.WithPolePosition(Left)
	assert.Equal(t, Left, left.Pole)
	assert.Equal(t, Center, base.Pole)
}

func TestGridScoreHoldsAllMechanisms(t *testing.T) {
	b := newBench(t)
	target := ScoringTarget{
		Name:     "cone-high",
		Approach: subsystem.NewArmSetpoint(35, 0),
		Score:    subsystem.NewArmSetpoint(40, 1),
		Pole:     Right,
	}
	cmd := GridScore(b.m, geom.NewPose(1.85, 1.07, geom.FromDegrees(180)), target)
	assert.Equal(t, "GridScore cone-high right", cmd.Name())
	assert.ElementsMatch(t,
		[]command.Resource{drivetrain.Resource, subsystem.ArmResource, subsystem.GripperResource},
		cmd.Requirements())
}

func TestDefaultCatalogue(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)

	assert.Equal(t, "ScoreHighAndBalance", cat.Default)
	assert.Equal(t, []string{DoNothing, "ScoreHigh", "ScoreHighAndBalance", "Taxi", "TwoPiece"}, cat.Names())

	b := newBench(t)
	for _, name := range cat.Names() {
		cmd, err := cat.Build(name, b.m)
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	cmd, err := cat.Build("ScoreHigh", b.m)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]command.Resource{drivetrain.Resource, subsystem.ArmResource, subsystem.GripperResource},
		cmd.Requirements())

	taxi, err := cat.Build("Taxi", b.m)
	require.NoError(t, err)
	assert.Equal(t, []command.Resource{drivetrain.Resource}, taxi.Requirements())
}

func TestBuildUnknownRoutine(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)
	_, err = cat.Build("Moonshot", newBench(t).m)
	assert.ErrorIs(t, err, ErrUnknownRoutine)
}

func TestCatalogueValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"two kinds", `
routines:
  A:
    wait: 1s
    arm: home
`},
		{"no kind", `
routines:
  A:
    name: empty
`},
		{"unknown setpoint", `
routines:
  A:
    arm: nowhere
`},
		{"unknown node", `
setpoints: {high: {pivot: 40, extension: 1}}
targets: {cone: {approach: high, score: high}}
routines:
  A:
    score: {node: far, target: cone}
`},
		{"bad pole", `
nodes: {n: {x: 1, y: 1, heading: 180}}
setpoints: {high: {pivot: 40, extension: 1}}
targets: {cone: {approach: high, score: high}}
routines:
  A:
    score: {node: n, target: cone, pole: up}
`},
		{"target with unknown setpoint", `
targets: {cone: {approach: high, score: high}}
`},
		{"unknown default", `
default: Moonshot
`},
		{"reserved name", `
routines:
  DoNothing:
    wait: 1s
`},
		{"short path", `
routines:
  A:
    path: {speed: 1, waypoints: [{x: 0, y: 0}]}
`},
		{"nested invalid", `
routines:
  A:
    sequence:
      - wait: 1s
      - race:
          - wait: 1s
          - {}
`},
		{"unknown field", `
routines:
  A:
    fly: true
`},
		{"negative timeout", `
routines:
  A:
    timeout: -1s
    wait: 1s
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalogue([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParallelStepsMustNotShareResources(t *testing.T) {
	cat, err := ParseCatalogue([]byte(`
routines:
  Clash:
    parallel:
      - drive_to: {x: 1, y: 0}
      - drive_to: {x: 2, y: 0}
`))
	require.NoError(t, err)
	_, err = cat.Build("Clash", newBench(t).m)
	assert.ErrorIs(t, err, ErrSharedResource)
}

func TestRoutineRuns(t *testing.T) {
	cat, err := ParseCatalogue([]byte(`
setpoints:
  high: {pivot: 40, extension: 1.0}
routines:
  Place:
    sequence:
      - arm: high
      - outtake: {duration: 100ms}
      - arm: home
`))
	require.NoError(t, err)

	b := newBench(t)
	cmd, err := cat.Build("Place", b.m)
	require.NoError(t, err)
	assert.ElementsMatch(t, []command.Resource{subsystem.ArmResource, subsystem.GripperResource}, cmd.Requirements())

	b.run(t, cmd, 60)
	pos := b.arm.Position()
	assert.InDelta(t, 0, pos.Pivot.Degrees(), 1e-9)
	assert.InDelta(t, 0, pos.Extension, 1e-9)
	assert.Zero(t, b.gripper.Output())
	assert.Equal(t, "HoldArm", b.sched.Owner(subsystem.ArmResource).Name())
}

func TestStepTimeoutAndName(t *testing.T) {
	cat, err := ParseCatalogue([]byte(`
routines:
  Slow:
    sequence:
      - name: Nap
        timeout: 100ms
        wait: 10s
`))
	require.NoError(t, err)

	b := newBench(t)
	cmd, err := cat.Build("Slow", b.m)
	require.NoError(t, err)
	assert.Equal(t, "sequence(Nap)", cmd.(*command.NamedCommand).Unwrap().Name())

	ticks := b.run(t, cmd, 50)
	assert.LessOrEqual(t, ticks, 7)
}

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: Hop\nroutines:\n  Hop:\n    wait: 1s\n"), 0o644))

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)
	assert.Equal(t, "Hop", cat.Default)

	_, err = LoadCatalogue(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestChooser(t *testing.T) {
	cat, err := ParseCatalogue([]byte(`
default: Hop
routines:
  Hop:
    wait: 1s
  Skip:
    wait: 2s
  Clash:
    parallel:
      - drive_to: {x: 1, y: 0}
      - drive_to: {x: 2, y: 0}
`))
	require.NoError(t, err)
	b := newBench(t)
	c := NewChooser(cat, slog.New(slog.DiscardHandler))

	assert.Equal(t, "Hop", c.Selected())
	assert.Equal(t, "Hop", c.Command(b.m).Name())

	assert.ErrorIs(t, c.Select("Moonshot"), ErrUnknownRoutine)
	require.NoError(t, c.Select("Skip"))
	assert.Equal(t, "Skip", c.Selected())
	assert.Equal(t, "Skip", c.Command(b.m).Name())

	// A routine that cannot be built falls back to the default.
	require.NoError(t, c.Select("Clash"))
	assert.Equal(t, "Hop", c.Command(b.m).Name())

	require.NoError(t, c.Select("Skip"))
	reloaded, err := ParseCatalogue([]byte("routines:\n  Hop:\n    wait: 1s\n"))
	require.NoError(t, err)
	c.SetCatalogue(reloaded)
	assert.Equal(t, DoNothing, c.Selected())
	assert.Equal(t, []string{DoNothing, "Hop"}, c.Names())
}
