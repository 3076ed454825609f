package drivetrain

import (
	"math"
	"time"

	"github.com/felixge/pidctrl"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/kinematics"
)

// DriveInput is one operator sample for teleop driving. Values are
// fractions in [-1, 1].
type DriveInput struct {
	Forward       float64 `json:"forward"`
	Strafe        float64 `json:"strafe"`
	Rotate        float64 `json:"rotate"`
	FieldRelative bool    `json:"fieldRelative"`
	// Slow scales translation and rotation down for fine positioning.
	Slow bool `json:"slow"`
}

// TeleopCommand drives from the operator's sticks. It never finishes and is
// normally the drivetrain's default command.
type TeleopCommand struct {
	command.Base
	dt       *Drivetrain
	input    func() DriveInput
	deadband float64
	slow     float64
}

// TeleopDrive reads input every tick. Stick values inside deadband are
// treated as zero.
func TeleopDrive(dt *Drivetrain, input func() DriveInput, deadband float64) *TeleopCommand {
	return &TeleopCommand{
		Base:     command.NewBase("TeleopDrive", Resource),
		dt:       dt,
		input:    input,
		deadband: deadband,
		slow:     0.35,
	}
}

func (c *TeleopCommand) Initialize() error { return nil }

func (c *TeleopCommand) Execute() error {
	in := c.input()
	forward := applyDeadband(in.Forward, c.deadband)
	strafe := applyDeadband(in.Strafe, c.deadband)
	rotate := applyDeadband(in.Rotate, c.deadband)
	if in.Slow {
		forward, strafe, rotate = forward*c.slow, strafe*c.slow, rotate*c.slow
	}
	c.dt.Drive(forward, strafe, rotate, in.FieldRelative)
	return nil
}

func (c *TeleopCommand) IsFinished() bool { return false }

func (c *TeleopCommand) End(bool) { c.dt.Stop() }

// applyDeadband zeroes |v| <= db and rescales the rest to keep the output
// continuous.
func applyDeadband(v, db float64) float64 {
	if math.Abs(v) <= db {
		return 0
	}
	if db >= 1 {
		return 0
	}
	return math.Copysign((math.Abs(v)-db)/(1-db), v)
}

// AlignConfig tunes the holonomic pose controller shared by DriveToPose and
// FollowPath.
type AlignConfig struct {
	TranslationKP float64
	RotationKP    float64
	// MaxSpeed and MaxAngularSpeed bound the controller output.
	MaxSpeed        float64
	MaxAngularSpeed float64
	// PositionTolerance (m) and HeadingTolerance (rad) decide when
	// DriveToPose has arrived.
	PositionTolerance float64
	HeadingTolerance  float64
	Period            time.Duration
}

// DefaultAlignConfig returns gains tuned for grid alignment.
func DefaultAlignConfig() AlignConfig {
	return AlignConfig{
		TranslationKP:     2.5,
		RotationKP:        3.0,
		MaxSpeed:          2.0,
		MaxAngularSpeed:   math.Pi,
		PositionTolerance: 0.03,
		HeadingTolerance:  2 * math.Pi / 180,
		Period:            20 * time.Millisecond,
	}
}

// poseController drives the pose error to zero. Each axis is a P loop fed
// with the negated error against a zero setpoint, so that heading error can
// be wrapped before it reaches the controller.
type poseController struct {
	cfg     AlignConfig
	x, y, w *pidctrl.PIDController
}

func newPoseController(cfg AlignConfig) *poseController {
	pc := &poseController{cfg: cfg}
	pc.reset()
	return pc
}

func (pc *poseController) reset() {
	pc.x = pidctrl.NewPIDController(pc.cfg.TranslationKP, 0, 0).SetOutputLimits(-pc.cfg.MaxSpeed, pc.cfg.MaxSpeed).Set(0)
	pc.y = pidctrl.NewPIDController(pc.cfg.TranslationKP, 0, 0).SetOutputLimits(-pc.cfg.MaxSpeed, pc.cfg.MaxSpeed).Set(0)
	pc.w = pidctrl.NewPIDController(pc.cfg.RotationKP, 0, 0).SetOutputLimits(-pc.cfg.MaxAngularSpeed, pc.cfg.MaxAngularSpeed).Set(0)
}

// correct returns the field-relative correction toward target.
func (pc *poseController) correct(pose, target geom.Pose2d) (vx, vy, omega float64) {
	ex := target.X() - pose.X()
	ey := target.Y() - pose.Y()
	ew := target.Rotation.Minus(pose.Rotation).Radians()
	return pc.x.UpdateDuration(-ex, pc.cfg.Period),
		pc.y.UpdateDuration(-ey, pc.cfg.Period),
		pc.w.UpdateDuration(-ew, pc.cfg.Period)
}

// DriveToPoseCommand drives straight to a field pose on the fused estimate.
type DriveToPoseCommand struct {
	command.Base
	dt     *Drivetrain
	target geom.Pose2d
	cfg    AlignConfig
	pc     *poseController
}

// DriveToPose returns a command that finishes when the robot is within
// tolerance of target.
func DriveToPose(dt *Drivetrain, target geom.Pose2d, cfg AlignConfig) *DriveToPoseCommand {
	return &DriveToPoseCommand{
		Base:   command.NewBase("DriveToPose "+target.String(), Resource),
		dt:     dt,
		target: target,
		cfg:    cfg,
		pc:     newPoseController(cfg),
	}
}

// Target returns the goal pose.
func (c *DriveToPoseCommand) Target() geom.Pose2d { return c.target }

func (c *DriveToPoseCommand) Initialize() error {
	c.pc.reset()
	return nil
}

func (c *DriveToPoseCommand) Execute() error {
	pose := c.dt.Pose()
	vx, vy, omega := c.pc.correct(pose, c.target)
	c.dt.SetChassisSpeeds(kinematics.FromFieldRelative(vx, vy, omega, pose.Rotation))
	return nil
}

func (c *DriveToPoseCommand) IsFinished() bool {
	pose := c.dt.Pose()
	return pose.Translation.Sub(c.target.Translation).Norm() <= c.cfg.PositionTolerance &&
		math.Abs(c.target.Rotation.Minus(pose.Rotation).Radians()) <= c.cfg.HeadingTolerance
}

func (c *DriveToPoseCommand) End(bool) { c.dt.Stop() }

// TrajectoryState is one sample of a trajectory.
type TrajectoryState struct {
	Pose geom.Pose2d
	// Velocity is field-relative.
	Velocity kinematics.ChassisSpeeds
}

// Trajectory is a time-parameterized path produced by a planner.
type Trajectory interface {
	Duration() time.Duration
	Sample(t time.Duration) TrajectoryState
	InitialPose() geom.Pose2d
}

// FollowPathCommand tracks a trajectory with its velocity as feed-forward
// and the pose controller correcting drift.
type FollowPathCommand struct {
	command.Base
	dt    *Drivetrain
	traj  Trajectory
	pc    *poseController
	start time.Duration
}

// FollowPath returns a command that runs for the trajectory's duration.
func FollowPath(dt *Drivetrain, traj Trajectory, cfg AlignConfig) *FollowPathCommand {
	return &FollowPathCommand{
		Base: command.NewBase("FollowPath", Resource),
		dt:   dt,
		traj: traj,
		pc:   newPoseController(cfg),
	}
}

func (c *FollowPathCommand) Initialize() error {
	c.pc.reset()
	c.start = c.dt.Clock()()
	return nil
}

func (c *FollowPathCommand) Execute() error {
	ref := c.traj.Sample(c.dt.Clock()() - c.start)
	pose := c.dt.Pose()
	vx, vy, omega := c.pc.correct(pose, ref.Pose)
	c.dt.SetChassisSpeeds(kinematics.FromFieldRelative(
		ref.Velocity.Vx+vx, ref.Velocity.Vy+vy, ref.Velocity.Omega+omega, pose.Rotation))
	return nil
}

func (c *FollowPathCommand) IsFinished() bool {
	return c.dt.Clock()()-c.start >= c.traj.Duration()
}

func (c *FollowPathCommand) End(bool) { c.dt.Stop() }

// ResettingPath resets the pose to the trajectory's start and follows it.
func ResettingPath(dt *Drivetrain, traj Trajectory, cfg AlignConfig) *command.Sequential {
	reset := command.Instant("ResetPose", func() { dt.ResetPose(traj.InitialPose()) }, Resource)
	return command.Sequence(reset, FollowPath(dt, traj, cfg))
}

// BalanceConfig tunes the charge station balance.
type BalanceConfig struct {
	// KP is m/s of drive per degree of pitch.
	KP       float64
	MaxSpeed float64
	// LevelTolerance is the pitch, in degrees, considered level.
	LevelTolerance float64
	// LevelTicks is how many consecutive level ticks finish the command.
	LevelTicks int
	Period     time.Duration
}

// DefaultBalanceConfig returns the tuned charge station settings.
func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		KP:             0.03,
		MaxSpeed:       0.6,
		LevelTolerance: 2.5,
		LevelTicks:     25,
		Period:         20 * time.Millisecond,
	}
}

// BalanceCommand drives along the robot's x axis against the pitch until
// the robot stays level, then parks.
type BalanceCommand struct {
	command.Base
	dt    *Drivetrain
	cfg   BalanceConfig
	loop  *pidctrl.PIDController
	level int
}

// Balance returns a charge station balancing command.
func Balance(dt *Drivetrain, cfg BalanceConfig) *BalanceCommand {
	return &BalanceCommand{
		Base: command.NewBase("Balance", Resource),
		dt:   dt,
		cfg:  cfg,
	}
}

func (c *BalanceCommand) Initialize() error {
	c.loop = pidctrl.NewPIDController(c.cfg.KP, 0, 0).SetOutputLimits(-c.cfg.MaxSpeed, c.cfg.MaxSpeed).Set(0)
	c.level = 0
	return nil
}

func (c *BalanceCommand) Execute() error {
	pitch := c.dt.Pitch().Degrees()
	if math.Abs(pitch) <= c.cfg.LevelTolerance {
		c.level++
		c.dt.StopAndLock()
		return nil
	}
	c.level = 0
	// Nose up means the far side of the station is low: drive forward.
	vx := c.loop.UpdateDuration(-pitch, c.cfg.Period)
	c.dt.SetChassisSpeeds(kinematics.ChassisSpeeds{Vx: vx})
	return nil
}

func (c *BalanceCommand) IsFinished() bool { return c.level >= c.cfg.LevelTicks }

func (c *BalanceCommand) End(bool) { c.dt.StopAndLock() }
