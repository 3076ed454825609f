package drivetrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/estimator"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
	"github.com/robot-control/robotd/internal/kinematics"
	"github.com/robot-control/robotd/internal/swerve"
	"github.com/robot-control/robotd/internal/vision"
)

// Resource is the scheduler resource for the drivetrain.
const Resource command.Resource = "drivetrain"

// Config holds the drivetrain limits.
type Config struct {
	// MaxSpeed is the top wheel speed in m/s. Drive scales translation
	// fractions by it and Periodic desaturates to it.
	MaxSpeed float64
	// MaxAngularSpeed is the rotation rate, in rad/s, of a full rotate input.
	MaxAngularSpeed float64

	// StrafeDeadband and RotationDeadband bound the inputs that Drive treats
	// as a request to park. RotationDeadband is in rad/s.
	StrafeDeadband   float64
	RotationDeadband float64

	// GyroInverted is set when the IMU reports yaw clockwise positive.
	GyroInverted bool
	// DisableOptimization turns off the 90 degree steering optimization.
	DisableOptimization bool

	Estimator estimator.Config
}

// DefaultConfig returns the competition robot's limits.
func DefaultConfig() Config {
	return Config{
		MaxSpeed:         4.5,
		MaxAngularSpeed:  2 * math.Pi,
		StrafeDeadband:   0.02,
		RotationDeadband: 0.1,
		Estimator:        estimator.DefaultConfig(),
	}
}

// Hardware is the drivetrain's devices. Modules are in kinematics order.
type Hardware struct {
	Modules []*swerve.Module
	Gyro    hal.GyroIO
}

// Drivetrain owns the module controllers and the pose estimator. It is not
// safe for concurrent use.
type Drivetrain struct {
	cfg     Config
	kin     *kinematics.SwerveKinematics
	modules []*swerve.Module
	gyro    hal.GyroIO
	est     *estimator.Estimator
	mailbox *vision.Mailbox
	clock   command.Clock
	logger  *slog.Logger

	desired     []kinematics.ModuleState
	lock        []kinematics.ModuleState
	parked      bool
	orientation hal.GyroInputs
	gyroStale   bool
	gyroLog     rate.Sometimes

	// OnVision, when set, is called with every measurement taken from the
	// mailbox and the estimator's verdict.
	OnVision func(m vision.Measurement, err error)
	// OnSensorFault, when set, is called for every gyro read fault.
	OnSensorFault func(source string, err error)
}

// New creates a drivetrain at the field origin. It samples the gyro and the
// modules once to seed odometry. mailbox may be nil when no vision source is
// attached.
func New(ctx context.Context, cfg Config, kin *kinematics.SwerveKinematics, hw Hardware, mailbox *vision.Mailbox, clock command.Clock, logger *slog.Logger) (*Drivetrain, error) {
	if len(hw.Modules) != kin.NumModules() {
		return nil, fmt.Errorf("drivetrain: %d modules for %d offsets: %w", len(hw.Modules), kin.NumModules(), kinematics.ErrModuleCount)
	}
	if hw.Gyro == nil {
		return nil, errors.New("drivetrain: gyro is required")
	}
	if cfg.MaxSpeed <= 0 {
		return nil, fmt.Errorf("drivetrain: max speed must be positive, got %v", cfg.MaxSpeed)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		start := time.Now()
		clock = func() time.Duration { return time.Since(start) }
	}

	d := &Drivetrain{
		cfg:     cfg,
		kin:     kin,
		modules: hw.Modules,
		gyro:    hw.Gyro,
		mailbox: mailbox,
		clock:   clock,
		logger:  logger.With("component", "drivetrain"),
		desired: make([]kinematics.ModuleState, len(hw.Modules)),
		lock:    xLock(kin.Offsets()),
		gyroLog: rate.Sometimes{Interval: time.Second},
	}
	for _, m := range d.modules {
		m.Refresh(ctx)
	}
	d.holdMeasuredAngles()
	d.readGyro(ctx)

	est, err := estimator.New(cfg.Estimator, kin, d.Yaw(), d.ModulePositions(), geom.Pose2d{}, logger)
	if err != nil {
		return nil, fmt.Errorf("drivetrain: %w", err)
	}
	d.est = est
	return d, nil
}

// xLock turns every wheel 45 degrees toward the robot center so the wheels
// form an X and resist being pushed. The angle is fixed regardless of the
// wheel base to track width ratio.
func xLock(offsets []r2.Point) []kinematics.ModuleState {
	states := make([]kinematics.ModuleState, len(offsets))
	for i, o := range offsets {
		deg := 45 * sign(o.X) * sign(o.Y)
		states[i] = kinematics.ModuleState{Angle: geom.FromDegrees(deg)}
	}
	return states
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Drive commands the chassis from operator fractions in [-1, 1]. forward
// and strafe scale the maximum speed; rotate scales the maximum angular
// speed. With no meaningful input the drivetrain parks instead.
func (d *Drivetrain) Drive(forward, strafe, rotate float64, fieldRelative bool) {
	forward, strafe, rotate = clampUnit(forward), clampUnit(strafe), clampUnit(rotate)

	vx := forward * d.cfg.MaxSpeed
	vy := strafe * d.cfg.MaxSpeed
	omega := rotate * d.cfg.MaxAngularSpeed

	if forward == 0 && math.Abs(strafe) <= d.cfg.StrafeDeadband && math.Abs(omega) <= d.cfg.RotationDeadband {
		d.StopAndLock()
		return
	}

	speeds := kinematics.ChassisSpeeds{Vx: vx, Vy: vy, Omega: omega}
	if fieldRelative {
		speeds = kinematics.FromFieldRelative(vx, vy, omega, d.Pose().Rotation)
	}
	d.SetChassisSpeeds(speeds)
}

// SetChassisSpeeds commands a robot-relative chassis velocity.
func (d *Drivetrain) SetChassisSpeeds(speeds kinematics.ChassisSpeeds) {
	d.parked = false
	d.desired = d.kin.ToModuleStates(speeds)
}

// SetModuleStates commands each module directly.
func (d *Drivetrain) SetModuleStates(states []kinematics.ModuleState) error {
	if len(states) != len(d.modules) {
		return fmt.Errorf("drivetrain: %d states for %d modules: %w", len(states), len(d.modules), kinematics.ErrModuleCount)
	}
	d.parked = false
	d.desired = append(d.desired[:0], states...)
	return nil
}

// Stop commands zero speed and keeps the wheels where they point.
func (d *Drivetrain) Stop() {
	d.SetChassisSpeeds(kinematics.ChassisSpeeds{})
}

// StopAndLock parks the drivetrain with the wheels in an X.
func (d *Drivetrain) StopAndLock() {
	d.parked = true
	d.desired = append(d.desired[:0], d.lock...)
}

// Parked reports whether the drivetrain is in park mode.
func (d *Drivetrain) Parked() bool { return d.parked }

// DesiredStates returns the module states requested for the next Periodic,
// before desaturation and optimization.
func (d *Drivetrain) DesiredStates() []kinematics.ModuleState {
	return append([]kinematics.ModuleState(nil), d.desired...)
}

// Periodic runs the drivetrain's part of a tick: sample sensors, actuate
// the modules, advance odometry and apply the freshest vision measurement.
func (d *Drivetrain) Periodic(ctx context.Context) {
	d.readGyro(ctx)
	for _, m := range d.modules {
		m.Refresh(ctx)
	}

	states := kinematics.Desaturate(d.desired, d.cfg.MaxSpeed)
	for i, m := range d.modules {
		m.SetDesiredState(ctx, states[i], !d.cfg.DisableOptimization, d.parked)
	}

	d.est.Update(d.clock(), d.Yaw(), d.ModulePositions())

	if d.mailbox == nil {
		return
	}
	if m, ok := d.mailbox.Take(); ok {
		err := d.est.AddVisionMeasurement(m)
		if d.OnVision != nil {
			d.OnVision(m, err)
		}
	}
}

func (d *Drivetrain) readGyro(ctx context.Context) {
	in, err := d.gyro.Read(ctx)
	if err != nil {
		d.gyroStale = true
		d.gyroLog.Do(func() {
			d.logger.Warn("Gyro read failed, holding last orientation", "error", err)
		})
		if d.OnSensorFault != nil {
			d.OnSensorFault("gyro", err)
		}
		return
	}
	if d.cfg.GyroInverted {
		in.Yaw = in.Yaw.Neg()
	}
	d.orientation = in
	d.gyroStale = false
}

// Yaw returns the gyro heading, counter-clockwise positive, without the
// estimator's heading offset.
func (d *Drivetrain) Yaw() geom.Rotation2d { return d.orientation.Yaw }

// Pitch returns the last valid gyro pitch.
func (d *Drivetrain) Pitch() geom.Rotation2d { return d.orientation.Pitch }

// Roll returns the last valid gyro roll.
func (d *Drivetrain) Roll() geom.Rotation2d { return d.orientation.Roll }

// GyroStale reports whether the last gyro read failed.
func (d *Drivetrain) GyroStale() bool { return d.gyroStale }

// Pose returns the fused field pose.
func (d *Drivetrain) Pose() geom.Pose2d { return d.est.Pose() }

// OdometryPose returns the pose from odometry alone.
func (d *Drivetrain) OdometryPose() geom.Pose2d { return d.est.OdometryPose() }

// ResetPose places the robot at pose, discarding fused history, and leaves
// park mode.
func (d *Drivetrain) ResetPose(pose geom.Pose2d) {
	d.est.ResetPose(d.clock(), d.Yaw(), d.ModulePositions(), pose)
	d.parked = false
	d.logger.Info("Pose reset", "pose", pose.String())
}

// ZeroHeading makes the direction the robot currently faces field-forward.
// The gyro itself is not reset.
func (d *Drivetrain) ZeroHeading() {
	d.est.ResetHeading(d.Yaw(), geom.Rotation2d{})
	d.logger.Info("Heading zeroed", "yaw_deg", d.Yaw().Degrees())
}

// ResetModulesToAbsolute recalibrates every module from its absolute
// sensor. A module that fails keeps its previous calibration; the errors are
// joined.
func (d *Drivetrain) ResetModulesToAbsolute(ctx context.Context) error {
	var errs []error
	for _, m := range d.modules {
		if err := m.ResetToAbsolute(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if !d.parked && d.stopped() {
		d.holdMeasuredAngles()
	}
	return errors.Join(errs...)
}

// holdMeasuredAngles makes a zero-speed request keep the wheels where the
// encoders say they are.
func (d *Drivetrain) holdMeasuredAngles() {
	angles := make([]geom.Rotation2d, len(d.modules))
	for i, m := range d.modules {
		angles[i] = m.State().Angle
		d.desired[i] = kinematics.ModuleState{Angle: angles[i]}
	}
	_ = d.kin.ResetHeadings(angles)
}

func (d *Drivetrain) stopped() bool {
	for _, s := range d.desired {
		if s.Speed != 0 {
			return false
		}
	}
	return true
}

// ModulePositions returns the measured module positions.
func (d *Drivetrain) ModulePositions() []kinematics.ModulePosition {
	p := make([]kinematics.ModulePosition, len(d.modules))
	for i, m := range d.modules {
		p[i] = m.Position()
	}
	return p
}

// ModuleStates returns the measured module speeds and angles.
func (d *Drivetrain) ModuleStates() []kinematics.ModuleState {
	s := make([]kinematics.ModuleState, len(d.modules))
	for i, m := range d.modules {
		s[i] = m.State()
	}
	return s
}

// Modules returns the module controllers in kinematics order.
func (d *Drivetrain) Modules() []*swerve.Module {
	return append([]*swerve.Module(nil), d.modules...)
}

// ChassisSpeeds returns the measured robot-relative velocity.
func (d *Drivetrain) ChassisSpeeds() kinematics.ChassisSpeeds {
	speeds, err := d.kin.ToChassisSpeeds(d.ModuleStates())
	if err != nil {
		return kinematics.ChassisSpeeds{}
	}
	return speeds
}

// Kinematics returns the drivetrain geometry.
func (d *Drivetrain) Kinematics() *kinematics.SwerveKinematics { return d.kin }

// MaxSpeed returns the configured top wheel speed.
func (d *Drivetrain) MaxSpeed() float64 { return d.cfg.MaxSpeed }

// Clock returns the robot clock the drivetrain stamps odometry with.
func (d *Drivetrain) Clock() command.Clock { return d.clock }

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
