package swerve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/felixge/pidctrl"
	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
	"github.com/robot-control/robotd/internal/kinematics"
)

// State is the calibration state of a module.
type State int

const (
	// Uncalibrated means the relative steering encoder's zero is unknown.
	Uncalibrated State = iota
	// Calibrated means the relative encoder reads true wheel angle.
	Calibrated
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "UNCALIBRATED"
	case Calibrated:
		return "CALIBRATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNotCalibrated is reported when a module is commanded before
// ResetToAbsolute has succeeded.
var ErrNotCalibrated = errors.New("module not calibrated")

// Config holds the per-module constants.
type Config struct {
	Name string
	// AbsoluteOffset is the absolute sensor reading when the wheel points
	// straight forward.
	AbsoluteOffset geom.Rotation2d

	// Drive feed-forward gains, in output fraction per unit.
	KS, KV, KA float64
	// DriveKP is the proportional gain on velocity error, in output
	// fraction per m/s.
	DriveKP float64

	// MaxSpeed is the maximum wheel speed in m/s.
	MaxSpeed float64
	// Period is the nominal control period, used for acceleration
	// feed-forward.
	Period time.Duration

	// OnFault, when set, is called for every device error.
	OnFault func(module string, err error)
}

// Module drives one wheel to a commanded speed and angle.
type Module struct {
	cfg    Config
	io     hal.ModuleIO
	logger *slog.Logger

	state  State
	inputs hal.ModuleInputs
	stale  bool

	lastCommand kinematics.ModuleState
	lastDrive   hal.DriveCommand
	lastAngle   geom.Rotation2d

	velocityLoop *pidctrl.PIDController
	faultLog     rate.Sometimes
}

// NewModule creates an uncalibrated module.
func NewModule(cfg Config, io hal.ModuleIO, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	return &Module{
		cfg:          cfg,
		io:           io,
		logger:       logger.With("module", cfg.Name),
		velocityLoop: pidctrl.NewPIDController(cfg.DriveKP, 0, 0).SetOutputLimits(-1, 1),
		faultLog:     rate.Sometimes{Interval: time.Second},
	}
}

// Name returns the module's configured name.
func (m *Module) Name() string { return m.cfg.Name }

// CalibrationState returns the module's calibration state.
func (m *Module) CalibrationState() State { return m.state }

// ResetToAbsolute reads the absolute steering sensor and re-zeroes the
// relative encoder so that it reports true wheel angle. It may be called at
// any time; on failure the previous calibration state is kept.
func (m *Module) ResetToAbsolute(ctx context.Context) error {
	in, err := m.io.Read(ctx)
	if err != nil {
		m.fault("read absolute angle", err)
		return fmt.Errorf("reset %s to absolute: %w", m.cfg.Name, err)
	}

	angle := in.AbsoluteAngle.Minus(m.cfg.AbsoluteOffset)
	if err := m.io.SeedAngle(ctx, angle); err != nil {
		m.fault("seed angle", err)
		return fmt.Errorf("reset %s to absolute: %w", m.cfg.Name, err)
	}

	in.Angle = angle
	m.inputs = in
	m.stale = false
	m.lastAngle = angle
	m.state = Calibrated
	m.logger.Info("Module calibrated", "angle_deg", angle.Degrees())
	return nil
}

// Refresh samples the module sensors. On a read fault the previous sample is
// kept.
func (m *Module) Refresh(ctx context.Context) {
	in, err := m.io.Read(ctx)
	if err != nil {
		m.stale = true
		m.fault("read", err)
		return
	}
	m.inputs = in
	m.stale = false
}

// Stale reports whether the last Refresh failed.
func (m *Module) Stale() bool { return m.stale }

// State returns the last measured speed and angle.
func (m *Module) State() kinematics.ModuleState {
	return kinematics.ModuleState{Speed: m.inputs.DriveVelocity, Angle: m.inputs.Angle}
}

// Position returns the last measured distance and angle.
func (m *Module) Position() kinematics.ModulePosition {
	return kinematics.ModulePosition{Distance: m.inputs.DrivePosition, Angle: m.inputs.Angle}
}

// LastCommand returns the last state accepted by the hardware.
func (m *Module) LastCommand() kinematics.ModuleState { return m.lastCommand }

// SetDesiredState issues the drive and steering setpoints for desired.
//
// When parked the speed is forced to zero and desired.Angle is held without
// optimization. Otherwise, when allowOptimization is set the wheel never turns more than 90 degrees: if
// the shortest path to the target is longer, the opposite angle is used and
// the speed is negated.
func (m *Module) SetDesiredState(ctx context.Context, desired kinematics.ModuleState, allowOptimization, parked bool) {
	if m.state != Calibrated {
		m.fault("set desired state", ErrNotCalibrated)
		m.hold(ctx)
		return
	}
	if m.stale {
		m.hold(ctx)
		return
	}

	current := m.inputs.Angle
	target := desired
	switch {
	case parked:
		// A parked wheel holds exactly the requested angle.
		target.Speed = 0
		target.Angle = continuous(target.Angle, current)
	case allowOptimization:
		target = Optimize(target, current)
	default:
		target.Angle = continuous(target.Angle, current)
	}

	// Avoid jittering the steering when the wheel is essentially stopped.
	if !parked && math.Abs(target.Speed) <= 0.01*m.cfg.MaxSpeed {
		target.Angle = m.lastAngle
	}

	m.apply(ctx, target)
}

func (m *Module) apply(ctx context.Context, target kinematics.ModuleState) {
	drive := hal.DriveCommand{
		Velocity:    target.Speed,
		Feedforward: m.feedforward(target.Speed),
	}

	if err := m.io.SetAngle(ctx, target.Angle); err != nil {
		m.fault("set angle", err)
		return
	}
	if err := m.io.SetDrive(ctx, drive); err != nil {
		m.fault("set drive", err)
		return
	}

	m.lastCommand = target
	m.lastDrive = drive
	m.lastAngle = target.Angle
}

// hold re-issues the last accepted setpoints. Before anything has been
// accepted that is a zero-speed drive setpoint and no steering setpoint.
func (m *Module) hold(ctx context.Context) {
	if m.state == Calibrated && m.lastDrive != (hal.DriveCommand{}) {
		if err := m.io.SetAngle(ctx, m.lastCommand.Angle); err != nil {
			m.fault("hold angle", err)
		}
	}
	if err := m.io.SetDrive(ctx, m.lastDrive); err != nil {
		m.fault("hold drive", err)
	}
}

func (m *Module) feedforward(speed float64) float64 {
	accel := (speed - m.lastCommand.Speed) / m.cfg.Period.Seconds()
	ff := m.cfg.KS*sign(speed) + m.cfg.KV*speed + m.cfg.KA*accel

	correction := m.velocityLoop.Set(speed).UpdateDuration(m.inputs.DriveVelocity, m.cfg.Period)
	return clamp(ff+correction, -1, 1)
}

func (m *Module) fault(op string, err error) {
	if m.cfg.OnFault != nil {
		m.cfg.OnFault(m.cfg.Name, err)
	}
	m.faultLog.Do(func() {
		m.logger.Warn("Module fault, holding last command", "op", op, "error", err)
	})
}

// Optimize returns the state that reaches desired with at most 90 degrees of
// steering from current. The returned angle is expressed continuously from
// current, so the steering loop never unwinds a full turn.
func Optimize(desired kinematics.ModuleState, current geom.Rotation2d) kinematics.ModuleState {
	delta := desired.Angle.Minus(current).Radians()
	speed := desired.Speed
	if math.Abs(delta) > math.Pi/2 {
		delta = geom.Wrap(delta + math.Pi)
		speed = -speed
	}
	return kinematics.ModuleState{Speed: speed, Angle: geom.FromRadians(current.Radians() + delta)}
}

// continuous expresses target as the nearest equivalent angle to current.
func continuous(target, current geom.Rotation2d) geom.Rotation2d {
	return geom.FromRadians(current.Radians() + target.Minus(current).Radians())
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
