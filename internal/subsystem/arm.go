package subsystem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
)

// ArmResource is the scheduler resource for the arm.
const ArmResource command.Resource = "arm"

// ArmSetpoint is a pivot angle and telescope extension.
type ArmSetpoint struct {
	Pivot     geom.Rotation2d
	Extension float64
}

// NewArmSetpoint builds a setpoint from degrees and meters.
func NewArmSetpoint(pivotDeg, extension float64) ArmSetpoint {
	return ArmSetpoint{Pivot: geom.FromDegrees(pivotDeg), Extension: extension}
}

func (s ArmSetpoint) String() string {
	return fmt.Sprintf("pivot %.1f° ext %.3fm", s.Pivot.Degrees(), s.Extension)
}

// ArmConfig bounds and tolerances for the arm.
type ArmConfig struct {
	MinPivotDeg, MaxPivotDeg float64
	MaxExtension             float64
	PivotToleranceDeg        float64
	ExtensionTolerance       float64
}

// DefaultArmConfig returns the arm's mechanical limits.
func DefaultArmConfig() ArmConfig {
	return ArmConfig{
		MinPivotDeg:        -120,
		MaxPivotDeg:        120,
		MaxExtension:       1.2,
		PivotToleranceDeg:  1.5,
		ExtensionTolerance: 0.02,
	}
}

// Arm tracks a target setpoint on an ArmIO.
type Arm struct {
	cfg    ArmConfig
	io     hal.ArmIO
	logger *slog.Logger

	inputs   hal.ArmInputs
	target   ArmSetpoint
	hasInput bool
	stale    bool
	faultLog rate.Sometimes

	// OnFault, when set, is called for every device error.
	OnFault func(source string, err error)
}

// NewArm creates an arm with no target until the first Periodic sample.
func NewArm(cfg ArmConfig, io hal.ArmIO, logger *slog.Logger) *Arm {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arm{
		cfg:      cfg,
		io:       io,
		logger:   logger.With("component", "arm"),
		faultLog: rate.Sometimes{Interval: time.Second},
	}
}

// SetTarget clamps sp to the arm's limits and makes it the target.
func (a *Arm) SetTarget(sp ArmSetpoint) {
	deg := math.Max(a.cfg.MinPivotDeg, math.Min(a.cfg.MaxPivotDeg, sp.Pivot.Degrees()))
	ext := math.Max(0, math.Min(a.cfg.MaxExtension, sp.Extension))
	a.target = ArmSetpoint{Pivot: geom.FromDegrees(deg), Extension: ext}
}

// Target returns the current target.
func (a *Arm) Target() ArmSetpoint { return a.target }

// Position returns the last measured setpoint.
func (a *Arm) Position() ArmSetpoint {
	return ArmSetpoint{Pivot: a.inputs.Pivot, Extension: a.inputs.Extension}
}

// AtTarget reports whether the last sample is within tolerance of target.
// A stale or missing sample is never at target.
func (a *Arm) AtTarget() bool {
	if !a.hasInput || a.stale {
		return false
	}
	return math.Abs(a.target.Pivot.Minus(a.inputs.Pivot).Degrees()) <= a.cfg.PivotToleranceDeg &&
		math.Abs(a.target.Extension-a.inputs.Extension) <= a.cfg.ExtensionTolerance
}

// Periodic samples the arm and writes the target. On the first sample the
// target is set to the measured position so that the arm does not move.
func (a *Arm) Periodic(ctx context.Context) {
	in, err := a.io.Read(ctx)
	if err != nil {
		a.stale = true
		a.fault("read", err)
	} else {
		a.inputs = in
		a.stale = false
		if !a.hasInput {
			a.hasInput = true
			a.target = a.Position()
		}
	}
	if !a.hasInput {
		return
	}

	if err := a.io.SetPivot(ctx, a.target.Pivot); err != nil {
		a.fault("set pivot", err)
	}
	if err := a.io.SetExtension(ctx, a.target.Extension); err != nil {
		a.fault("set extension", err)
	}
}

func (a *Arm) fault(op string, err error) {
	if a.OnFault != nil {
		a.OnFault("arm", err)
	}
	a.faultLog.Do(func() {
		a.logger.Warn("Arm fault", "op", op, "error", err)
	})
}

// ArmMove moves the arm to a setpoint and finishes on arrival.
type ArmMove struct {
	command.Base
	arm    *Arm
	target func() ArmSetpoint
}

// MoveArm returns a command that drives the arm straight to sp.
func MoveArm(arm *Arm, sp ArmSetpoint) *ArmMove {
	return &ArmMove{
		Base:   command.NewBase("MoveArm "+sp.String(), ArmResource),
		arm:    arm,
		target: func() ArmSetpoint { return sp },
	}
}

func (c *ArmMove) Initialize() error {
	c.arm.SetTarget(c.target())
	return nil
}

func (c *ArmMove) Execute() error   { return nil }
func (c *ArmMove) IsFinished() bool { return c.arm.AtTarget() }
func (c *ArmMove) End(bool)         {}

// SetArmPosition retracts, pivots at full retraction, then extends, so the
// telescope never sweeps extended.
func SetArmPosition(arm *Arm, sp ArmSetpoint) command.Command {
	retract := &ArmMove{
		Base: command.NewBase("Retract", ArmResource),
		arm:  arm,
		target: func() ArmSetpoint {
			return ArmSetpoint{Pivot: arm.Position().Pivot}
		},
	}
	pivot := MoveArm(arm, ArmSetpoint{Pivot: sp.Pivot})
	extend := MoveArm(arm, sp)
	return command.Named(command.Sequence(retract, pivot, extend), "SetArmPosition "+sp.String())
}

// HoldArm keeps the arm where it is when the command starts. It is the
// arm's default command.
func HoldArm(arm *Arm) *command.Functional {
	return &command.Functional{
		Base:   command.NewBase("HoldArm", ArmResource),
		OnInit: func() { arm.SetTarget(arm.Position()) },
	}
}
