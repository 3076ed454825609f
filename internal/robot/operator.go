package robot

import (
	"time"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/drivetrain"
	"github.com/robot-control/robotd/internal/subsystem"
)

// OperatorTimeout is how long an operator frame stays valid. A driver
// station that stops sending leaves the robot with neutral input.
const OperatorTimeout = 500 * time.Millisecond

// OperatorFrame is one sample of the driver station's controls.
type OperatorFrame struct {
	drivetrain.DriveInput

	Intake      bool `json:"intake"`
	Outtake     bool `json:"outtake"`
	Balance     bool `json:"balance"`
	Lock        bool `json:"lock"`
	ArmHigh     bool `json:"armHigh"`
	ArmMid      bool `json:"armMid"`
	ArmStow     bool `json:"armStow"`
	ZeroHeading bool `json:"zeroHeading"`
}

// SetOperator stores the latest operator frame. Safe for concurrent use.
func (r *Robot) SetOperator(f OperatorFrame) {
	r.operator.Store(&f)
}

// refreshOperator picks up a new frame, or falls back to neutral input once
// the current one is older than OperatorTimeout.
func (r *Robot) refreshOperator() {
	now := r.clock()
	if f := r.operator.Load(); f != r.lastFrame {
		r.lastFrame = f
		r.frameAt = now
	}
	if r.lastFrame == nil || now-r.frameAt > OperatorTimeout {
		r.frame = OperatorFrame{}
		return
	}
	r.frame = *r.lastFrame
}

func (r *Robot) driveInput() drivetrain.DriveInput {
	return r.frame.DriveInput
}

// bindOperator maps operator buttons onto commands. The bindings only fire
// in teleop.
func (r *Robot) bindOperator() {
	button := func(pressed func(OperatorFrame) bool) func() bool {
		return func() bool { return r.mode == Teleop && pressed(r.frame) }
	}

	r.sched.Bind(command.WhileTrue, button(func(f OperatorFrame) bool { return f.Intake }),
		subsystem.Intake(r.gripper))
	r.sched.Bind(command.OnTrue, button(func(f OperatorFrame) bool { return f.Outtake }),
		subsystem.Outtake(r.gripper, r.clock, 0))
	r.sched.Bind(command.WhileTrue, button(func(f OperatorFrame) bool { return f.Balance }),
		drivetrain.Balance(r.dt, r.mech.Balance))
	r.sched.Bind(command.WhileTrue, button(func(f OperatorFrame) bool { return f.Lock }),
		command.Run("Lock", r.dt.StopAndLock, drivetrain.Resource))
	r.sched.Bind(command.OnTrue, button(func(f OperatorFrame) bool { return f.ZeroHeading }),
		command.Instant("ZeroHeading", r.dt.ZeroHeading))

	for _, preset := range []struct {
		name    string
		pressed func(OperatorFrame) bool
	}{
		{"high", func(f OperatorFrame) bool { return f.ArmHigh }},
		{"mid", func(f OperatorFrame) bool { return f.ArmMid }},
		{"stow", func(f OperatorFrame) bool { return f.ArmStow }},
	} {
		sp, ok := r.catalogue.Setpoint(preset.name)
		if !ok {
			r.logger.Warn("Arm preset missing from catalogue, button unbound", "preset", preset.name)
			continue
		}
		r.sched.Bind(command.OnTrue, button(preset.pressed),
			command.Named(subsystem.SetArmPosition(r.arm, sp), "Arm "+preset.name))
	}
}
