package subsystem

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/hal"
)

// GripperResource is the scheduler resource for the gripper.
const GripperResource command.Resource = "gripper"

// GripperConfig holds roller outputs and stall detection.
type GripperConfig struct {
	IntakeOutput  float64
	OuttakeOutput float64
	// HoldOutput keeps a captured piece seated.
	HoldOutput float64
	// StallCurrent, sustained for StallTicks, means a piece is captured.
	StallCurrent float64
	StallTicks   int
	OuttakeTime  time.Duration
}

// DefaultGripperConfig returns the tuned roller settings.
func DefaultGripperConfig() GripperConfig {
	return GripperConfig{
		IntakeOutput:  0.8,
		OuttakeOutput: -0.6,
		HoldOutput:    0.1,
		StallCurrent:  25,
		StallTicks:    5,
		OuttakeTime:   500 * time.Millisecond,
	}
}

// Gripper drives the rollers and tracks whether a piece is held.
type Gripper struct {
	cfg    GripperConfig
	io     hal.GripperIO
	logger *slog.Logger

	output   float64
	current  float64
	hasPiece bool
	faultLog rate.Sometimes

	// OnFault, when set, is called for every device error.
	OnFault func(source string, err error)
}

// NewGripper creates an idle gripper.
func NewGripper(cfg GripperConfig, io hal.GripperIO, logger *slog.Logger) *Gripper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gripper{
		cfg:      cfg,
		io:       io,
		logger:   logger.With("component", "gripper"),
		faultLog: rate.Sometimes{Interval: time.Second},
	}
}

// Config returns the gripper settings.
func (g *Gripper) Config() GripperConfig { return g.cfg }

// SetOutput sets the roller output for the next Periodic.
func (g *Gripper) SetOutput(v float64) { g.output = v }

// Output returns the commanded roller output.
func (g *Gripper) Output() float64 { return g.output }

// Current returns the last sampled roller current.
func (g *Gripper) Current() float64 { return g.current }

// HasPiece reports whether a game piece is held.
func (g *Gripper) HasPiece() bool { return g.hasPiece }

// Periodic samples the roller current and writes the output.
func (g *Gripper) Periodic(ctx context.Context) {
	if in, err := g.io.Read(ctx); err != nil {
		g.fault("read", err)
	} else {
		g.current = in.Current
	}
	if err := g.io.SetRollers(ctx, g.output); err != nil {
		g.fault("set rollers", err)
	}
}

func (g *Gripper) fault(op string, err error) {
	if g.OnFault != nil {
		g.OnFault("gripper", err)
	}
	g.faultLog.Do(func() {
		g.logger.Warn("Gripper fault", "op", op, "error", err)
	})
}

// IntakeCommand runs the rollers inward until the current shows a captured
// piece.
type IntakeCommand struct {
	command.Base
	g       *Gripper
	stalled int
}

// Intake returns a command that finishes once a piece is captured.
func Intake(g *Gripper) *IntakeCommand {
	return &IntakeCommand{Base: command.NewBase("Intake", GripperResource), g: g}
}

func (c *IntakeCommand) Initialize() error {
	c.stalled = 0
	c.g.SetOutput(c.g.cfg.IntakeOutput)
	return nil
}

func (c *IntakeCommand) Execute() error {
	if c.g.current >= c.g.cfg.StallCurrent {
		c.stalled++
	} else {
		c.stalled = 0
	}
	return nil
}

func (c *IntakeCommand) IsFinished() bool { return c.stalled >= c.g.cfg.StallTicks }

func (c *IntakeCommand) End(interrupted bool) {
	if !interrupted {
		c.g.hasPiece = true
		c.g.logger.Info("Piece captured")
	}
	if c.g.hasPiece {
		c.g.SetOutput(c.g.cfg.HoldOutput)
	} else {
		c.g.SetOutput(0)
	}
}

// Outtake ejects the held piece for d on the robot clock. A zero d uses the
// configured outtake time.
func Outtake(g *Gripper, clock command.Clock, d time.Duration) command.Command {
	if d <= 0 {
		d = g.cfg.OuttakeTime
	}
	wait := command.Wait(clock, d)
	eject := command.StartEnd("Eject",
		func() { g.SetOutput(g.cfg.OuttakeOutput) },
		func() {
			g.SetOutput(0)
			g.hasPiece = false
		},
		GripperResource)
	return command.Named(command.Deadline(wait, eject), "Outtake")
}

// GripperIdle holds a captured piece, or stops the rollers. It is the
// gripper's default command.
func GripperIdle(g *Gripper) *command.Functional {
	return &command.Functional{
		Base: command.NewBase("GripperIdle", GripperResource),
		OnInit: func() {
			if g.hasPiece {
				g.SetOutput(g.cfg.HoldOutput)
			} else {
				g.SetOutput(0)
			}
		},
	}
}
