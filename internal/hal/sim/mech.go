package sim

import (
	"context"
	"sync"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
)

// Arm is a simulated pivoting telescope that reaches its setpoints on the
// next read.
type Arm struct {
	mu sync.Mutex

	pivot     geom.Rotation2d
	extension float64
	readErr   error
}

var _ hal.ArmIO = (*Arm)(nil)

func NewArm() *Arm { return &Arm{} }

func (a *Arm) Read(ctx context.Context) (hal.ArmInputs, error) {
	if err := ctx.Err(); err != nil {
		return hal.ArmInputs{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readErr != nil {
		return hal.ArmInputs{}, hal.Normalize("arm", a.readErr, nil)
	}
	return hal.ArmInputs{Pivot: a.pivot, Extension: a.extension}, nil
}

func (a *Arm) SetPivot(ctx context.Context, angle geom.Rotation2d) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pivot = angle
	return nil
}

func (a *Arm) SetExtension(ctx context.Context, meters float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extension = meters
	return nil
}

// SetReadError makes every Read fail with err until cleared with nil.
func (a *Arm) SetReadError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readErr = err
}

// Gripper is a simulated roller gripper. Current is set by the test.
type Gripper struct {
	mu sync.Mutex

	output  float64
	current float64
}

var _ hal.GripperIO = (*Gripper)(nil)

func NewGripper() *Gripper { return &Gripper{} }

func (g *Gripper) Read(ctx context.Context) (hal.GripperInputs, error) {
	if err := ctx.Err(); err != nil {
		return hal.GripperInputs{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return hal.GripperInputs{Current: g.current}, nil
}

func (g *Gripper) SetRollers(ctx context.Context, output float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = output
	return nil
}

// SetCurrent sets the simulated roller current draw.
func (g *Gripper) SetCurrent(amps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = amps
}

// Output returns the last roller command.
func (g *Gripper) Output() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output
}
