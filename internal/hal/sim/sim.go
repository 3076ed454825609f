// Package sim provides deterministic in-memory hardware for tests and for
// running the daemon without a robot attached.
//
// Devices settle on their setpoints immediately; World.Step integrates the
// resulting chassis motion so that odometry, the gyro and the simulated
// vision feed all agree on a ground-truth pose.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
	"github.com/robot-control/robotd/internal/kinematics"
)

// Module is a simulated swerve module. The absolute sensor reads the true
// steering angle plus AbsoluteOffset, and the relative encoder starts with
// an arbitrary bias until SeedAngle is called.
type Module struct {
	mu sync.Mutex

	name           string
	absoluteOffset geom.Rotation2d
	encoderBias    geom.Rotation2d

	angle    geom.Rotation2d
	velocity float64
	position float64

	drive    hal.DriveCommand
	setpoint geom.Rotation2d

	readErr  error
	writeErr error
	writes   int

	// Family names the hal token table used to normalize injected errors.
	Family string
}

var _ hal.ModuleIO = (*Module)(nil)

// NewModule creates a module whose absolute sensor is mounted absoluteOffset
// away from the true wheel angle and whose relative encoder powers up with
// encoderBias.
func NewModule(name string, absoluteOffset, encoderBias geom.Rotation2d) *Module {
	return &Module{
		name:           name,
		absoluteOffset: absoluteOffset,
		encoderBias:    encoderBias,
	}
}

func (m *Module) Read(ctx context.Context) (hal.ModuleInputs, error) {
	select {
	case <-ctx.Done():
		return hal.ModuleInputs{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return hal.ModuleInputs{}, hal.NormalizeFamily(m.name, m.Family, m.readErr, nil)
	}
	return hal.ModuleInputs{
		DriveVelocity: m.velocity,
		DrivePosition: m.position,
		Angle:         m.angle.Minus(m.encoderBias),
		AbsoluteAngle: m.angle.Plus(m.absoluteOffset),
	}, nil
}

func (m *Module) SetDrive(ctx context.Context, cmd hal.DriveCommand) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return hal.NormalizeFamily(m.name, m.Family, m.writeErr, nil)
	}
	m.drive = cmd
	m.velocity = cmd.Velocity
	m.writes++
	return nil
}

func (m *Module) SetAngle(ctx context.Context, angle geom.Rotation2d) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return hal.NormalizeFamily(m.name, m.Family, m.writeErr, nil)
	}
	m.setpoint = angle
	m.angle = angle.Plus(m.encoderBias)
	m.writes++
	return nil
}

func (m *Module) SeedAngle(ctx context.Context, angle geom.Rotation2d) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return hal.NormalizeFamily(m.name, m.Family, m.writeErr, nil)
	}
	m.encoderBias = m.angle.Minus(angle)
	return nil
}

// SetReadError makes every Read fail with err until cleared with nil.
func (m *Module) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes every setpoint write fail with err until cleared.
func (m *Module) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetTrueAngle moves the wheel by hand, as if pushed.
func (m *Module) SetTrueAngle(angle geom.Rotation2d) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.angle = angle
}

// TrueAngle returns the physical steering angle.
func (m *Module) TrueAngle() geom.Rotation2d {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.angle
}

// LastDrive returns the last accepted drive setpoint.
func (m *Module) LastDrive() hal.DriveCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drive
}

// LastAngleSetpoint returns the last accepted steering setpoint in encoder
// coordinates.
func (m *Module) LastAngleSetpoint() geom.Rotation2d {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setpoint
}

// Writes returns the number of accepted setpoint writes.
func (m *Module) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Module) step(dt time.Duration) kinematics.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position += m.velocity * dt.Seconds()
	return kinematics.ModuleState{Speed: m.velocity, Angle: m.angle}
}

func (m *Module) String() string {
	return fmt.Sprintf("sim.Module(%s)", m.name)
}

// Gyro is a simulated IMU. When Inverted is set, yaw is reported clockwise
// positive the way many navigation boards do.
type Gyro struct {
	mu sync.Mutex

	Inverted bool
	Family   string

	yaw, pitch, roll geom.Rotation2d
	readErr          error
}

var _ hal.GyroIO = (*Gyro)(nil)

// NewGyro returns a level gyro facing 0 rad.
func NewGyro(inverted bool) *Gyro {
	return &Gyro{Inverted: inverted}
}

func (g *Gyro) Read(ctx context.Context) (hal.GyroInputs, error) {
	select {
	case <-ctx.Done():
		return hal.GyroInputs{}, ctx.Err()
	default:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readErr != nil {
		return hal.GyroInputs{}, hal.NormalizeFamily("gyro", g.Family, g.readErr, nil)
	}
	yaw := g.yaw
	if g.Inverted {
		yaw = yaw.Neg()
	}
	return hal.GyroInputs{Yaw: yaw, Pitch: g.pitch, Roll: g.roll}, nil
}

// SetYaw sets the true counter-clockwise yaw.
func (g *Gyro) SetYaw(yaw geom.Rotation2d) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yaw = yaw
}

// SetTilt sets pitch and roll.
func (g *Gyro) SetTilt(pitch, roll geom.Rotation2d) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pitch, g.roll = pitch, roll
}

// SetReadError makes every Read fail with err until cleared with nil.
func (g *Gyro) SetReadError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readErr = err
}

func (g *Gyro) addYaw(d float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yaw = g.yaw.Plus(geom.FromRadians(d))
}
