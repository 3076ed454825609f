package hal

import (
	"context"

	"github.com/robot-control/robotd/internal/geom"
)

// ModuleInputs is one sample of a swerve module's sensors.
type ModuleInputs struct {
	// DriveVelocity is the measured wheel surface speed in m/s.
	DriveVelocity float64
	// DrivePosition is the cumulative distance traveled in meters.
	DrivePosition float64
	// Angle is the steering angle reported by the relative encoder.
	Angle geom.Rotation2d
	// AbsoluteAngle is the raw absolute steering sensor reading, before the
	// module's mounting offset is removed.
	AbsoluteAngle geom.Rotation2d
}

// DriveCommand is a closed-loop velocity setpoint for a drive motor.
type DriveCommand struct {
	// Velocity is the target wheel surface speed in m/s.
	Velocity float64
	// Feedforward is the additional output, as a fraction of bus voltage,
	// applied on top of the motor controller's own loop.
	Feedforward float64
}

// ModuleIO is the hardware behind one swerve module.
type ModuleIO interface {
	// Read samples every module sensor.
	Read(ctx context.Context) (ModuleInputs, error)

	// SetDrive issues the drive velocity setpoint.
	SetDrive(ctx context.Context, cmd DriveCommand) error

	// SetAngle issues the steering position setpoint.
	SetAngle(ctx context.Context, angle geom.Rotation2d) error

	// SeedAngle re-zeroes the relative steering encoder so that it reads
	// angle at its current position.
	SeedAngle(ctx context.Context, angle geom.Rotation2d) error
}

// GyroInputs is the absolute orientation reported by the IMU, in the IMU's
// own sign convention.
type GyroInputs struct {
	Yaw, Pitch, Roll geom.Rotation2d
}

// GyroIO is the robot's inertial measurement unit.
type GyroIO interface {
	Read(ctx context.Context) (GyroInputs, error)
}

// ArmInputs is one sample of the arm's pivot and telescope sensors.
type ArmInputs struct {
	Pivot     geom.Rotation2d
	Extension float64 // meters from fully retracted
}

// ArmIO is the hardware behind the scoring arm.
type ArmIO interface {
	Read(ctx context.Context) (ArmInputs, error)
	SetPivot(ctx context.Context, angle geom.Rotation2d) error
	SetExtension(ctx context.Context, meters float64) error
}

// GripperInputs is one sample of the roller gripper.
type GripperInputs struct {
	Current float64 // amps drawn by the rollers
}

// GripperIO is the hardware behind the roller gripper.
type GripperIO interface {
	Read(ctx context.Context) (GripperInputs, error)
	// SetRollers drives the rollers at a fraction of full output. Positive
	// values intake.
	SetRollers(ctx context.Context, output float64) error
}
