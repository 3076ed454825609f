package robot

import (
	"fmt"

	"github.com/golang/geo/r2"

	"github.com/robot-control/robotd/internal/config"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal"
	"github.com/robot-control/robotd/internal/hal/sim"
	"github.com/robot-control/robotd/internal/kinematics"
)

// Hardware is the set of device ports the container drives. Modules are in
// the order of the configured module list.
type Hardware struct {
	Modules []hal.ModuleIO
	Gyro    hal.GyroIO
	Arm     hal.ArmIO
	Gripper hal.GripperIO
}

// NewKinematics places the configured modules on the chassis.
func NewKinematics(cfg config.DrivetrainConfig) (*kinematics.SwerveKinematics, error) {
	offsets := make([]r2.Point, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		x, y, ok := cfg.Offset(m)
		if !ok {
			return nil, fmt.Errorf("module %s: unknown corner %q", m.ID, m.Corner)
		}
		offsets = append(offsets, r2.Point{X: x, Y: y})
	}
	return kinematics.NewSwerveKinematics(offsets...)
}

// SimHardware builds simulated devices for cfg. The returned world must be
// stepped once per tick; New does that when it is passed in Options.
func SimHardware(cfg config.DrivetrainConfig, kin *kinematics.SwerveKinematics) (Hardware, *sim.World, error) {
	family := cfg.DeviceFamily
	if family == "" {
		family = "generic"
	}
	if !hal.HasFamily(family) {
		return Hardware{}, nil, fmt.Errorf("unknown device family %q", cfg.DeviceFamily)
	}
	gyro := sim.NewGyro(cfg.GyroInverted)
	gyro.Family = family
	mods := make([]*sim.Module, len(cfg.Modules))
	ports := make([]hal.ModuleIO, len(cfg.Modules))
	for i, m := range cfg.Modules {
		// The relative encoders power up pointing somewhere else, as real
		// ones do, so calibration is exercised.
		mods[i] = sim.NewModule(m.ID, geom.FromDegrees(m.AbsoluteOffset), geom.FromDegrees(float64(37*(i+1))))
		mods[i].Family = family
		ports[i] = mods[i]
	}
	world, err := sim.NewWorld(kin, gyro, mods...)
	if err != nil {
		return Hardware{}, nil, err
	}
	return Hardware{
		Modules: ports,
		Gyro:    gyro,
		Arm:     sim.NewArm(),
		Gripper: sim.NewGripper(),
	}, world, nil
}
