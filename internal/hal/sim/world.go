package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/kinematics"
)

// World integrates the simulated modules into a ground-truth robot pose and
// keeps the simulated gyro in step with it.
type World struct {
	mu sync.RWMutex

	kin     *kinematics.SwerveKinematics
	modules []*Module
	gyro    *Gyro
	pose    geom.Pose2d
}

// NewWorld wires modules, in kinematics order, to a gyro.
func NewWorld(kin *kinematics.SwerveKinematics, gyro *Gyro, modules ...*Module) (*World, error) {
	if len(modules) != kin.NumModules() {
		return nil, fmt.Errorf("sim: %d modules for a %d module layout", len(modules), kin.NumModules())
	}
	return &World{kin: kin, modules: modules, gyro: gyro}, nil
}

// Step advances the simulation by dt.
func (w *World) Step(dt time.Duration) {
	states := make([]kinematics.ModuleState, len(w.modules))
	for i, m := range w.modules {
		states[i] = m.step(dt)
	}
	speeds, err := w.kin.ToChassisSpeeds(states)
	if err != nil {
		return
	}

	s := dt.Seconds()
	w.mu.Lock()
	w.pose = w.pose.Exp(geom.Twist2d{Dx: speeds.Vx * s, Dy: speeds.Vy * s, Dtheta: speeds.Omega * s})
	w.mu.Unlock()
	w.gyro.addYaw(speeds.Omega * s)
}

// Pose returns the ground-truth pose.
func (w *World) Pose() geom.Pose2d {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pose
}

// Teleport places the robot and points the gyro along the new heading.
func (w *World) Teleport(p geom.Pose2d) {
	w.mu.Lock()
	w.pose = p
	w.mu.Unlock()
	w.gyro.SetYaw(p.Rotation)
}

// Modules returns the simulated modules in kinematics order.
func (w *World) Modules() []*Module {
	return append([]*Module(nil), w.modules...)
}

// Gyro returns the simulated gyro.
func (w *World) Gyro() *Gyro { return w.gyro }
