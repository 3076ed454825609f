package kinematics

import (
	"fmt"
	"math"

	"github.com/robot-control/robotd/internal/geom"
)

// ChassisSpeeds is a robot-relative velocity: Vx forward and Vy left in m/s,
// Omega counter-clockwise in rad/s.
type ChassisSpeeds struct {
	Vx, Vy, Omega float64
}

// FromFieldRelative converts a field-relative velocity to robot-relative
// speeds given the robot's current heading.
func FromFieldRelative(vx, vy, omega float64, heading geom.Rotation2d) ChassisSpeeds {
	c, s := heading.Cos(), heading.Sin()
	return ChassisSpeeds{
		Vx:    vx*c + vy*s,
		Vy:    -vx*s + vy*c,
		Omega: omega,
	}
}

// ToFieldRelative is the inverse of FromFieldRelative.
func (c ChassisSpeeds) ToFieldRelative(heading geom.Rotation2d) ChassisSpeeds {
	cs, sn := heading.Cos(), heading.Sin()
	return ChassisSpeeds{
		Vx:    c.Vx*cs - c.Vy*sn,
		Vy:    c.Vx*sn + c.Vy*cs,
		Omega: c.Omega,
	}
}

// IsZero reports whether every component is exactly zero.
func (c ChassisSpeeds) IsZero() bool {
	return c.Vx == 0 && c.Vy == 0 && c.Omega == 0
}

func (c ChassisSpeeds) String() string {
	return fmt.Sprintf("ChassisSpeeds(vx=%.3f, vy=%.3f, ω=%.3f)", c.Vx, c.Vy, c.Omega)
}

// ModuleState is the commanded (or measured) speed and steering angle of one
// module.
type ModuleState struct {
	Speed float64
	Angle geom.Rotation2d
}

// ModulePosition is the cumulative drive distance and steering angle of one
// module.
type ModulePosition struct {
	Distance float64
	Angle    geom.Rotation2d
}

// Desaturate scales every speed by maxSpeed/maxComputed when any module would
// exceed maxSpeed. Directions and speed ratios are preserved.
func Desaturate(states []ModuleState, maxSpeed float64) []ModuleState {
	out := make([]ModuleState, len(states))
	copy(out, states)

	peak := 0.0
	for _, s := range states {
		peak = math.Max(peak, math.Abs(s.Speed))
	}
	if peak <= maxSpeed || peak == 0 {
		return out
	}

	scale := maxSpeed / peak
	for i := range out {
		out[i].Speed *= scale
	}
	return out
}
