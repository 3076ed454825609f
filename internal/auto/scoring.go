package auto

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r2"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/drivetrain"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/subsystem"
)

// PolePosition selects a column within a grid node.
type PolePosition int

const (
	Center PolePosition = iota
	Left
	Right
)

func (p PolePosition) String() string {
	switch p {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "center"
	}
}

// ParsePolePosition parses "left", "center" or "right". An empty string is
// center.
func ParsePolePosition(s string) (PolePosition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "center", "middle":
		return Center, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return Center, fmt.Errorf("unknown pole position %q", s)
}

// Lateral returns the sideways offset of the pole from the node center,
// positive to the robot's left when it faces the grid.
func (p PolePosition) Lateral(spacing float64) float64 {
	switch p {
	case Left:
		return spacing
	case Right:
		return -spacing
	default:
		return 0
	}
}

// ScoringTarget is how the arm scores one kind of piece at one level.
type ScoringTarget struct {
	Name     string
	Approach subsystem.ArmSetpoint
	Score    subsystem.ArmSetpoint
	Pole     PolePosition
}

// WithPolePosition returns a copy aimed at pole p.
func (t ScoringTarget) WithPolePosition(p PolePosition) ScoringTarget {
	t.Pole = p
	return t
}

// GridGeometry places scoring poses relative to a node. A node pose is where
// the robot stands, facing the grid, to score on the center pole.
type GridGeometry struct {
	PoleSpacing float64
	// ApproachDistance is how far behind the score pose the robot lines up
	// before the arm swings out.
	ApproachDistance float64
}

// DefaultGridGeometry returns the field's pole spacing.
func DefaultGridGeometry() GridGeometry {
	return GridGeometry{PoleSpacing: 0.56, ApproachDistance: 0.35}
}

// ScorePose is where the robot stands to score on pole p of node.
func (g GridGeometry) ScorePose(node geom.Pose2d, p PolePosition) geom.Pose2d {
	return node.TransformBy(geom.Transform2d{Translation: r2.Point{Y: p.Lateral(g.PoleSpacing)}})
}

// ApproachPose is the waypoint before ScorePose, backed away from the grid.
func (g GridGeometry) ApproachPose(node geom.Pose2d, p PolePosition) geom.Pose2d {
	return g.ScorePose(node, p).TransformBy(geom.Transform2d{Translation: r2.Point{X: -g.ApproachDistance}})
}

// Mechanisms are the resources a routine can command.
type Mechanisms struct {
	Drivetrain *drivetrain.Drivetrain
	Arm        *subsystem.Arm
	Gripper    *subsystem.Gripper
	Clock      command.Clock

	Align   drivetrain.AlignConfig
	Balance drivetrain.BalanceConfig
	Grid    GridGeometry
	// Home is the arm's stowed setpoint.
	Home subsystem.ArmSetpoint
}

// GridScore lines up on the approach waypoint while the arm moves to its
// approach setpoint, closes in, places the piece and stows the arm.
func GridScore(m Mechanisms, node geom.Pose2d, target ScoringTarget) command.Command {
	approach := m.Grid.ApproachPose(node, target.Pole)
	score := m.Grid.ScorePose(node, target.Pole)

	seq := command.Sequence(
		command.ParallelAll(
			drivetrain.DriveToPose(m.Drivetrain, approach, m.Align),
			subsystem.SetArmPosition(m.Arm, target.Approach),
		),
		drivetrain.DriveToPose(m.Drivetrain, score, m.Align),
		subsystem.MoveArm(m.Arm, target.Score),
		subsystem.Outtake(m.Gripper, m.Clock, 0),
		subsystem.SetArmPosition(m.Arm, m.Home),
	)
	return command.Named(seq, fmt.Sprintf("GridScore %s %s", target.Name, target.Pole))
}
