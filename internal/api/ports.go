package api

import (
	"context"
	"net/http"

	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/robot"
	"github.com/robot-control/robotd/internal/telemetry"
)

// RobotPort defines what the API needs from the robot container.
type RobotPort interface {
	Snapshot() *robot.State
	SetMode(ctx context.Context, m robot.Mode) error
	ResetPose(ctx context.Context, pose geom.Pose2d) error
	ZeroHeading(ctx context.Context) error
	RealignModules(ctx context.Context) error
	Autos() (names []string, selected string)
	SelectAuto(ctx context.Context, name string) error
	SetOperator(f robot.OperatorFrame)
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

var _ RobotPort = (*robot.Robot)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
