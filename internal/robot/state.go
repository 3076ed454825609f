package robot

import (
	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/geom"
)

// PoseState is a pose in field meters and degrees.
type PoseState struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingDeg float64 `json:"headingDeg"`
}

func poseState(p geom.Pose2d) PoseState {
	return PoseState{X: p.X(), Y: p.Y(), HeadingDeg: p.Rotation.Degrees()}
}

// ModuleStatus is one swerve module's measured state.
type ModuleStatus struct {
	Name        string  `json:"name"`
	SpeedMps    float64 `json:"speedMps"`
	AngleDeg    float64 `json:"angleDeg"`
	Calibration string  `json:"calibration"`
	Stale       bool    `json:"stale"`
}

// ArmStatus is the arm's position and target.
type ArmStatus struct {
	PivotDeg        float64 `json:"pivotDeg"`
	Extension       float64 `json:"extension"`
	TargetPivotDeg  float64 `json:"targetPivotDeg"`
	TargetExtension float64 `json:"targetExtension"`
	AtTarget        bool    `json:"atTarget"`
}

// GripperStatus is the roller output and whether a piece is held.
type GripperStatus struct {
	Output   float64 `json:"output"`
	HasPiece bool    `json:"hasPiece"`
}

// State is an immutable snapshot published after every tick.
type State struct {
	Mode     Mode   `json:"mode"`
	Tick     uint64 `json:"tick"`
	TimeMs   int64  `json:"timeMs"`
	Overruns uint64 `json:"overruns"`

	Pose         PoseState      `json:"pose"`
	OdometryPose PoseState      `json:"odometryPose"`
	PitchDeg     float64        `json:"pitchDeg"`
	GyroStale    bool           `json:"gyroStale"`
	Parked       bool           `json:"parked"`
	Modules      []ModuleStatus `json:"modules"`

	Arm     ArmStatus     `json:"arm"`
	Gripper GripperStatus `json:"gripper"`

	Commands     []command.Status            `json:"commands"`
	Owners       map[command.Resource]string `json:"owners"`
	SelectedAuto string                      `json:"selectedAuto"`
}

// Snapshot returns the most recently published State.
func (r *Robot) Snapshot() *State {
	return r.state.Load()
}

// publish runs on the tick goroutine.
func (r *Robot) publish() {
	s := &State{
		Mode:         r.mode,
		Tick:         r.ticks,
		TimeMs:       r.lastTick.Milliseconds(),
		Overruns:     r.overruns,
		Pose:         poseState(r.dt.Pose()),
		OdometryPose: poseState(r.dt.OdometryPose()),
		PitchDeg:     r.dt.Pitch().Degrees(),
		GyroStale:    r.dt.GyroStale(),
		Parked:       r.dt.Parked(),
		Commands:     r.sched.Scheduled(),
		Owners:       r.sched.Owners(),
		SelectedAuto: r.chooser.Selected(),
	}
	for _, m := range r.dt.Modules() {
		ms := m.State()
		s.Modules = append(s.Modules, ModuleStatus{
			Name:        m.Name(),
			SpeedMps:    ms.Speed,
			AngleDeg:    ms.Angle.Degrees(),
			Calibration: m.CalibrationState().String(),
			Stale:       m.Stale(),
		})
	}
	pos, target := r.arm.Position(), r.arm.Target()
	s.Arm = ArmStatus{
		PivotDeg:        pos.Pivot.Degrees(),
		Extension:       pos.Extension,
		TargetPivotDeg:  target.Pivot.Degrees(),
		TargetExtension: target.Extension,
		AtTarget:        r.arm.AtTarget(),
	}
	s.Gripper = GripperStatus{Output: r.gripper.Output(), HasPiece: r.gripper.HasPiece()}
	if s.Commands == nil {
		s.Commands = []command.Status{}
	}

	r.state.Store(s)
	if m := r.sinks.Metrics; m != nil {
		m.SetScheduled(len(s.Commands))
	}
}
