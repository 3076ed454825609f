package auto

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/drivetrain"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/subsystem"
)

// DoNothing is always in the catalogue.
const DoNothing = "DoNothing"

var (
	ErrUnknownRoutine = errors.New("unknown routine")
	ErrInvalidStep    = errors.New("invalid step")
	ErrSharedResource = errors.New("parallel steps share a resource")
)

//go:embed routines.yaml
var defaultRoutines []byte

// PoseSpec is a field pose with the heading in degrees.
type PoseSpec struct {
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Heading float64 `yaml:"heading"`
}

func (p PoseSpec) Pose() geom.Pose2d {
	return geom.NewPose(p.X, p.Y, geom.FromDegrees(p.Heading))
}

// SetpointSpec is an arm setpoint with the pivot in degrees.
type SetpointSpec struct {
	Pivot     float64 `yaml:"pivot"`
	Extension float64 `yaml:"extension"`
}

func (s SetpointSpec) Setpoint() subsystem.ArmSetpoint {
	return subsystem.NewArmSetpoint(s.Pivot, s.Extension)
}

// TargetSpec names the approach and score setpoints of a scoring target.
type TargetSpec struct {
	Approach string `yaml:"approach"`
	Score    string `yaml:"score"`
}

type GridSpec struct {
	PoleSpacing      float64 `yaml:"poleSpacing"`
	ApproachDistance float64 `yaml:"approachDistance"`
}

type PathStep struct {
	Speed     float64    `yaml:"speed"`
	Reset     bool       `yaml:"reset"`
	Waypoints []PoseSpec `yaml:"waypoints"`
}

type ScoreStep struct {
	Node   string `yaml:"node"`
	Target string `yaml:"target"`
	Pole   string `yaml:"pole"`
}

type IntakeStep struct {
	Timeout time.Duration `yaml:"timeout"`
}

type OuttakeStep struct {
	Duration time.Duration `yaml:"duration"`
}

type BalanceStep struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Step is one node of a routine. Exactly one kind field is set; Name and
// Timeout decorate whichever it is.
type Step struct {
	Name    string         `yaml:"name,omitempty"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`

	Sequence  []Step         `yaml:"sequence,omitempty"`
	Parallel  []Step         `yaml:"parallel,omitempty"`
	Race      []Step         `yaml:"race,omitempty"`
	Deadline  []Step         `yaml:"deadline,omitempty"`
	Wait      *time.Duration `yaml:"wait,omitempty"`
	DriveTo   *PoseSpec      `yaml:"drive_to,omitempty"`
	ResetPose *PoseSpec      `yaml:"reset_pose,omitempty"`
	Path      *PathStep      `yaml:"path,omitempty"`
	Arm       string         `yaml:"arm,omitempty"`
	Intake    *IntakeStep    `yaml:"intake,omitempty"`
	Outtake   *OuttakeStep   `yaml:"outtake,omitempty"`
	Balance   *BalanceStep   `yaml:"balance,omitempty"`
	Score     *ScoreStep     `yaml:"score,omitempty"`
}

func (s Step) kinds() []string {
	var k []string
	add := func(set bool, name string) {
		if set {
			k = append(k, name)
		}
	}
	add(s.Sequence != nil, "sequence")
	add(s.Parallel != nil, "parallel")
	add(s.Race != nil, "race")
	add(s.Deadline != nil, "deadline")
	add(s.Wait != nil, "wait")
	add(s.DriveTo != nil, "drive_to")
	add(s.ResetPose != nil, "reset_pose")
	add(s.Path != nil, "path")
	add(s.Arm != "", "arm")
	add(s.Intake != nil, "intake")
	add(s.Outtake != nil, "outtake")
	add(s.Balance != nil, "balance")
	add(s.Score != nil, "score")
	return k
}

// Catalogue is the set of named autonomous routines and the field data they
// refer to.
type Catalogue struct {
	Default   string                  `yaml:"default"`
	Grid      *GridSpec               `yaml:"grid,omitempty"`
	Home      *SetpointSpec           `yaml:"home,omitempty"`
	Nodes     map[string]PoseSpec     `yaml:"nodes"`
	Setpoints map[string]SetpointSpec `yaml:"setpoints"`
	Targets   map[string]TargetSpec   `yaml:"targets"`
	Routines  map[string]Step         `yaml:"routines"`
}

// DefaultCatalogue returns the built-in routines.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultRoutines)
}

// LoadCatalogue reads and validates a catalogue file.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}
	cat, err := ParseCatalogue(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalogue decodes YAML and validates every routine.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := yaml.UnmarshalStrict(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}
	if cat.Default == "" {
		cat.Default = DoNothing
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks step shapes and that every name a step refers to exists.
func (c *Catalogue) Validate() error {
	if !c.Has(c.Default) {
		return fmt.Errorf("%w: default %q", ErrUnknownRoutine, c.Default)
	}
	if _, ok := c.Routines[DoNothing]; ok {
		return fmt.Errorf("routine name %q is reserved", DoNothing)
	}
	for name, t := range c.Targets {
		for _, sp := range []string{t.Approach, t.Score} {
			if _, ok := c.Setpoints[sp]; !ok {
				return fmt.Errorf("target %s: unknown setpoint %q", name, sp)
			}
		}
	}
	for _, name := range c.Names() {
		if name == DoNothing {
			continue
		}
		if err := c.validateStep(c.Routines[name], name); err != nil {
			return fmt.Errorf("routine %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalogue) validateStep(s Step, path string) error {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return fmt.Errorf("%w at %s: want exactly one kind, have %v", ErrInvalidStep, path, kinds)
	}
	if s.Timeout != nil && *s.Timeout <= 0 {
		return fmt.Errorf("%w at %s: timeout must be positive", ErrInvalidStep, path)
	}
	children := s.Sequence
	switch kinds[0] {
	case "parallel":
		children = s.Parallel
	case "race":
		children = s.Race
	case "deadline":
		children = s.Deadline
		if len(children) == 0 {
			return fmt.Errorf("%w at %s: deadline needs at least one step", ErrInvalidStep, path)
		}
	case "wait":
		if *s.Wait < 0 {
			return fmt.Errorf("%w at %s: negative wait", ErrInvalidStep, path)
		}
	case "path":
		if len(s.Path.Waypoints) < 2 || s.Path.Speed <= 0 {
			return fmt.Errorf("%w at %s: path needs two waypoints and a positive speed", ErrInvalidStep, path)
		}
	case "arm":
		if _, ok := c.Setpoint(s.Arm); !ok {
			return fmt.Errorf("%w at %s: unknown setpoint %q", ErrInvalidStep, path, s.Arm)
		}
	case "score":
		if _, ok := c.Nodes[s.Score.Node]; !ok {
			return fmt.Errorf("%w at %s: unknown node %q", ErrInvalidStep, path, s.Score.Node)
		}
		if _, ok := c.Targets[s.Score.Target]; !ok {
			return fmt.Errorf("%w at %s: unknown target %q", ErrInvalidStep, path, s.Score.Target)
		}
		if _, err := ParsePolePosition(s.Score.Pole); err != nil {
			return fmt.Errorf("%w at %s: %w", ErrInvalidStep, path, err)
		}
	}
	for i, child := range children {
		if err := c.validateStep(child, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether name is a routine, DoNothing included.
func (c *Catalogue) Has(name string) bool {
	if name == DoNothing {
		return true
	}
	_, ok := c.Routines[name]
	return ok
}

// Names lists routines in order, DoNothing first.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.Routines)+1)
	for name := range c.Routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{DoNothing}, names...)
}

// Setpoint resolves a named arm setpoint. "home" is the stowed position.
func (c *Catalogue) Setpoint(name string) (subsystem.ArmSetpoint, bool) {
	if name == "home" {
		if c.Home != nil {
			return c.Home.Setpoint(), true
		}
		return subsystem.ArmSetpoint{}, true
	}
	sp, ok := c.Setpoints[name]
	return sp.Setpoint(), ok
}

// Build creates a fresh command tree for the named routine.
func (c *Catalogue) Build(name string, m Mechanisms) (command.Command, error) {
	if !c.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutine, name)
	}
	if name == DoNothing {
		return command.Instant(DoNothing, nil), nil
	}
	if c.Grid != nil {
		m.Grid = GridGeometry{PoleSpacing: c.Grid.PoleSpacing, ApproachDistance: c.Grid.ApproachDistance}
	}
	if c.Home != nil {
		m.Home = c.Home.Setpoint()
	}
	cmd, err := c.build(c.Routines[name], m)
	if err != nil {
		return nil, fmt.Errorf("routine %s: %w", name, err)
	}
	return command.Named(cmd, name), nil
}

func (c *Catalogue) build(s Step, m Mechanisms) (command.Command, error) {
	cmd, err := c.buildKind(s, m)
	if err != nil {
		return nil, err
	}
	if s.Timeout != nil {
		cmd = command.WithTimeout(cmd, m.Clock, *s.Timeout)
	}
	if s.Name != "" {
		cmd = command.Named(cmd, s.Name)
	}
	return cmd, nil
}

func (c *Catalogue) buildKind(s Step, m Mechanisms) (command.Command, error) {
	switch {
	case s.Sequence != nil:
		children, err := c.buildAll(s.Sequence, m)
		if err != nil {
			return nil, err
		}
		return command.Sequence(children...), nil
	case s.Parallel != nil, s.Race != nil, s.Deadline != nil:
		steps, mode := s.Parallel, command.All
		if s.Race != nil {
			steps, mode = s.Race, command.RaceMode
		} else if s.Deadline != nil {
			steps, mode = s.Deadline, command.DeadlineMode
		}
		children, err := c.buildAll(steps, m)
		if err != nil {
			return nil, err
		}
		if err := disjoint(children); err != nil {
			return nil, err
		}
		return command.NewParallel(mode, children...), nil
	case s.Wait != nil:
		return command.Wait(m.Clock, *s.Wait), nil
	case s.DriveTo != nil:
		return drivetrain.DriveToPose(m.Drivetrain, s.DriveTo.Pose(), m.Align), nil
	case s.ResetPose != nil:
		pose := s.ResetPose.Pose()
		return command.Instant("ResetPose "+pose.String(), func() { m.Drivetrain.ResetPose(pose) }, drivetrain.Resource), nil
	case s.Path != nil:
		poses := make([]geom.Pose2d, len(s.Path.Waypoints))
		for i, w := range s.Path.Waypoints {
			poses[i] = w.Pose()
		}
		traj, err := drivetrain.NewWaypointTrajectory(s.Path.Speed, poses...)
		if err != nil {
			return nil, err
		}
		if s.Path.Reset {
			return drivetrain.ResettingPath(m.Drivetrain, traj, m.Align), nil
		}
		return drivetrain.FollowPath(m.Drivetrain, traj, m.Align), nil
	case s.Arm != "":
		sp, ok := c.Setpoint(s.Arm)
		if !ok {
			return nil, fmt.Errorf("%w: unknown setpoint %q", ErrInvalidStep, s.Arm)
		}
		return subsystem.SetArmPosition(m.Arm, sp), nil
	case s.Intake != nil:
		var cmd command.Command = subsystem.Intake(m.Gripper)
		if s.Intake.Timeout > 0 {
			cmd = command.WithTimeout(cmd, m.Clock, s.Intake.Timeout)
		}
		return cmd, nil
	case s.Outtake != nil:
		return subsystem.Outtake(m.Gripper, m.Clock, s.Outtake.Duration), nil
	case s.Balance != nil:
		var cmd command.Command = drivetrain.Balance(m.Drivetrain, m.Balance)
		if s.Balance.Timeout > 0 {
			cmd = command.WithTimeout(cmd, m.Clock, s.Balance.Timeout)
		}
		return cmd, nil
	case s.Score != nil:
		t, ok := c.Targets[s.Score.Target]
		if !ok {
			return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidStep, s.Score.Target)
		}
		node, ok := c.Nodes[s.Score.Node]
		if !ok {
			return nil, fmt.Errorf("%w: unknown node %q", ErrInvalidStep, s.Score.Node)
		}
		pole, err := ParsePolePosition(s.Score.Pole)
		if err != nil {
			return nil, err
		}
		target := ScoringTarget{
			Name:     s.Score.Target,
			Approach: c.Setpoints[t.Approach].Setpoint(),
			Score:    c.Setpoints[t.Score].Setpoint(),
		}
		return GridScore(m, node.Pose(), target.WithPolePosition(pole)), nil
	}
	return nil, fmt.Errorf("%w: empty step", ErrInvalidStep)
}

func (c *Catalogue) buildAll(steps []Step, m Mechanisms) ([]command.Command, error) {
	out := make([]command.Command, len(steps))
	for i, s := range steps {
		cmd, err := c.build(s, m)
		if err != nil {
			return nil, err
		}
		out[i] = cmd
	}
	return out, nil
}

func disjoint(cmds []command.Command) error {
	var seen []command.Resource
	for _, cmd := range cmds {
		for _, r := range cmd.Requirements() {
			if slices.Contains(seen, r) {
				return fmt.Errorf("%w: %s", ErrSharedResource, r)
			}
			seen = append(seen, r)
		}
	}
	return nil
}
