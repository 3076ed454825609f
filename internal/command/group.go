package command

import "strings"

// Sequential runs its children one after another. It holds the union of
// their requirements until the last child finishes.
type Sequential struct {
	Base
	children []Command
	index    int
}

// Sequence returns a group that runs cmds in order.
func Sequence(cmds ...Command) *Sequential {
	markComposed(cmds...)
	return &Sequential{
		Base:     NewBase(groupName("sequence", cmds), union(cmds...)...),
		children: cmds,
	}
}

func (s *Sequential) Initialize() error {
	s.index = 0
	if len(s.children) == 0 {
		return nil
	}
	return s.children[0].Initialize()
}

func (s *Sequential) Execute() error {
	if s.index >= len(s.children) {
		return nil
	}
	child := s.children[s.index]
	if err := child.Execute(); err != nil {
		return err
	}
	if !child.IsFinished() {
		return nil
	}
	child.End(false)
	s.index++
	if s.index < len(s.children) {
		return s.children[s.index].Initialize()
	}
	return nil
}

func (s *Sequential) IsFinished() bool { return s.index >= len(s.children) }

func (s *Sequential) End(interrupted bool) {
	if interrupted && s.index < len(s.children) {
		s.children[s.index].End(true)
	}
	s.index = len(s.children)
}

// Active returns the running child, or nil once the group has finished.
func (s *Sequential) Active() Command {
	if s.index >= len(s.children) {
		return nil
	}
	return s.children[s.index]
}

// ParallelMode selects when a Parallel group finishes.
type ParallelMode int

const (
	// All finishes when every child has finished.
	All ParallelMode = iota
	// RaceMode finishes when any child finishes.
	RaceMode
	// DeadlineMode finishes when the first child finishes.
	DeadlineMode
)

func (m ParallelMode) String() string {
	switch m {
	case All:
		return "parallel"
	case RaceMode:
		return "race"
	case DeadlineMode:
		return "deadline"
	}
	return "unknown"
}

// Parallel runs its children together. Children that finish early stop
// executing. When the group finishes because of RaceMode or DeadlineMode,
// the remaining children are interrupted.
type Parallel struct {
	Base
	mode     ParallelMode
	children []Command
	running  []bool
	finished bool
}

// NewParallel returns a group of cmds finishing according to mode.
func NewParallel(mode ParallelMode, cmds ...Command) *Parallel {
	markComposed(cmds...)
	return &Parallel{
		Base:     NewBase(groupName(mode.String(), cmds), union(cmds...)...),
		mode:     mode,
		children: cmds,
		running:  make([]bool, len(cmds)),
	}
}

// ParallelAll runs cmds together until all have finished.
func ParallelAll(cmds ...Command) *Parallel { return NewParallel(All, cmds...) }

// Race runs cmds together until the first one finishes.
func Race(cmds ...Command) *Parallel { return NewParallel(RaceMode, cmds...) }

// Deadline runs deadline and others together until deadline finishes.
func Deadline(deadline Command, others ...Command) *Parallel {
	return NewParallel(DeadlineMode, append([]Command{deadline}, others...)...)
}

// Mode returns the group's finish mode.
func (p *Parallel) Mode() ParallelMode { return p.mode }

func (p *Parallel) Initialize() error {
	p.finished = len(p.children) == 0
	for i, c := range p.children {
		p.running[i] = true
		if err := c.Initialize(); err != nil {
			for j := i + 1; j < len(p.running); j++ {
				p.running[j] = false
			}
			return err
		}
	}
	return nil
}

func (p *Parallel) Execute() error {
	if p.finished {
		return nil
	}
	for i, c := range p.children {
		if !p.running[i] {
			continue
		}
		if err := c.Execute(); err != nil {
			return err
		}
		if !c.IsFinished() {
			continue
		}
		c.End(false)
		p.running[i] = false

		if p.mode == RaceMode || (p.mode == DeadlineMode && i == 0) {
			p.interruptRunning()
			p.finished = true
			return nil
		}
	}
	if p.mode == All {
		p.finished = !p.anyRunning()
	}
	return nil
}

func (p *Parallel) IsFinished() bool { return p.finished }

func (p *Parallel) End(interrupted bool) {
	if interrupted {
		p.interruptRunning()
	}
	p.finished = true
}

func (p *Parallel) interruptRunning() {
	for i, c := range p.children {
		if p.running[i] {
			p.running[i] = false
			c.End(true)
		}
	}
}

func (p *Parallel) anyRunning() bool {
	for _, r := range p.running {
		if r {
			return true
		}
	}
	return false
}

func groupName(kind string, cmds []Command) string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name()
	}
	return kind + "(" + strings.Join(names, ", ") + ")"
}
