package command

import (
	"errors"
	"time"
)

var (
	// ErrComposed is returned when a command that belongs to a group is
	// scheduled on its own.
	ErrComposed = errors.New("command is part of a group")

	// ErrCommandFault wraps an error or panic raised by a command step.
	ErrCommandFault = errors.New("command fault")

	// ErrDefaultRequirements is returned when a default command does not
	// require exactly its resource.
	ErrDefaultRequirements = errors.New("default command must require only its resource")
)

// Resource is an exclusively owned actuated subsystem.
type Resource string

// Command is a cooperative unit of behavior. No method may block; a
// long-running behavior returns and is called again on the next tick.
type Command interface {
	Name() string
	Requirements() []Resource

	// Initialize is called once when the command is scheduled.
	Initialize() error
	// Execute is called once per tick while the command is active.
	Execute() error
	// IsFinished reports whether the command has completed.
	IsFinished() bool
	// End is called exactly once per run. interrupted is true when the
	// command was preempted, cancelled or faulted.
	End(interrupted bool)
}

// Clock returns the time elapsed on the robot clock.
type Clock func() time.Duration

// Base carries a command's name and requirements. Embed it in command types
// to get Name, Requirements and group membership tracking.
type Base struct {
	Label    string
	Requires []Resource

	composed bool
}

// NewBase returns a Base with the given name and requirements.
func NewBase(name string, reqs ...Resource) Base {
	return Base{Label: name, Requires: reqs}
}

func (b *Base) Name() string { return b.Label }

func (b *Base) Requirements() []Resource { return b.Requires }

func (b *Base) markComposed() { b.composed = true }

func (b *Base) isComposed() bool { return b.composed }

type composable interface {
	markComposed()
	isComposed() bool
}

// IsComposed reports whether cmd has been added to a group.
func IsComposed(cmd Command) bool {
	c, ok := cmd.(composable)
	return ok && c.isComposed()
}

func markComposed(cmds ...Command) {
	for _, c := range cmds {
		if cc, ok := c.(composable); ok {
			cc.markComposed()
		}
	}
}

// union returns the distinct requirements of cmds in first-seen order.
func union(cmds ...Command) []Resource {
	var out []Resource
	seen := make(map[Resource]bool)
	for _, c := range cmds {
		for _, r := range c.Requirements() {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func requires(cmd Command, r Resource) bool {
	for _, req := range cmd.Requirements() {
		if req == r {
			return true
		}
	}
	return false
}
