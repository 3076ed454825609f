package command

import "time"

// WithTimeout interrupts cmd if it has not finished after d.
func WithTimeout(cmd Command, clock Clock, d time.Duration) Command {
	return Named(Race(cmd, Wait(clock, d)), cmd.Name()+" (timeout "+d.String()+")")
}

// Until interrupts cmd once cond becomes true.
func Until(cmd Command, cond func() bool) Command {
	return Named(Race(cmd, WaitUntil("until", cond)), cmd.Name()+" (until)")
}

// AndThen runs next after cmd.
func AndThen(cmd Command, next ...Command) *Sequential {
	return Sequence(append([]Command{cmd}, next...)...)
}

// AlongWith runs cmd and others until all finish.
func AlongWith(cmd Command, others ...Command) *Parallel {
	return ParallelAll(append([]Command{cmd}, others...)...)
}

// RaceWith runs cmd and others until any finishes.
func RaceWith(cmd Command, others ...Command) *Parallel {
	return Race(append([]Command{cmd}, others...)...)
}

// DeadlineWith runs others alongside cmd until cmd finishes.
func DeadlineWith(cmd Command, others ...Command) *Parallel {
	return Deadline(cmd, others...)
}

// NamedCommand overrides the name of the command it wraps.
type NamedCommand struct {
	Base
	inner Command
}

// Named renames cmd. The wrapped command becomes part of the result.
func Named(cmd Command, name string) *NamedCommand {
	markComposed(cmd)
	return &NamedCommand{Base: NewBase(name, cmd.Requirements()...), inner: cmd}
}

// Unwrap returns the wrapped command.
func (n *NamedCommand) Unwrap() Command { return n.inner }

func (n *NamedCommand) Initialize() error    { return n.inner.Initialize() }
func (n *NamedCommand) Execute() error       { return n.inner.Execute() }
func (n *NamedCommand) IsFinished() bool     { return n.inner.IsFinished() }
func (n *NamedCommand) End(interrupted bool) { n.inner.End(interrupted) }
