package command

import (
	"log/slog"
	"time"
)

// Functional builds a command from plain functions. Nil functions are
// no-ops; a nil Finished never finishes.
type Functional struct {
	Base
	OnInit    func()
	OnExecute func()
	OnEnd     func(interrupted bool)
	Finished  func() bool
}

func (f *Functional) Initialize() error {
	if f.OnInit != nil {
		f.OnInit()
	}
	return nil
}

func (f *Functional) Execute() error {
	if f.OnExecute != nil {
		f.OnExecute()
	}
	return nil
}

func (f *Functional) IsFinished() bool {
	return f.Finished != nil && f.Finished()
}

func (f *Functional) End(interrupted bool) {
	if f.OnEnd != nil {
		f.OnEnd(interrupted)
	}
}

func always() bool { return true }

// Instant runs fn once and finishes in the same tick.
func Instant(name string, fn func(), reqs ...Resource) *Functional {
	return &Functional{Base: NewBase(name, reqs...), OnInit: fn, Finished: always}
}

// Run calls fn every tick and never finishes on its own.
func Run(name string, fn func(), reqs ...Resource) *Functional {
	return &Functional{Base: NewBase(name, reqs...), OnExecute: fn}
}

// RunEnd calls run every tick and end when the command ends.
func RunEnd(name string, run func(), end func(), reqs ...Resource) *Functional {
	return &Functional{
		Base:      NewBase(name, reqs...),
		OnExecute: run,
		OnEnd:     func(bool) { end() },
	}
}

// StartEnd calls start on Initialize and end when the command ends.
func StartEnd(name string, start func(), end func(), reqs ...Resource) *Functional {
	return &Functional{
		Base:   NewBase(name, reqs...),
		OnInit: start,
		OnEnd:  func(bool) { end() },
	}
}

// WaitUntil finishes once cond is true.
func WaitUntil(name string, cond func() bool) *Functional {
	return &Functional{Base: NewBase(name), Finished: cond}
}

// Log writes msg when run and finishes immediately.
func Log(logger *slog.Logger, msg string, args ...any) *Functional {
	return Instant("log", func() { logger.Info(msg, args...) })
}

// WaitCommand finishes after a fixed duration on the robot clock.
type WaitCommand struct {
	Base
	clock    Clock
	duration time.Duration
	start    time.Duration
}

// Wait returns a command that finishes d after it is initialized.
func Wait(clock Clock, d time.Duration) *WaitCommand {
	return &WaitCommand{Base: NewBase("wait " + d.String()), clock: clock, duration: d}
}

func (w *WaitCommand) Initialize() error {
	w.start = w.clock()
	return nil
}

func (w *WaitCommand) Execute() error { return nil }

func (w *WaitCommand) IsFinished() bool { return w.clock()-w.start >= w.duration }

func (w *WaitCommand) End(bool) {}

// Elapsed returns the time since Initialize.
func (w *WaitCommand) Elapsed() time.Duration { return w.clock() - w.start }

// idle holds a resource that has no registered default.
type idle struct {
	Base
}

func newIdle(r Resource) *idle {
	return &idle{Base: NewBase("idle("+string(r)+")", r)}
}

func (*idle) Initialize() error { return nil }
func (*idle) Execute() error    { return nil }
func (*idle) IsFinished() bool  { return false }
func (*idle) End(bool)          {}
