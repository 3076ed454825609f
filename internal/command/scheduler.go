package command

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultRestartDelay is how long a resource stays idle after its default
// command faulted before the default is started again.
const DefaultRestartDelay = 500 * time.Millisecond

type run struct {
	id        string
	cmd       Command
	reqs      []Resource
	started   time.Duration
	isDefault bool
	idle      bool
	done      bool
}

// Status describes one scheduled command.
type Status struct {
	Name      string        `json:"name"`
	RunID     string        `json:"runId"`
	Resources []Resource    `json:"resources"`
	Default   bool          `json:"default"`
	Runtime   time.Duration `json:"runtime"`
}

// Scheduler arbitrates resource ownership between commands. It is not safe
// for concurrent use; every method must be called from the tick thread.
type Scheduler struct {
	logger *slog.Logger
	clock  Clock

	resources []Resource
	defaults  map[Resource]Command
	idles     map[Resource]*idle
	owners    map[Resource]*run
	active    []*run
	byCmd     map[Command]*run
	restartAt map[Resource]time.Duration

	bindings  []*binding
	listeners []Listener
}

// NewScheduler creates a scheduler for resources. Each resource starts with
// an idle placeholder until a default command is registered for it. A nil
// clock measures time from the call to NewScheduler.
func NewScheduler(clock Clock, logger *slog.Logger, resources ...Resource) *Scheduler {
	if clock == nil {
		start := time.Now()
		clock = func() time.Duration { return time.Since(start) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:   logger.With("component", "scheduler"),
		clock:    clock,
		defaults: make(map[Resource]Command),
		idles:    make(map[Resource]*idle),
		owners:   make(map[Resource]*run),
		byCmd:    make(map[Command]*run),

		restartAt: make(map[Resource]time.Duration),
	}
	for _, r := range resources {
		s.register(r)
	}
	s.installDefaults(s.resources)
	return s
}

// OnEvent adds a lifecycle listener.
func (s *Scheduler) OnEvent(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Resources returns every resource known to the scheduler.
func (s *Scheduler) Resources() []Resource {
	return slices.Clone(s.resources)
}

func (s *Scheduler) register(r Resource) {
	if _, ok := s.idles[r]; ok {
		return
	}
	s.idles[r] = newIdle(r)
	s.resources = append(s.resources, r)
}

// RegisterDefaultCommand sets the command installed on r whenever nothing
// else holds it. cmd must require exactly r. If r is idle or running its
// previous default, cmd takes over immediately.
func (s *Scheduler) RegisterDefaultCommand(r Resource, cmd Command) error {
	if reqs := cmd.Requirements(); len(reqs) != 1 || reqs[0] != r {
		return fmt.Errorf("%s on %s: %w", cmd.Name(), r, ErrDefaultRequirements)
	}
	if IsComposed(cmd) {
		return fmt.Errorf("%s: %w", cmd.Name(), ErrComposed)
	}
	s.register(r)
	s.defaults[r] = cmd

	holder := s.owners[r]
	if holder != nil && (holder.cmd == cmd || !holder.isDefault) {
		return nil
	}
	if holder != nil {
		s.teardown(holder, true, nil)
	}
	s.installDefaults([]Resource{r})
	return nil
}

// RemoveDefaultCommand clears the default for r. If it is running it is
// interrupted and r goes idle.
func (s *Scheduler) RemoveDefaultCommand(r Resource) {
	def, ok := s.defaults[r]
	if !ok {
		return
	}
	delete(s.defaults, r)
	if holder := s.owners[r]; holder != nil && holder.cmd == def {
		s.installDefaults(s.teardown(holder, true, nil))
	}
}

// DefaultCommand returns the registered default for r, or nil.
func (s *Scheduler) DefaultCommand(r Resource) Command {
	return s.defaults[r]
}

// ScheduleNow starts cmd immediately. Every current holder of one of its
// resources is interrupted first. Scheduling a command that is already
// running does nothing. An Initialize failure ends the command as
// interrupted and is returned wrapping ErrCommandFault.
func (s *Scheduler) ScheduleNow(cmd Command) error {
	if IsComposed(cmd) {
		return fmt.Errorf("%s: %w", cmd.Name(), ErrComposed)
	}
	if _, ok := s.byCmd[cmd]; ok {
		return nil
	}
	return s.schedule(cmd, false)
}

func (s *Scheduler) schedule(cmd Command, isDefault bool) error {
	reqs := slices.Clone(cmd.Requirements())

	var released []Resource
	for _, r := range reqs {
		s.register(r)
		if holder := s.owners[r]; holder != nil {
			if !holder.idle && !isDefault {
				s.logger.Debug("Preempting command", "command", holder.cmd.Name(), "by", cmd.Name(), "resource", r)
			}
			released = append(released, s.teardown(holder, true, nil)...)
		}
	}

	rn := &run{
		id:        uuid.NewString(),
		cmd:       cmd,
		reqs:      reqs,
		started:   s.clock(),
		isDefault: isDefault,
	}
	if _, ok := cmd.(*idle); ok {
		rn.idle = true
	}
	for _, r := range reqs {
		s.owners[r] = rn
	}
	s.active = append(s.active, rn)
	s.byCmd[cmd] = rn

	if err := guard(cmd.Initialize); err != nil {
		s.fault(rn, err)
		s.installDefaults(released)
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	s.emit(EventScheduled, rn, nil)
	s.installDefaults(released)
	return nil
}

// Cancel interrupts cmd if it is scheduled. Its resources get their
// defaults back before Cancel returns.
func (s *Scheduler) Cancel(cmd Command) {
	rn, ok := s.byCmd[cmd]
	if !ok {
		return
	}
	s.installDefaults(s.teardown(rn, true, nil))
}

// CancelAll interrupts every scheduled command, defaults included, and
// reinstalls the defaults.
func (s *Scheduler) CancelAll() {
	for _, rn := range slices.Clone(s.active) {
		if rn.idle || rn.done {
			continue
		}
		s.installDefaults(s.teardown(rn, true, nil))
	}
}

// IsScheduled reports whether cmd is running.
func (s *Scheduler) IsScheduled(cmd Command) bool {
	_, ok := s.byCmd[cmd]
	return ok
}

// Owner returns the command holding r, which is an idle placeholder when
// nothing else does. It returns nil for an unknown resource.
func (s *Scheduler) Owner(r Resource) Command {
	if rn := s.owners[r]; rn != nil {
		return rn.cmd
	}
	return nil
}

// Owners maps each resource to the name of its holder.
func (s *Scheduler) Owners() map[Resource]string {
	out := make(map[Resource]string, len(s.owners))
	for r, rn := range s.owners {
		out[r] = rn.cmd.Name()
	}
	return out
}

// Scheduled returns the running commands in scheduling order. Idle
// placeholders are omitted.
func (s *Scheduler) Scheduled() []Status {
	now := s.clock()
	var out []Status
	for _, rn := range s.active {
		if rn.idle {
			continue
		}
		out = append(out, Status{
			Name:      rn.cmd.Name(),
			RunID:     rn.id,
			Resources: slices.Clone(rn.reqs),
			Default:   rn.isDefault,
			Runtime:   now - rn.started,
		})
	}
	return out
}

// Tick runs one scheduler cycle: trigger bindings, then Execute on every
// active command, then completion checks.
func (s *Scheduler) Tick() {
	s.pollBindings()
	s.restoreDefaults()
	s.installDefaults(s.resources)

	runs := slices.Clone(s.active)
	for _, rn := range runs {
		if rn.done || rn.idle {
			continue
		}
		if err := guard(rn.cmd.Execute); err != nil {
			s.fault(rn, err)
		}
	}

	for _, rn := range runs {
		if rn.done || rn.idle {
			continue
		}
		finished, err := guardFinished(rn.cmd)
		switch {
		case err != nil:
			s.fault(rn, err)
		case finished:
			s.installDefaults(s.teardown(rn, false, nil))
		}
	}
}

// fault ends rn as interrupted after a failed step. A faulting default is
// replaced by the idle placeholder and restarted by Tick once
// DefaultRestartDelay has passed.
func (s *Scheduler) fault(rn *run, err error) {
	s.logger.Error("Command fault", "command", rn.cmd.Name(), "run", rn.id, "error", err)
	released := s.teardown(rn, true, err)
	if rn.isDefault {
		retry := s.clock() + DefaultRestartDelay
		for _, r := range released {
			if s.owners[r] == nil {
				s.installIdle(r)
			}
			s.restartAt[r] = retry
		}
		return
	}
	s.installDefaults(released)
}

// restoreDefaults restarts defaults whose restart delay has passed on
// resources that are still idle.
func (s *Scheduler) restoreDefaults() {
	if len(s.restartAt) == 0 {
		return
	}
	now := s.clock()
	for _, r := range s.resources {
		at, ok := s.restartAt[r]
		if !ok || now < at {
			continue
		}
		delete(s.restartAt, r)
		holder := s.owners[r]
		if holder != nil && !holder.idle {
			continue
		}
		if _, ok := s.defaults[r]; !ok {
			continue
		}
		if holder != nil {
			s.teardown(holder, true, nil)
		}
		s.logger.Info("Restarting default command", "command", s.defaults[r].Name(), "resource", r)
		s.installDefaults([]Resource{r})
	}
}

// teardown ends rn and releases its resources, returning them. It is a
// no-op for a run that has already ended.
func (s *Scheduler) teardown(rn *run, interrupted bool, cause error) []Resource {
	if rn.done {
		return nil
	}
	rn.done = true
	for _, r := range rn.reqs {
		if s.owners[r] == rn {
			delete(s.owners, r)
		}
	}
	delete(s.byCmd, rn.cmd)
	s.active = slices.DeleteFunc(s.active, func(o *run) bool { return o == rn })

	if err := guard(func() error { rn.cmd.End(interrupted); return nil }); err != nil {
		s.logger.Error("Command end failed", "command", rn.cmd.Name(), "run", rn.id, "error", err)
	}

	switch {
	case cause != nil:
		s.emit(EventFault, rn, cause)
	case interrupted:
		s.emit(EventInterrupted, rn, nil)
	default:
		s.emit(EventFinished, rn, nil)
	}
	return rn.reqs
}

func (s *Scheduler) installDefaults(resources []Resource) {
	for _, r := range resources {
		if s.owners[r] != nil {
			continue
		}
		def, ok := s.defaults[r]
		if !ok {
			s.installIdle(r)
			continue
		}
		if err := s.schedule(def, true); err != nil && s.owners[r] == nil {
			s.installIdle(r)
		}
	}
}

func (s *Scheduler) installIdle(r Resource) {
	s.register(r)
	_ = s.schedule(s.idles[r], true)
}

func (s *Scheduler) emit(kind EventKind, rn *run, err error) {
	if rn.idle || len(s.listeners) == 0 {
		return
	}
	now := s.clock()
	ev := Event{
		Kind:      kind,
		Command:   rn.cmd.Name(),
		RunID:     rn.id,
		Resources: slices.Clone(rn.reqs),
		Default:   rn.isDefault,
		At:        now,
		Runtime:   now - rn.started,
		Err:       err,
	}
	for _, l := range s.listeners {
		l(ev)
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCommandFault, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFault, err)
	}
	return nil
}

func guardFinished(cmd Command) (finished bool, err error) {
	err = guard(func() error {
		finished = cmd.IsFinished()
		return nil
	})
	return finished, err
}
