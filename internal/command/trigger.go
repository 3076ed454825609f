package command

// Edge selects how a trigger binding reacts to its predicate.
type Edge int

const (
	// OnTrue schedules the command when the predicate becomes true.
	OnTrue Edge = iota
	// OnFalse schedules the command when the predicate becomes false.
	OnFalse
	// WhileTrue schedules on the rising edge and cancels on the falling edge.
	WhileTrue
	// ToggleOnTrue toggles the command on each rising edge.
	ToggleOnTrue
)

func (e Edge) String() string {
	switch e {
	case OnTrue:
		return "onTrue"
	case OnFalse:
		return "onFalse"
	case WhileTrue:
		return "whileTrue"
	case ToggleOnTrue:
		return "toggleOnTrue"
	}
	return "unknown"
}

type binding struct {
	edge Edge
	pred func() bool
	cmd  Command
	last bool
}

// BindTrigger schedules cmd each time pred becomes true.
func (s *Scheduler) BindTrigger(pred func() bool, cmd Command) {
	s.Bind(OnTrue, pred, cmd)
}

// Bind adds a predicate-to-command binding evaluated at the start of every
// tick. Edges are measured against the predicate's value at bind time.
func (s *Scheduler) Bind(edge Edge, pred func() bool, cmd Command) {
	b := &binding{edge: edge, pred: pred, cmd: cmd}
	b.last, _ = s.evaluate(b)
	s.bindings = append(s.bindings, b)
}

// ClearBindings removes every trigger binding.
func (s *Scheduler) ClearBindings() {
	s.bindings = nil
}

func (s *Scheduler) evaluate(b *binding) (v bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Trigger predicate panicked", "command", b.cmd.Name(), "panic", r)
			v, ok = false, false
		}
	}()
	return b.pred(), true
}

func (s *Scheduler) pollBindings() {
	for _, b := range s.bindings {
		now, ok := s.evaluate(b)
		if !ok {
			continue
		}
		rising := now && !b.last
		falling := !now && b.last
		b.last = now

		switch b.edge {
		case OnTrue:
			if rising {
				s.scheduleFromTrigger(b)
			}
		case OnFalse:
			if falling {
				s.scheduleFromTrigger(b)
			}
		case WhileTrue:
			if rising {
				s.scheduleFromTrigger(b)
			} else if falling {
				s.Cancel(b.cmd)
			}
		case ToggleOnTrue:
			if rising {
				if s.IsScheduled(b.cmd) {
					s.Cancel(b.cmd)
				} else {
					s.scheduleFromTrigger(b)
				}
			}
		}
	}
}

func (s *Scheduler) scheduleFromTrigger(b *binding) {
	if err := s.ScheduleNow(b.cmd); err != nil {
		s.logger.Warn("Trigger could not schedule command", "command", b.cmd.Name(), "edge", b.edge.String(), "error", err)
	}
}
