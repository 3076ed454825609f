package command

import "time"

// EventKind identifies a command lifecycle transition.
type EventKind string

const (
	EventScheduled   EventKind = "commandScheduled"
	EventInterrupted EventKind = "commandInterrupted"
	EventFinished    EventKind = "commandFinished"
	EventFault       EventKind = "commandFault"
)

// Event reports one lifecycle transition of a scheduled command. Idle
// placeholders do not produce events.
type Event struct {
	Kind      EventKind
	Command   string
	RunID     string
	Resources []Resource
	// Default is set for registered default commands.
	Default bool
	// At is the robot clock time of the transition.
	At time.Duration
	// Runtime is the time since the command was scheduled.
	Runtime time.Duration
	// Err is set for EventFault.
	Err error
}

// Listener receives lifecycle events on the tick thread. It must not
// block.
type Listener func(Event)
