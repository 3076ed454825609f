package robot

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the robot's match mode.
type Mode string

const (
	Disabled   Mode = "disabled"
	Autonomous Mode = "autonomous"
	Teleop     Mode = "teleop"
)

// Modes lists every mode.
var Modes = []Mode{Disabled, Autonomous, Teleop}

var ErrUnknownMode = errors.New("unknown mode")

// ParseMode accepts a mode name in any case. "auto" is short for
// autonomous.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return Disabled, nil
	case "autonomous", "auto":
		return Autonomous, nil
	case "teleop":
		return Teleop, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) String() string { return string(m) }

func modeNames() []string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return names
}
