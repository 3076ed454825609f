package command

import (
	"errors"
	"fmt"
	"time"
)

const (
	drive   Resource = "drivetrain"
	arm     Resource = "arm"
	gripper Resource = "gripper"
)

// journal records lifecycle calls across commands in order.
type journal struct {
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

// fakeCmd finishes after a fixed number of Execute calls. A negative count
// never finishes.
type fakeCmd struct {
	Base
	j         *journal
	finishAt  int
	executes  int
	inits     int
	ends      []bool
	initErr   error
	execErr   error
	execPanic bool
}

func newFake(j *journal, name string, finishAt int, reqs ...Resource) *fakeCmd {
	return &fakeCmd{Base: NewBase(name, reqs...), j: j, finishAt: finishAt}
}

func (p *fakeCmd) Initialize() error {
	p.inits++
	p.executes = 0
	p.j.add("%s.init", p.Label)
	return p.initErr
}

func (p *fakeCmd) Execute() error {
	p.executes++
	p.j.add("%s.exec", p.Label)
	if p.execPanic {
		panic("boom")
	}
	return p.execErr
}

func (p *fakeCmd) IsFinished() bool {
	return p.finishAt >= 0 && p.executes >= p.finishAt
}

func (p *fakeCmd) End(interrupted bool) {
	p.ends = append(p.ends, interrupted)
	p.j.add("%s.end(%t)", p.Label, interrupted)
}

var errFake = errors.New("fake failure")

type fakeClock struct{ now time.Duration }

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now += d }

func indexOf(calls []string, s string) int {
	for i, c := range calls {
		if c == s {
			return i
		}
	}
	return -1
}

func count(calls []string, s string) int {
	n := 0
	for _, c := range calls {
		if c == s {
			n++
		}
	}
	return n
}
