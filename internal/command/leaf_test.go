package command

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantFinishesInOneTick(t *testing.T) {
	s, _ := newTestScheduler()
	calls := 0
	cmd := Instant("zero heading", func() { calls++ }, drive)
	require.NoError(t, s.ScheduleNow(cmd))
	assert.Equal(t, 1, calls)

	s.Tick()
	assert.False(t, s.IsScheduled(cmd))
	assert.Equal(t, 1, calls)
}

func TestRunEndAndStartEnd(t *testing.T) {
	s, _ := newTestScheduler()
	runs, ends, starts := 0, 0, 0
	re := RunEnd("spin", func() { runs++ }, func() { ends++ }, gripper)
	se := StartEnd("clamp", func() { starts++ }, func() { ends++ }, arm)
	require.NoError(t, s.ScheduleNow(re))
	require.NoError(t, s.ScheduleNow(se))

	s.Tick()
	s.Tick()
	assert.Equal(t, 2, runs)
	assert.Equal(t, 1, starts)

	s.CancelAll()
	assert.Equal(t, 2, ends)
}

func TestWaitAndWaitUntil(t *testing.T) {
	clk := &fakeClock{}
	s := NewScheduler(clk.Now, nil)
	w := Wait(clk.Now, 50*time.Millisecond)
	ready := false
	u := WaitUntil("ready", func() bool { return ready })

	require.NoError(t, s.ScheduleNow(w))
	require.NoError(t, s.ScheduleNow(u))
	clk.Advance(30 * time.Millisecond)
	s.Tick()
	assert.True(t, s.IsScheduled(w))
	assert.Equal(t, 30*time.Millisecond, w.Elapsed())

	clk.Advance(20 * time.Millisecond)
	ready = true
	s.Tick()
	assert.False(t, s.IsScheduled(w))
	assert.False(t, s.IsScheduled(u))
}

func TestRunNeverFinishes(t *testing.T) {
	s, _ := newTestScheduler()
	n := 0
	cmd := Run("hold", func() { n++ }, arm)
	require.NoError(t, s.ScheduleNow(cmd))
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	assert.True(t, s.IsScheduled(cmd))
	assert.Equal(t, 5, n)
}

func TestLogCommand(t *testing.T) {
	s, _ := newTestScheduler()
	cmd := Log(slog.New(slog.DiscardHandler), "auto started", "routine", "two piece")
	require.NoError(t, s.ScheduleNow(cmd))
	s.Tick()
	assert.False(t, s.IsScheduled(cmd))
}
