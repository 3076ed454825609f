package datalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/estimator"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/vision"
)

func openRecorder(t *testing.T, period time.Duration) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "logs", "match.db"), period, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// drain runs the writer until everything queued so far is committed.
func drain(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
}

func TestPoseSamplesAreThinned(t *testing.T) {
	r := openRecorder(t, 100*time.Millisecond)

	for i := 0; i <= 10; i++ {
		ts := time.Duration(i) * 20 * time.Millisecond
		r.RecordPose(PoseSample{
			T:        ts,
			Fused:    geom.NewPose(float64(i), 0, geom.FromDegrees(90)),
			Odometry: geom.NewPose(float64(i), 0.1, geom.FromDegrees(90)),
		})
	}
	drain(t, r)

	rows, err := r.Poses(context.Background())
	require.NoError(t, err)
	// Samples at 0, 100 and 200 ms, each as a fused and an odometry row.
	require.Len(t, rows, 6)
	assert.Equal(t, 100*time.Millisecond, rows[2].T)
	assert.True(t, rows[2].Fused)
	assert.InDelta(t, 5, rows[2].X, 1e-9)
	assert.False(t, rows[3].Fused)
	assert.InDelta(t, 0.1, rows[3].Y, 1e-9)
	assert.InDelta(t, 90, rows[3].Heading, 1e-9)
}

func TestVisionDecisions(t *testing.T) {
	r := openRecorder(t, 0)

	m := vision.Measurement{Pose: geom.NewPose(1, 2, geom.FromDegrees(0)), Timestamp: 900 * time.Millisecond, Confidence: 0.8}
	r.RecordVision(NewVisionSample(time.Second, m, nil))
	r.RecordVision(NewVisionSample(time.Second, m, nil))
	r.RecordVision(NewVisionSample(time.Second, m, &estimator.RejectError{Reason: estimator.ReasonOutlier}))
	r.RecordVision(NewVisionSample(time.Second, m, fmt.Errorf("wrapped: %w", &estimator.RejectError{Reason: estimator.ReasonStale})))
	drain(t, r)

	accepted, rejected, err := r.VisionCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
	assert.Equal(t, map[string]int{"outlier": 1, "stale": 1}, rejected)
}

func TestCommandEvents(t *testing.T) {
	r := openRecorder(t, 0)

	r.RecordCommand(command.Event{Kind: command.EventScheduled, Command: "Balance", RunID: "a"})
	r.RecordCommand(command.Event{Kind: command.EventInterrupted, Command: "Balance", RunID: "a", Runtime: time.Second})
	r.RecordCommand(command.Event{Kind: command.EventScheduled, Command: "Other", RunID: "b"})
	drain(t, r)

	kinds, err := r.CommandKinds(context.Background(), "Balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"commandScheduled", "commandInterrupted"}, kinds)
}

func TestMatchesAreSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.db")
	logger := slog.New(slog.DiscardHandler)

	first, err := Open(path, 0, logger)
	require.NoError(t, err)
	first.RecordPose(PoseSample{T: 0})
	drain(t, first)
	require.NoError(t, first.Close())

	second, err := Open(path, 0, logger)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.MatchID(), second.MatchID())

	rows, err := second.Poses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFullQueueDrops(t *testing.T) {
	r := openRecorder(t, 0)
	for i := 0; i < queueSize+10; i++ {
		r.RecordPose(PoseSample{T: time.Duration(i) * time.Millisecond})
	}
	assert.Equal(t, int64(10), r.Dropped())
	drain(t, r)

	rows, err := r.Poses(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2*queueSize)
}
