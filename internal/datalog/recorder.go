package datalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/estimator"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/vision"
)

//go:embed schema.sql
var schemaSQL string

const (
	queueSize = 1024
	batchSize = 256
)

// PoseSample is the fused and odometry-only pose at one tick.
type PoseSample struct {
	T        time.Duration
	Fused    geom.Pose2d
	Odometry geom.Pose2d
}

// VisionSample is one measurement and what the estimator did with it.
type VisionSample struct {
	T           time.Duration
	Measurement vision.Measurement
	Accepted    bool
	Reason      estimator.Reason
}

// NewVisionSample builds a sample from an estimator result. A nil err means
// accepted; any other error without a reject reason is recorded as
// rejected with an empty reason.
func NewVisionSample(t time.Duration, m vision.Measurement, err error) VisionSample {
	s := VisionSample{T: t, Measurement: m, Accepted: err == nil}
	var rej *estimator.RejectError
	if errors.As(err, &rej) {
		s.Reason = rej.Reason
	}
	return s
}

// Recorder writes samples for one match.
type Recorder struct {
	db      *sql.DB
	matchID string
	period  time.Duration
	logger  *slog.Logger

	queue   chan func(*sql.Tx) error
	dropped atomic.Int64

	// lastPose is only touched by the control loop.
	lastPose time.Duration
	hasPose  bool
}

// Open creates or opens the database at path and starts a new match. Pose
// samples closer together than samplePeriod are skipped.
func Open(path string, samplePeriod time.Duration, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create datalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open datalog: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create datalog schema: %w", err)
	}

	r := &Recorder{
		db:      db,
		matchID: uuid.NewString(),
		period:  samplePeriod,
		logger:  logger,
		queue:   make(chan func(*sql.Tx) error, queueSize),
	}
	if _, err := db.Exec(`INSERT INTO matches (id, started_at) VALUES (?, ?)`,
		r.matchID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("start match: %w", err)
	}
	return r, nil
}

// MatchID identifies this run's rows.
func (r *Recorder) MatchID() string { return r.matchID }

// Dropped returns how many samples were discarded because the writer fell
// behind.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) enqueue(write func(*sql.Tx) error) {
	select {
	case r.queue <- write:
	default:
		r.dropped.Add(1)
	}
}

// RecordPose queues a pose sample unless one was recorded less than the
// sample period ago. It must be called from a single goroutine.
func (r *Recorder) RecordPose(s PoseSample) {
	if r.hasPose && s.T-r.lastPose < r.period {
		return
	}
	r.hasPose, r.lastPose = true, s.T
	id := r.matchID
	r.enqueue(func(tx *sql.Tx) error {
		for _, row := range []struct {
			pose  geom.Pose2d
			fused bool
		}{{s.Fused, true}, {s.Odometry, false}} {
			if _, err := tx.Exec(`INSERT INTO pose (match_id, t_ms, x, y, heading, fused) VALUES (?, ?, ?, ?, ?, ?)`,
				id, s.T.Milliseconds(), row.pose.X(), row.pose.Y(), row.pose.Rotation.Degrees(), row.fused); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordVision queues a vision decision.
func (r *Recorder) RecordVision(s VisionSample) {
	id := r.matchID
	r.enqueue(func(tx *sql.Tx) error {
		m := s.Measurement
		_, err := tx.Exec(`INSERT INTO vision (match_id, t_ms, capture_ms, x, y, heading, confidence, accepted, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, s.T.Milliseconds(), m.Timestamp.Milliseconds(), m.Pose.X(), m.Pose.Y(), m.Pose.Rotation.Degrees(),
			m.Confidence, s.Accepted, string(s.Reason))
		return err
	})
}

// RecordCommand queues a scheduler lifecycle event.
func (r *Recorder) RecordCommand(e command.Event) {
	id := r.matchID
	var errText string
	if e.Err != nil {
		errText = e.Err.Error()
	}
	r.enqueue(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO commands (match_id, t_ms, kind, command, run_id, runtime_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, e.At.Milliseconds(), string(e.Kind), e.Command, e.RunID, e.Runtime.Milliseconds(), errText)
		return err
	})
}

// Run writes queued samples until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case write := <-r.queue:
			r.writeBatch(write)
		}
	}
}

// flush writes everything queued so far.
func (r *Recorder) flush() {
	for {
		select {
		case write := <-r.queue:
			r.writeBatch(write)
		default:
			return
		}
	}
}

// writeBatch commits first plus whatever else is queued, up to batchSize,
// in one transaction.
func (r *Recorder) writeBatch(first func(*sql.Tx) error) {
	batch := []func(*sql.Tx) error{first}
drain:
	for len(batch) < batchSize {
		select {
		case write := <-r.queue:
			batch = append(batch, write)
		default:
			break drain
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error("Datalog transaction failed", "error", err, "lost", len(batch))
		return
	}
	for _, write := range batch {
		if err := write(tx); err != nil {
			_ = tx.Rollback()
			r.logger.Error("Datalog write failed", "error", err, "lost", len(batch))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("Datalog commit failed", "error", err, "lost", len(batch))
	}
}

// Close closes the database. Call it after Run has returned.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// PoseRow is a stored pose.
type PoseRow struct {
	T       time.Duration
	X, Y    float64
	Heading float64
	Fused   bool
}

// Poses returns the match's pose rows in time order.
func (r *Recorder) Poses(ctx context.Context) ([]PoseRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t_ms, x, y, heading, fused FROM pose WHERE match_id = ? ORDER BY t_ms, fused DESC`, r.matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var p PoseRow
		var ms int64
		if err := rows.Scan(&ms, &p.X, &p.Y, &p.Heading, &p.Fused); err != nil {
			return nil, err
		}
		p.T = time.Duration(ms) * time.Millisecond
		out = append(out, p)
	}
	return out, rows.Err()
}

// VisionCounts returns accepted and rejected counts, the latter by reason.
func (r *Recorder) VisionCounts(ctx context.Context) (accepted int, rejected map[string]int, err error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT accepted, reason, COUNT(*) FROM vision WHERE match_id = ? GROUP BY accepted, reason`, r.matchID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	rejected = make(map[string]int)
	for rows.Next() {
		var ok bool
		var reason string
		var n int
		if err := rows.Scan(&ok, &reason, &n); err != nil {
			return 0, nil, err
		}
		if ok {
			accepted += n
		} else {
			rejected[reason] += n
		}
	}
	return accepted, rejected, rows.Err()
}

// CommandKinds returns the recorded lifecycle kinds for a command, in
// order.
func (r *Recorder) CommandKinds(ctx context.Context, name string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind FROM commands WHERE match_id = ? AND command = ? ORDER BY rowid`, r.matchID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	return out, rows.Err()
}
