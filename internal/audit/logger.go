package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/robot-control/robotd/internal/auto"
	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/hal"
)

// Entry kinds.
const (
	KindCommand  = "command"
	KindOperator = "operator"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`

	Command   string             `json:"command,omitempty"`
	RunID     string             `json:"runId,omitempty"`
	Resources []command.Resource `json:"resources,omitempty"`
	Default   bool               `json:"default,omitempty"`
	RobotTime time.Duration      `json:"robotTimeMs,omitempty"`
	Runtime   time.Duration      `json:"runtimeMs,omitempty"`

	User   string         `json:"user,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	Outcome string `json:"outcome"`
	Code    string `json:"code"`
	Error   string `json:"error,omitempty"`
}

// MarshalJSON writes the durations as milliseconds.
func (e AuditEntry) MarshalJSON() ([]byte, error) {
	type plain AuditEntry
	return json.Marshal(struct {
		plain
		RobotTime int64 `json:"robotTimeMs,omitempty"`
		Runtime   int64 `json:"runtimeMs,omitempty"`
	}{plain(e), e.RobotTime.Milliseconds(), e.Runtime.Milliseconds()})
}

// Config sets where the log goes and how it rotates.
type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger implements the audit logging functionality.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	now      func() time.Time
}

// NewLogger creates a new audit logger writing to cfg.Dir/audit.jsonl.
func NewLogger(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, "audit.jsonl")
	out := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	// Open now so a bad directory fails at startup rather than on the
	// first entry.
	if _, err := out.Write(nil); err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		out:      out,
		now:      time.Now,
	}, nil
}

// LogCommand records a scheduler lifecycle event.
func (l *Logger) LogCommand(e command.Event) {
	entry := AuditEntry{
		Timestamp: l.now().UTC(),
		Kind:      KindCommand,
		Action:    string(e.Kind),
		Command:   e.Command,
		RunID:     e.RunID,
		Resources: e.Resources,
		Default:   e.Default,
		RobotTime: e.At,
		Runtime:   e.Runtime,
		Outcome:   outcomeOf(e.Kind),
		Code:      getCodeFromError(e.Err),
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	l.writeEntry(entry)
}

func outcomeOf(kind command.EventKind) string {
	switch kind {
	case command.EventScheduled:
		return "scheduled"
	case command.EventInterrupted:
		return "interrupted"
	case command.EventFault:
		return "fault"
	default:
		return "finished"
	}
}

// LogOperatorAction records an operator request and its result.
func (l *Logger) LogOperatorAction(ctx context.Context, action string, params map[string]any, err error) {
	entry := AuditEntry{
		Timestamp: l.now().UTC(),
		Kind:      KindOperator,
		Action:    action,
		User:      UserFromContext(ctx),
		Params:    params,
		Outcome:   "success",
		Code:      getCodeFromError(err),
	}
	if err != nil {
		entry.Outcome = "failure"
		entry.Error = err.Error()
	}
	l.writeEntry(entry)
}

// writeEntry writes an audit entry to the log file.
func (l *Logger) writeEntry(entry AuditEntry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

type userKey struct{}

// WithUser returns a context carrying the authenticated subject.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the subject set by WithUser, or "unknown".
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
		return user
	}
	return "unknown"
}

// getCodeFromError maps errors onto stable audit codes.
func getCodeFromError(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, hal.ErrSensorFault):
		return "SENSOR_FAULT"
	case errors.Is(err, hal.ErrDisconnected):
		return "DISCONNECTED"
	case errors.Is(err, hal.ErrInvalidRange):
		return "INVALID_RANGE"
	case errors.Is(err, command.ErrComposed):
		return "COMPOSED"
	case errors.Is(err, command.ErrDefaultRequirements):
		return "INVALID_DEFAULT"
	case errors.Is(err, auto.ErrUnknownRoutine):
		return "UNKNOWN_ROUTINE"
	case errors.Is(err, command.ErrCommandFault):
		return "COMMAND_FAULT"
	}
	return "ERROR"
}

// Close closes the audit logger and its file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		err := l.out.Close()
		l.out = nil
		return err
	}
	return nil
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Rotate starts a new audit.jsonl, keeping the old one as a timestamped
// backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return io.ErrClosedPipe
	}
	if err := l.out.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return nil
}
