package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robot-control/robotd/internal/auto"
	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/hal"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	logger, err := NewLogger(Config{Dir: t.TempDir(), MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// readEntries decodes every line of the log as a generic object.
func readEntries(t *testing.T, logger *Logger) []map[string]any {
	t.Helper()
	content, err := os.ReadFile(logger.GetFilePath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var entries []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry %d: %v", i, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "audit")

	logger, err := NewLogger(Config{Dir: tempDir})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	expectedPath := filepath.Join(tempDir, "audit.jsonl")
	if logger.GetFilePath() != expectedPath {
		t.Errorf("Expected file path %s, got %s", expectedPath, logger.GetFilePath())
	}
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Error("Audit log file was not created")
	}
}

func TestNewLoggerFailsOnFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(Config{Dir: blocker}); err == nil {
		t.Error("NewLogger() under a regular file succeeded, want error")
	}
}

func TestLogCommandLifecycle(t *testing.T) {
	logger := newTestLogger(t)

	base := command.Event{
		Command:   "DriveToPose",
		RunID:     "4f6c",
		Resources: []command.Resource{"drivetrain"},
		At:        2 * time.Second,
	}
	scheduled := base
	scheduled.Kind = command.EventScheduled
	interrupted := base
	interrupted.Kind = command.EventInterrupted
	interrupted.Runtime = 340 * time.Millisecond

	logger.LogCommand(scheduled)
	logger.LogCommand(interrupted)

	entries := readEntries(t, logger)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e["kind"] != KindCommand || e["runId"] != "4f6c" || e["command"] != "DriveToPose" {
			t.Errorf("entry = %v", e)
		}
	}
	if entries[0]["outcome"] != "scheduled" || entries[1]["outcome"] != "interrupted" {
		t.Errorf("outcomes = %v, %v", entries[0]["outcome"], entries[1]["outcome"])
	}
	if entries[1]["runtimeMs"] != float64(340) {
		t.Errorf("runtimeMs = %v, want 340", entries[1]["runtimeMs"])
	}
	if entries[0]["robotTimeMs"] != float64(2000) {
		t.Errorf("robotTimeMs = %v, want 2000", entries[0]["robotTimeMs"])
	}
	if _, ok := entries[0]["runtimeMs"]; ok {
		t.Error("scheduled entry carries a runtime")
	}
}

func TestLogCommandFault(t *testing.T) {
	logger := newTestLogger(t)

	cause := fmt.Errorf("%w: %w", command.ErrCommandFault, hal.ErrSensorFault)
	logger.LogCommand(command.Event{Kind: command.EventFault, Command: "Balance", Err: cause})

	entries := readEntries(t, logger)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["outcome"] != "fault" || e["code"] != "SENSOR_FAULT" {
		t.Errorf("entry = %v", e)
	}
	if !strings.Contains(e["error"].(string), "SENSOR_FAULT") {
		t.Errorf("error = %v", e["error"])
	}
}

func TestLogOperatorAction(t *testing.T) {
	logger := newTestLogger(t)

	ctx := WithUser(context.Background(), "drive-coach")
	logger.LogOperatorAction(ctx, "selectAuto", map[string]any{"routine": "TwoPiece"}, nil)
	logger.LogOperatorAction(context.Background(), "selectAuto", map[string]any{"routine": "Moonshot"},
		fmt.Errorf("%w: Moonshot", auto.ErrUnknownRoutine))

	entries := readEntries(t, logger)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	ok, failed := entries[0], entries[1]
	if ok["user"] != "drive-coach" || ok["outcome"] != "success" || ok["code"] != "SUCCESS" {
		t.Errorf("success entry = %v", ok)
	}
	if params, _ := ok["params"].(map[string]any); params["routine"] != "TwoPiece" {
		t.Errorf("params = %v", ok["params"])
	}
	if failed["user"] != "unknown" || failed["outcome"] != "failure" || failed["code"] != "UNKNOWN_ROUTINE" {
		t.Errorf("failure entry = %v", failed)
	}
}

func TestGetCodeFromError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{hal.ErrDisconnected, "DISCONNECTED"},
		{fmt.Errorf("module fl: %w", hal.ErrInvalidRange), "INVALID_RANGE"},
		{command.ErrComposed, "COMPOSED"},
		{command.ErrDefaultRequirements, "INVALID_DEFAULT"},
		{fmt.Errorf("%w: boom", command.ErrCommandFault), "COMMAND_FAULT"},
		{errors.New("something else"), "ERROR"},
	}
	for _, tt := range tests {
		if got := getCodeFromError(tt.err); got != tt.want {
			t.Errorf("getCodeFromError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestClose(t *testing.T) {
	logger, err := NewLogger(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on already closed logger failed: %v", err)
	}

	// Entries after Close are dropped, not panics.
	logger.LogOperatorAction(context.Background(), "zeroHeading", nil, nil)
	if err := logger.Rotate(); err == nil {
		t.Error("Rotate() after Close succeeded, want error")
	}
}

func TestRotate(t *testing.T) {
	logger := newTestLogger(t)

	logger.LogOperatorAction(context.Background(), "setMode", map[string]any{"mode": "teleop"}, nil)
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logger.LogOperatorAction(context.Background(), "setMode", map[string]any{"mode": "disabled"}, nil)

	if entries := readEntries(t, logger); len(entries) != 1 {
		t.Errorf("Expected 1 entry in the new file, got %d", len(entries))
	}
	rotated, err := filepath.Glob(filepath.Join(filepath.Dir(logger.GetFilePath()), "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("Failed to find rotated files: %v", err)
	}
	if len(rotated) != 1 {
		t.Errorf("Expected 1 rotated file, found %d", len(rotated))
	}
}

func TestConcurrentLogging(t *testing.T) {
	logger := newTestLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.LogCommand(command.Event{Kind: command.EventFinished, Command: fmt.Sprintf("cmd-%d", i)})
		}(i)
	}
	wg.Wait()

	entries := readEntries(t, logger)
	if len(entries) != 10 {
		t.Fatalf("Expected 10 log entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e["action"] != "commandFinished" {
			t.Errorf("Entry %d: Expected action 'commandFinished', got '%v'", i, e["action"])
		}
	}
}
