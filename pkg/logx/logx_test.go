package logx

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("ratelimit")
	if logger.GetAgentID() != "ratelimit" {
		t.Errorf("Expected agent ID 'ratelimit', got '%s'", logger.GetAgentID())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("scheduler")
	logger.Info("Tick %d processed %d workers", 4, 2)

	output := buf.String()
	if !strings.Contains(output, "[scheduler]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Tick 4 processed 2 workers") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("test")

	tests := []struct {
		level   Level
		logFunc func(string, ...any)
	}{
		{LevelDebug, logger.Debug},
		{LevelInfo, logger.Info},
		{LevelWarn, logger.Warn},
		{LevelError, logger.Error},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger(t)
			if tt.level == LevelDebug {
				SetDebug(true)
				defer SetDebug(false)
			}

			tt.logFunc("test message")

			if !strings.Contains(buf.String(), string(tt.level)) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.level, buf.String())
			}
		})
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(false)

	NewLogger("test").Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomains(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true)
	SetDebugDomains([]string{"sanitize"})
	defer func() {
		SetDebug(false)
		SetDebugDomains(nil)
	}()

	ctx := WithContextID(context.Background(), "worker-7")
	Debug(ctx, "ratelimit", "should not appear")
	Debug(ctx, "sanitize", "rule %d applied", 3)

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("Expected ratelimit domain to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "[worker-7]") || !strings.Contains(output, "rule 3 applied") {
		t.Errorf("Expected sanitize debug line with context id, got: %s", output)
	}
}

func TestWithAgentID(t *testing.T) {
	buf := setupTestLogger(t)

	original := NewLogger("original")
	derived := original.WithAgentID("derived")
	if original.GetAgentID() != "original" {
		t.Errorf("Expected original agent ID unchanged, got '%s'", original.GetAgentID())
	}

	original.Info("one")
	derived.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "[derived]") {
		t.Errorf("Expected second line to contain [derived], got: %s", lines[1])
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := setupTestLogger(t)
	NewLogger("test").Info("timestamp test")

	output := buf.String()
	start := strings.Index(output, "[")
	end := strings.Index(output, "]")
	if start == -1 || end <= start {
		t.Fatalf("Could not find timestamp in output: %s", output)
	}
	if _, err := time.Parse(timestampLayout, output[start+1:end]); err != nil {
		t.Errorf("Invalid timestamp format: %v", err)
	}
}

func TestRecentEntriesBuffer(t *testing.T) {
	setupTestLogger(t)
	since := time.Now().UTC().Add(-time.Second)

	NewLogger("buffer-test").Warn("queued entry")

	entries := GetRecentLogEntries("", since)
	found := false
	for _, e := range entries {
		if e.AgentID == "buffer-test" && e.Message == "queued entry" {
			found = true
		}
	}
	if !found {
		t.Error("Expected entry in recent log buffer")
	}
}

func TestWrap(t *testing.T) {
	setupTestLogger(t)
	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}
	err := Wrap(context.Canceled, "db connect")
	if err == nil || !strings.Contains(err.Error(), "db connect") {
		t.Errorf("Expected wrapped error, got %v", err)
	}
}
