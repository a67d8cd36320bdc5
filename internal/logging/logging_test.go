package logging

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, "test-session-123")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session_id=test-session-123") {
		t.Errorf("Expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestWithSession_NilLogger(t *testing.T) {
	logger := WithSession(nil, "test-session")
	if logger != nil {
		t.Error("WithSession(nil, ...) should return nil")
	}
}

func TestWithSession_MultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, "persistent-session")

	// Log multiple messages - all should have session_id
	logger.Info("first message")
	logger.Debug("second message")
	logger.Warn("third message")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	if len(lines) != 3 {
		t.Errorf("Expected 3 log lines, got %d", len(lines))
	}

	for i, line := range lines {
		if !strings.Contains(line, "session_id=persistent-session") {
			t.Errorf("Line %d missing session_id: %s", i+1, line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseComponents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "realtime", []string{"realtime"}},
		{"multiple", "realtime,retry,cache", []string{"realtime", "retry", "cache"}},
		{"whitespace", " realtime , retry ", []string{"realtime", "retry"}},
		{"empty entries", "realtime,,retry,", []string{"realtime", "retry"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseComponents(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseComponents(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestComponentFiltering(t *testing.T) {
	var buf bytes.Buffer

	// Restrict logging to the realtime component.
	if err := Initialize(Config{Level: "debug", Components: []string{"realtime"}}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Initialize(Config{Level: "info"})
		_ = Close()
	})

	// Swap in a buffer-backed logger so output is observable.
	globalMu.Lock()
	globalLogger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	globalMu.Unlock()

	Realtime().Info("realtime event")
	Retry().Info("retry event")

	output := buf.String()
	if !strings.Contains(output, "realtime event") {
		t.Errorf("allowed component suppressed: %s", output)
	}
	if strings.Contains(output, "retry event") {
		t.Errorf("filtered component logged: %s", output)
	}
}

func TestComponentLoggersCarryAttribute(t *testing.T) {
	var buf bytes.Buffer

	if err := Initialize(Config{Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Initialize(Config{Level: "info"})
		_ = Close()
	})

	globalMu.Lock()
	globalLogger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	globalMu.Unlock()

	Cache().Info("cache event")

	if !strings.Contains(buf.String(), "component=cache") {
		t.Errorf("component attribute missing: %s", buf.String())
	}
}
