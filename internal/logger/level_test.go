package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

type leveled interface {
	Logger
	LogTrace(message string)
}

func logAll(l leveled) {
	l.LogTrace("trace msg")
	l.LogDebug("debug msg")
	l.LogInfo("info msg")
	l.LogWarn("warn msg")
	l.LogError("error msg")
}

// TestConsoleLoggerLevels checks which messages survive each configured level.
func TestConsoleLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"trace", []string{"trace", "debug", "info", "warn", "error"}},
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"", []string{"info", "warn", "error"}},
		{"verbose", []string{"info", "warn", "error"}},
		{"  WaRn ", []string{"warn", "error"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logAll(NewConsoleLogger(buf, tt.level))

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d: %q", len(lines), len(tt.want), buf.String())
			}
			for i, name := range tt.want {
				if !strings.Contains(lines[i], name+" msg") {
					t.Errorf("line %d = %q, want %s message", i, lines[i], name)
				}
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = false", level)
		}
	}
	for _, level := range []string{"", "INFO", "warning", "fatal"} {
		if ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = true", level)
		}
	}
}

func TestFileLoggerLevels(t *testing.T) {
	l, err := NewFileLoggerWithDirAndLevel(t.TempDir(), "warn")
	if err != nil {
		t.Fatalf("NewFileLoggerWithDirAndLevel() error = %v", err)
	}
	logAll(l)
	content := readRunLog(t, l)

	for _, name := range []string{"trace", "debug", "info"} {
		if strings.Contains(content, name+" msg") {
			t.Errorf("%s message written at warn level", name)
		}
	}
	for _, name := range []string{"warn", "error"} {
		if !strings.Contains(content, name+" msg") {
			t.Errorf("%s message missing at warn level", name)
		}
	}
}

func TestFileLoggerDefaultsToInfo(t *testing.T) {
	l, err := NewFileLoggerWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	l.LogDebug("session opened")
	l.LogInfo("plan TASK-1 committed as v2")
	content := readRunLog(t, l)

	if strings.Contains(content, "session opened") {
		t.Error("debug message written at the default level")
	}
	if !strings.Contains(content, "plan TASK-1 committed as v2") {
		t.Error("info message missing at the default level")
	}
}

// readRunLog closes l and returns its run log.
func readRunLog(t *testing.T, l *FileLogger) string {
	t.Helper()
	path := l.RunFile()
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	return string(content)
}
