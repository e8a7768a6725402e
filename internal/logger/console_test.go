package logger

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
)

func TestNewConsoleLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	if logger == nil {
		t.Fatal("NewConsoleLogger returned nil")
	}
	if logger.colorOutput {
		t.Error("color output must be disabled for non-terminal writers")
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	logger.LogInfo("plan scored")

	pattern := regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[INFO\] plan scored\n$`)
	if !pattern.MatchString(buf.String()) {
		t.Errorf("unexpected format: %q", buf.String())
	}
}

func TestConcurrentLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	const goroutines = 10
	const messages = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messages; j++ {
				logger.LogInfo(fmt.Sprintf("worker %d message %d", id, j))
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != goroutines*messages {
		t.Fatalf("expected %d lines, got %d", goroutines*messages, len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "[INFO] worker") {
			t.Errorf("interleaved or malformed line: %q", line)
		}
	}
}

func TestNilWriter(t *testing.T) {
	logger := NewConsoleLogger(nil, "trace")

	// Must not panic
	logger.LogTrace("trace")
	logger.LogDebug("debug")
	logger.LogInfo("info")
	logger.LogWarn("warn")
	logger.LogError("error")
}

func TestIsTerminal(t *testing.T) {
	if isTerminal(nil) {
		t.Error("nil writer is never a terminal")
	}
	if isTerminal(&bytes.Buffer{}) {
		t.Error("buffers are never terminals")
	}

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Error("regular files are never terminals")
	}
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NewNoOpLogger()
	l.LogDebug("x")
	l.LogInfo("x")
	l.LogWarn("x")
	l.LogError("x")

	if _, ok := OrNop(nil).(*NoOpLogger); !ok {
		t.Error("OrNop(nil) should return a NoOpLogger")
	}
}

func TestMultiLogger(t *testing.T) {
	a := &bytes.Buffer{}
	b := &bytes.Buffer{}
	m := NewMultiLogger(NewConsoleLogger(a, "info"), nil, NewConsoleLogger(b, "warn"))

	m.LogInfo("info line")
	m.LogWarn("warn line")

	if !strings.Contains(a.String(), "info line") || !strings.Contains(a.String(), "warn line") {
		t.Errorf("first logger missing output: %q", a.String())
	}
	if strings.Contains(b.String(), "info line") {
		t.Error("second logger should filter info")
	}
	if !strings.Contains(b.String(), "warn line") {
		t.Error("second logger should receive warn")
	}
}

func TestConsoleLoggerSatisfiesInterface(t *testing.T) {
	var _ Logger = (*ConsoleLogger)(nil)
	var _ Logger = (*FileLogger)(nil)
	var _ Logger = (*MultiLogger)(nil)
	var _ Logger = (*NoOpLogger)(nil)
}
