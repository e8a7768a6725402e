package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestPerRunLogFile verifies a timestamped log file is created per run
func TestPerRunLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewFileLoggerWithDir(logDir)
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	defer logger.Close()

	if !strings.HasPrefix(filepath.Base(logger.RunFile()), "run-") {
		t.Errorf("Expected log file to start with 'run-', got %s", logger.RunFile())
	}
	if _, err := os.Stat(logger.RunFile()); err != nil {
		t.Errorf("Expected run log to exist: %v", err)
	}
}

// TestLatestSymlink verifies latest.log symlink is created and points to current run
func TestLatestSymlink(t *testing.T) {
	logDir := t.TempDir()

	logger, err := NewFileLoggerWithDir(logDir)
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	defer logger.Close()

	symlinkPath := filepath.Join(logDir, "latest.log")
	linkInfo, err := os.Lstat(symlinkPath)
	if err != nil {
		t.Fatalf("Expected latest.log symlink to exist: %v", err)
	}
	if linkInfo.Mode()&os.ModeSymlink == 0 {
		t.Error("Expected latest.log to be a symlink")
	}

	target, err := os.Readlink(symlinkPath)
	if err != nil {
		t.Fatalf("Failed to read symlink: %v", err)
	}
	if target != filepath.Base(logger.RunFile()) {
		t.Errorf("Expected symlink to point to %s, got %s", filepath.Base(logger.RunFile()), target)
	}
}

// TestSymlinkUpdate verifies the symlink follows the newest run, even within the same second
func TestSymlinkUpdate(t *testing.T) {
	logDir := t.TempDir()

	logger1, err := NewFileLoggerWithDir(logDir)
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	logger1.Close()

	logger2, err := NewFileLoggerWithDir(logDir)
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	defer logger2.Close()

	if logger1.RunFile() == logger2.RunFile() {
		t.Fatal("Expected distinct run files for consecutive runs")
	}

	target, err := os.Readlink(filepath.Join(logDir, "latest.log"))
	if err != nil {
		t.Fatalf("Failed to read symlink: %v", err)
	}
	if target != filepath.Base(logger2.RunFile()) {
		t.Errorf("Expected symlink to point to newest run, got %s", target)
	}
}

// TestCloseFlushesLogs verifies messages reach disk
func TestCloseFlushesLogs(t *testing.T) {
	logDir := t.TempDir()

	logger, err := NewFileLoggerWithDir(logDir)
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}

	logger.LogWarn("session abandoned")

	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(logDir, "latest.log"))
	if err != nil {
		t.Fatalf("Failed to read run log: %v", err)
	}
	if !strings.Contains(string(content), "[WARN] session abandoned") {
		t.Errorf("Expected log content to be flushed to disk, got %q", string(content))
	}
}

// TestConcurrentLogWrites verifies thread-safe logging
func TestConcurrentLogWrites(t *testing.T) {
	logger, err := NewFileLoggerWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.LogInfo(fmt.Sprintf("writer %d", n))
		}(i)
	}
	wg.Wait()

	content := readRunLog(t, logger)
	for i := 0; i < 10; i++ {
		if !strings.Contains(content, fmt.Sprintf("writer %d\n", i)) {
			t.Errorf("missing line for writer %d", i)
		}
	}
}

// TestNewFileLoggerInvalidPath verifies error handling for invalid paths
func TestNewFileLoggerInvalidPath(t *testing.T) {
	_, err := NewFileLoggerWithDir("/tmp/plangate-test\x00/logs")
	if err == nil {
		t.Error("Expected error when creating logger with invalid path")
	}
}

func TestCloseTwice(t *testing.T) {
	logger, err := NewFileLoggerWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("First Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}

	// Writes after close are dropped, not panics
	logger.LogError("late")
}

// brokenFile fails every write, like a full disk.
type brokenFile struct{ closed bool }

func (b *brokenFile) WriteString(string) (int, error) { return 0, errors.New("no space left on device") }
func (b *brokenFile) Sync() error                     { return nil }
func (b *brokenFile) Close() error                    { b.closed = true; return nil }

func TestWriteFailuresAreReported(t *testing.T) {
	logger, err := NewFileLoggerWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	orig := logger.runLog
	defer orig.Close()
	broken := &brokenFile{}
	logger.runLog = broken

	logger.LogInfo("session opened")
	logger.LogWarn("commit failed")
	logger.LogDebug("filtered, never written")

	n, first := logger.Dropped()
	if n != 2 {
		t.Errorf("Dropped() = %d, want 2", n)
	}
	if first == nil || !strings.Contains(first.Error(), "no space left") {
		t.Errorf("first error = %v", first)
	}

	err = logger.Close()
	if err == nil || !strings.Contains(err.Error(), "2 line(s) not written") {
		t.Errorf("Close() error = %v, want dropped line report", err)
	}
	if !broken.closed {
		t.Error("Close() did not close the run log")
	}
}
