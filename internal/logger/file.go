package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileLogger writes every message to a timestamped per-run log file under
// logDir and keeps a latest.log symlink pointing at the most recent run.
type FileLogger struct {
	logDir   string
	runLog   runLogFile
	runFile  string
	logLevel string
	mu       sync.Mutex
	dropped  int
	dropErr  error
}

// runLogFile is the part of *os.File the run log uses.
type runLogFile interface {
	io.StringWriter
	Sync() error
	Close() error
}

// NewFileLoggerWithDir creates a FileLogger in logDir at the default "info" level.
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a FileLogger with a custom log directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log; a suffix keeps runs started in the same second apart
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	for n := 1; err != nil && os.IsExist(err) && n < 100; n++ {
		runFile = filepath.Join(logDir, fmt.Sprintf("run-%s-%d.log", stamp, n))
		file, err = os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== plangate run log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of this run's log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) LogTrace(message string) { fl.logWithLevel("TRACE", message) }
func (fl *FileLogger) LogDebug(message string) { fl.logWithLevel("DEBUG", message) }
func (fl *FileLogger) LogInfo(message string)  { fl.logWithLevel("INFO", message) }
func (fl *FileLogger) LogWarn(message string)  { fl.logWithLevel("WARN", message) }
func (fl *FileLogger) LogError(message string) { fl.logWithLevel("ERROR", message) }

func (fl *FileLogger) logWithLevel(level string, message string) {
	if shouldLog(fl.logLevel, strings.ToLower(level)) {
		fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
	}
}

// Dropped returns how many lines could not be written and the first error.
func (fl *FileLogger) Dropped() (int, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.dropped, fl.dropErr
}

// Close syncs and closes the run log. Lines lost to failed writes are
// reported in the returned error.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	var errs []error
	if fl.dropped > 0 {
		errs = append(errs, fmt.Errorf("run log %s: %d line(s) not written: %w", fl.runFile, fl.dropped, fl.dropErr))
	}
	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync run log: %w", err))
		}
		if err := fl.runLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close run log: %w", err))
		}
		fl.runLog = nil
	}
	return errors.Join(errs...)
}

// writeRunLog appends one line and syncs it so a crash keeps the line.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return
	}
	_, err := fl.runLog.WriteString(message)
	if err == nil {
		err = fl.runLog.Sync()
	}
	if err != nil {
		if fl.dropped == 0 {
			fl.dropErr = err
		}
		fl.dropped++
	}
}
