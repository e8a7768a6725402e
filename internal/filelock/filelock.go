// Package filelock provides advisory file locks and crash-safe write helpers
// for state shared between plangate processes.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrExists is returned by WriteExclusive when the target already exists.
var ErrExists = errors.New("file already exists")

// ErrLockTimeout is returned by LockWithTimeout when the lock stayed busy.
var ErrLockTimeout = errors.New("timed out waiting for lock")

const lockRetryDelay = 20 * time.Millisecond

// FileLock wraps a flock file lock for coordinating access to files.
// Separate FileLock values on the same path exclude each other, also within
// a single process.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a new file lock for the given path.
// The parent directory is created on first Lock or TryLock.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires an exclusive lock on the file, blocking until the lock is available.
func (fl *FileLock) Lock() error {
	if err := ensureDir(fl.path); err != nil {
		return err
	}
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// LockWithTimeout acquires an exclusive lock, waiting at most timeout.
func (fl *FileLock) LockWithTimeout(timeout time.Duration) error {
	if err := ensureDir(fl.path); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	acquired, err := fl.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	if !acquired {
		return fmt.Errorf("%s: %w after %v", fl.path, ErrLockTimeout, timeout)
	}
	return nil
}

// TryLock attempts to acquire an exclusive lock on the file without blocking.
// Returns true if the lock was acquired, false if the lock is held elsewhere.
func (fl *FileLock) TryLock() (bool, error) {
	if err := ensureDir(fl.path); err != nil {
		return false, err
	}
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Locked reports whether this FileLock currently holds the lock.
func (fl *FileLock) Locked() bool {
	return fl.flock.Locked()
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}

// AtomicWrite writes data to a file atomically using a temp file and rename strategy.
// Readers never see partial content; on failure the previous file is left unchanged.
func AtomicWrite(path string, data []byte) error {
	tempPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}

	// rename is atomic within one filesystem, which writeTemp guarantees
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	return syncDir(filepath.Dir(path))
}

// WriteExclusive writes data to path only if path does not exist yet.
// The content is fully written and synced to a temp file first and then
// hard-linked into place, so the target appears complete or not at all.
// Returns ErrExists (wrapped) when another writer got there first.
func WriteExclusive(path string, data []byte) error {
	tempPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	if err := os.Link(tempPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("failed to link temp file to %s: %w", path, err)
	}

	return syncDir(filepath.Dir(path))
}

// writeTemp writes data to a synced temp file next to path and returns its name.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	fail := func(format string, err error) (string, error) {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf(format, err)
	}

	if _, err := tempFile.Write(data); err != nil {
		return fail("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fail("failed to sync temp file: %w", err)
	}
	if err := tempFile.Chmod(0644); err != nil {
		return fail("failed to set permissions: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return tempPath, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// syncDir flushes directory metadata so a completed rename or link survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the entry is still visible.
	_ = d.Sync()
	return nil
}
