package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions callers commonly branch on.
var (
	// ErrConflict is matched by every ConflictError via errors.Is.
	ErrConflict = errors.New("conflict")

	// ErrSessionClosed is returned when an operation targets a session in a terminal state.
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotFound is returned when a plan, version or session does not exist.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError reports a configuration layer that could not be read,
// parsed or validated. The layer is discarded and resolution continues with
// the layers that loaded cleanly.
type ConfigurationError struct {
	Source string // File path, "env" or "override"
	Key    string // Offending key when known
	Err    error
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration error")
	if e.Source != "" {
		sb.WriteString(fmt.Sprintf(" in %s", e.Source))
	}
	if e.Key != "" {
		sb.WriteString(fmt.Sprintf(" (key %s)", e.Key))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ValidationError reports malformed plan, context or change input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// ConflictError reports a lost race on a plan: a second session trying to
// open, or a commit whose base version is no longer the latest. It is never
// resolved automatically; the caller retries with fresh state.
type ConflictError struct {
	PlanID   string
	Expected int // Base version the caller committed against (0 when not a commit race)
	Actual   int // Latest version found on disk
	Reason   string
}

func (e *ConflictError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("conflict on plan %s", e.PlanID))
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if e.Expected > 0 || e.Actual > 0 {
		sb.WriteString(fmt.Sprintf(" (base version %d, latest version %d)", e.Expected, e.Actual))
	}
	return sb.String()
}

// Is makes every ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PersistenceError reports a durable write or read that failed.
type PersistenceError struct {
	Op   string // e.g. "write version", "save session"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("persistence error: %s", e.Op))
	if e.Path != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Path))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// CorruptionWarning describes a record that failed to parse and was skipped.
// It is logged, never returned as a hard failure.
type CorruptionWarning struct {
	Source string
	Line   int // 1-based line number, 0 when not line oriented
	Err    error
}

func (e *CorruptionWarning) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("skipping corrupt record at %s:%d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("skipping corrupt record %s: %v", e.Source, e.Err)
}

func (e *CorruptionWarning) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsCorruption reports whether err is or wraps a CorruptionWarning.
func IsCorruption(err error) bool {
	var cw *CorruptionWarning
	return errors.As(err, &cw)
}

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
