// Package metrics records scoring, routing and outcome events in an
// append-only JSONL log and answers queries over it.
//
// The log is the source of truth. Each event is one line written with a
// single append under a lock file, so concurrent writers never interleave
// records and a writer that dies mid-append leaves at most one damaged
// line, which readers skip.
package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// Recorder appends events to a JSONL log.
type Recorder struct {
	path    string
	enabled bool
	logger  logger.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder writing to path. A disabled Recorder drops
// every event; queries still read the existing log.
func NewRecorder(path string, enabled bool, log logger.Logger) *Recorder {
	return &Recorder{
		path:    path,
		enabled: enabled,
		logger:  logger.OrNop(log),
		now:     time.Now,
	}
}

// Path returns the log file path.
func (r *Recorder) Path() string {
	return r.path
}

// Enabled reports whether events are written.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

func (r *Recorder) lockPath() string {
	return r.path + ".lock"
}

// Record validates event and appends it as one line. A zero timestamp is
// set to the current time.
func (r *Recorder) Record(event models.MetricsEvent) error {
	if !r.enabled {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if err := event.Validate(); err != nil {
		return models.NewValidationError("event", "%v", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode metrics event: %w", err)
	}
	line = append(line, '\n')

	lock := filelock.NewFileLock(r.lockPath())
	if err := lock.Lock(); err != nil {
		return &models.PersistenceError{Op: "lock metrics log", Path: lock.Path(), Err: err}
	}
	defer lock.Unlock()

	if err := r.append(line); err != nil {
		return &models.PersistenceError{Op: "append metrics event", Path: r.path, Err: err}
	}
	return nil
}

// append writes line with one write call. If the log does not end in a
// newline, a previous writer died mid-record and the new record is started
// on a fresh line.
func (r *Recorder) append(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return err
		}
		if last[0] != '\n' {
			line = append([]byte{'\n'}, line...)
		}
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RecordComplexity logs one scoring pass.
func (r *Recorder) RecordComplexity(taskID, stack string, score *models.ComplexityScore) error {
	if score == nil {
		return models.NewValidationError("score", "complexity score is required")
	}
	payload := &models.ComplexityPayload{
		Score:    score.Total,
		Max:      score.Max,
		Category: score.Category,
		Stack:    stack,
		Failsafe: score.Failsafe,
	}
	if len(score.Factors) > 0 {
		payload.Factors = make(map[string]float64, len(score.Factors))
		for _, f := range score.Factors {
			payload.Factors[f.Name] = f.Points
		}
	}
	return r.Record(models.MetricsEvent{Kind: models.EventComplexity, TaskID: taskID, Complexity: payload})
}

// RecordDecision logs one routing decision.
func (r *Recorder) RecordDecision(taskID string, d models.ReviewDecision) error {
	return r.Record(models.MetricsEvent{
		Kind:      models.EventDecision,
		TaskID:    taskID,
		Timestamp: d.DecidedAt,
		Decision: &models.DecisionPayload{
			Decision:  d.Decision,
			Stage:     d.Stage,
			Score:     d.Score,
			Stack:     d.Stack,
			Mode:      d.Mode,
			Triggers:  d.Triggers.Kinds(),
			Escalated: d.Escalated,
			Reason:    d.Reason,
		},
	})
}

// RecordOutcome logs how a routed plan ended.
func (r *Recorder) RecordOutcome(taskID string, outcome models.OutcomePayload) error {
	return r.Record(models.MetricsEvent{Kind: models.EventOutcome, TaskID: taskID, Outcome: &outcome})
}

// Query returns the events with since <= timestamp <= until in recorded
// order. A zero bound is open. Lines that fail to decode are skipped with
// a warning. A missing log yields no events.
func (r *Recorder) Query(since, until time.Time) ([]models.MetricsEvent, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "open metrics log", Path: r.path, Err: err}
	}
	defer f.Close()

	var events []models.MetricsEvent
	_, err = scanEvents(f, 0, r.path, r.logger, true, func(_ int64, ev models.MetricsEvent) error {
		if inWindow(ev.Timestamp, since, until) {
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, &models.PersistenceError{Op: "read metrics log", Path: r.path, Err: err}
	}
	return events, nil
}

func inWindow(ts, since, until time.Time) bool {
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	if !until.IsZero() && ts.After(until) {
		return false
	}
	return true
}

// scanEvents decodes the log from byte offset start, calling fn with the
// offset just past each decoded line. Corrupt lines are logged and
// skipped. A final line without a newline is an append in progress or the
// remains of a crashed writer; it is decoded only when tail is set and is
// never counted in the returned offset.
func scanEvents(r io.ReaderAt, start int64, source string, log logger.Logger, tail bool, fn func(end int64, ev models.MetricsEvent) error) (int64, error) {
	reader := bufio.NewReader(io.NewSectionReader(r, start, 1<<62))
	offset := start
	lineNo := 0

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, err
		}
		lineNo++
		complete := line[len(line)-1] == '\n'
		if !complete && !tail {
			return offset, nil
		}
		end := offset
		if complete {
			end = offset + int64(len(line))
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var ev models.MetricsEvent
			decodeErr := json.Unmarshal(trimmed, &ev)
			if decodeErr == nil {
				decodeErr = ev.Validate()
			}
			if decodeErr != nil {
				log.LogWarn((&models.CorruptionWarning{Source: source, Line: lineNo, Err: decodeErr}).Error())
			} else if err := fn(end, ev); err != nil {
				return offset, err
			}
		}

		offset = end
		if !complete {
			return offset, nil
		}
	}
}
