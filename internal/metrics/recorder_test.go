package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func complexityEvent(task string, at time.Time, score float64) models.MetricsEvent {
	return models.MetricsEvent{
		Kind:       models.EventComplexity,
		TaskID:     task,
		Timestamp:  at,
		Complexity: &models.ComplexityPayload{Score: score, Max: 10, Category: "low", Stack: "go"},
	}
}

func newRecorder(t *testing.T, log logger.Logger) *Recorder {
	t.Helper()
	return NewRecorder(filepath.Join(t.TempDir(), "metrics", "events.jsonl"), true, log)
}

func TestRecordAndQuery(t *testing.T) {
	r := newRecorder(t, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(complexityEvent(fmt.Sprintf("T-%d", i), t0.Add(time.Duration(i)*time.Hour), float64(i))))
	}

	all, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, ev := range all {
		assert.Equal(t, fmt.Sprintf("T-%d", i), ev.TaskID)
	}

	window, err := r.Query(t0.Add(time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "T-1", window[0].TaskID)
	assert.Equal(t, "T-2", window[1].TaskID)

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestRecord_Disabled(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "events.jsonl"), false, nil)
	require.NoError(t, r.Record(complexityEvent("T-1", t0, 1)))
	assert.NoFileExists(t, r.Path())

	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecord_Validation(t *testing.T) {
	r := newRecorder(t, nil)

	err := r.Record(models.MetricsEvent{Kind: models.EventDecision, TaskID: "T-1"})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	err = r.Record(models.MetricsEvent{Kind: "bogus", TaskID: "T-1", Timestamp: t0})
	assert.ErrorAs(t, err, &verr)
	assert.NoFileExists(t, r.Path())
}

func TestRecord_StampsTimestamp(t *testing.T) {
	r := newRecorder(t, nil)
	r.now = func() time.Time { return t0 }

	require.NoError(t, r.RecordOutcome("T-1", models.OutcomePayload{Status: models.OutcomeApproved}))

	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, t0, events[0].Timestamp)
}

func TestTypedHelpers(t *testing.T) {
	r := newRecorder(t, nil)

	score := &models.ComplexityScore{
		Total:    4.2,
		Max:      10,
		Category: "medium",
		Factors:  []models.FactorScore{{Name: "files", Points: 1.5}, {Name: "risk", Points: 2.7}},
	}
	require.NoError(t, r.RecordComplexity("T-1", "python", score))
	require.NoError(t, r.RecordDecision("T-1", models.ReviewDecision{
		Decision:  models.DecisionFullRequired,
		Stage:     models.StageComplexity,
		Score:     4.2,
		Triggers:  models.TriggerSet{{Kind: models.TriggerSchemaChanges}},
		Escalated: true,
		DecidedAt: t0,
	}))
	require.NoError(t, r.RecordOutcome("T-1", models.OutcomePayload{
		Decision: models.DecisionFullRequired, Status: models.OutcomeRevised, DurationSeconds: 90,
	}))

	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.EventComplexity, events[0].Kind)
	assert.Equal(t, map[string]float64{"files": 1.5, "risk": 2.7}, events[0].Complexity.Factors)
	assert.Equal(t, "python", events[0].Complexity.Stack)

	assert.Equal(t, models.EventDecision, events[1].Kind)
	assert.Equal(t, t0, events[1].Timestamp)
	assert.Equal(t, []string{"schema_changes"}, events[1].Decision.Triggers)

	assert.Equal(t, models.OutcomeRevised, events[2].Outcome.Status)

	assert.Error(t, r.RecordComplexity("T-1", "", nil))
}

func TestQuery_SkipsCrashedAppend(t *testing.T) {
	var buf bytes.Buffer
	r := newRecorder(t, logger.NewConsoleLogger(&buf, "warn"))
	require.NoError(t, r.Record(complexityEvent("T-1", t0, 2)))

	// A second writer dies halfway through its record.
	f, err := os.OpenFile(r.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"decision","task_id":"T-2","timest`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "T-1", events[0].TaskID)
	assert.Equal(t, 2.0, events[0].Complexity.Score)
	assert.Contains(t, buf.String(), "skipping corrupt record")

	// The next append starts on a fresh line and is read back intact.
	require.NoError(t, r.Record(complexityEvent("T-3", t0.Add(time.Minute), 3)))
	events, err = r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "T-3", events[1].TaskID)
}

func TestQuery_SkipsGarbageLines(t *testing.T) {
	var buf bytes.Buffer
	r := newRecorder(t, logger.NewConsoleLogger(&buf, "warn"))
	require.NoError(t, r.Record(complexityEvent("T-1", t0, 1)))

	f, err := os.OpenFile(r.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n{\"kind\":\"outcome\",\"task_id\":\"T-2\",\"timestamp\":\"2026-04-01T12:00:00Z\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, r.Record(complexityEvent("T-3", t0, 3)))

	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "T-1", events[0].TaskID)
	assert.Equal(t, "T-3", events[1].TaskID)
	assert.Contains(t, buf.String(), ":2:")
	assert.Contains(t, buf.String(), ":4:", "outcome without payload is rejected")
}

func TestQuery_MissingLog(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "absent.jsonl"), true, nil)
	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestRecord_ConcurrentWritersNeverInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Separate recorders behave like separate processes.
			r := NewRecorder(path, true, nil)
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, r.Record(complexityEvent(fmt.Sprintf("W%d-%d", w, i), t0, float64(i))))
			}
		}(w)
	}
	wg.Wait()

	var buf bytes.Buffer
	r := NewRecorder(path, true, logger.NewConsoleLogger(&buf, "warn"))
	events, err := r.Query(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, writers*perWriter)
	assert.Empty(t, buf.String())
}
