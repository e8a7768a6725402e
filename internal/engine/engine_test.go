package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/parser"
	"github.com/harrison/plangate/internal/review"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(config.DefaultConfig(), t.TempDir(), nil)
}

func manyFiles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "internal/store/file" + string(rune('a'+i)) + ".go"
	}
	return out
}

func TestEvaluate_SimplePlanAutoApproves(t *testing.T) {
	e := newEngine(t)

	ev, err := e.Evaluate(models.ImplementationPlan{
		ID:            "TASK-1",
		Title:         "Add a padding helper",
		FilesToCreate: []string{"internal/strutil/pad.go"},
	}, models.ReviewFlags{}, "")
	require.NoError(t, err)

	assert.Empty(t, ev.Triggers)
	assert.Equal(t, models.DecisionAutoApprove, ev.Decision.Decision)
	assert.Equal(t, review.StateDecided, ev.Flow.State())
	assert.False(t, ev.NeedsReview())

	events, err := e.QueryMetrics(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventComplexity, events[0].Kind)
	assert.Equal(t, models.EventDecision, events[1].Kind)
	assert.Equal(t, "TASK-1", events[1].TaskID)
}

func TestEvaluate_TriggerForcesFullReview(t *testing.T) {
	e := newEngine(t)

	ev, err := e.Evaluate(models.ImplementationPlan{
		ID:             "TASK-2",
		FilesToModify:  manyFiles(10),
		RiskIndicators: []string{"database schema migration"},
	}, models.ReviewFlags{}, "")
	require.NoError(t, err)

	assert.True(t, ev.Triggers.Has(models.TriggerSchemaChanges))
	assert.Equal(t, models.DecisionFullRequired, ev.Decision.Decision)
	assert.True(t, ev.NeedsReview())

	decision, err := e.CompleteReview(ev, 85)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAutoApprove, decision.Decision)
	assert.Equal(t, review.StateDecided, ev.Flow.State())
	assert.Equal(t, decision, *ev.Flow.Final)

	_, err = e.CompleteReview(ev, 85)
	assert.ErrorIs(t, err, review.ErrInvalidTransition)

	events, err := e.QueryMetrics(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestEvaluate_ModeNeverSkips(t *testing.T) {
	e := newEngine(t)

	ev, err := e.Evaluate(models.ImplementationPlan{
		ID:             "TASK-3",
		RiskIndicators: []string{"rotate oauth tokens"},
	}, models.ReviewFlags{ForceReview: true}, models.ModeNever)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAutoApprove, ev.Decision.Decision)
	assert.Equal(t, review.StateSkipped, ev.Flow.State())
}

func TestEvaluate_InvalidPlanIsEscalated(t *testing.T) {
	e := newEngine(t)

	ev, err := e.Evaluate(models.ImplementationPlan{ID: "TASK-4", EstimatedLOC: -1}, models.ReviewFlags{}, "")
	require.NoError(t, err)
	assert.True(t, ev.Score.Failsafe)
	assert.Equal(t, models.DecisionFullRequired, ev.Decision.Decision)
	assert.True(t, ev.Decision.Escalated)
}

func TestEvaluate_MetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	e := New(cfg, t.TempDir(), nil)

	_, err := e.Evaluate(models.ImplementationPlan{ID: "TASK-5"}, models.ReviewFlags{}, "")
	require.NoError(t, err)

	events, err := e.QueryMetrics(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecideReview(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		score float64
		want  models.Decision
	}{
		{85, models.DecisionAutoApprove},
		{80, models.DecisionAutoApprove},
		{65, models.DecisionApproveWithRecommendations},
		{49.9, models.DecisionReject},
	}
	for _, tt := range tests {
		d, err := e.DecideReview("TASK-6", tt.score, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Decision, "score %v", tt.score)
	}
}

func TestReviewScore(t *testing.T) {
	e := newEngine(t)

	score, err := e.ReviewScore(map[string]float64{"solid_principles": 90, "testability": 60})
	require.NoError(t, err)
	assert.InDelta(t, 78.0, score, 0.001)

	_, err = e.ReviewScore(map[string]float64{"vibes": 100})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRefinementRoundTrip(t *testing.T) {
	e := newEngine(t)
	planID := "TASK-7"

	v1, err := e.InitPlan(models.ImplementationPlan{ID: planID, FilesToCreate: []string{"a.go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	commitOne := func(after string) models.PlanVersion {
		s, err := e.OpenSession(planID)
		require.NoError(t, err)
		require.NoError(t, e.ApplyChange(s, models.ChangeRecord{Op: models.OpAdd, Field: models.FieldFilesToCreate, After: after}))
		v, err := e.Commit(s, "add "+after)
		require.NoError(t, err)
		return v
	}
	commitOne("b.go")
	v3 := commitOne("c.go")
	require.Equal(t, 3, v3.Version)

	s, err := e.OpenSession(planID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.BaseVersion())
	require.NoError(t, e.ApplyChange(s, models.ChangeRecord{Op: models.OpAdd, Field: models.FieldDependencies, After: "golang.org/x/sync"}))
	require.NoError(t, e.ApplyChange(s, models.ChangeRecord{Op: models.OpRemove, Field: models.FieldFilesToCreate, Before: "a.go"}))
	v4, err := e.Commit(s, "second round")
	require.NoError(t, err)
	assert.Equal(t, 4, v4.Version)

	history, err := e.History(planID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, v := range history {
		assert.Equal(t, i+1, v.Version)
	}

	restored, err := e.Restore(planID, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go", "c.go"}, restored.Plan.FilesToCreate)
	assert.Equal(t, []string{"golang.org/x/sync"}, restored.Plan.Dependencies)

	diff, err := e.Compare(planID, 1, 4)
	require.NoError(t, err)
	assert.False(t, diff.Empty())

	archived, err := e.ArchivedSessions(planID)
	require.NoError(t, err)
	assert.Len(t, archived, 3)

	events, err := e.QueryMetrics(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, models.EventOutcome, last.Kind)
	assert.Equal(t, models.OutcomeRevised, last.Outcome.Status)
	assert.Equal(t, 4, last.Outcome.Version)
}

func TestAbortLeavesHistoryUntouched(t *testing.T) {
	e := newEngine(t)
	_, err := e.InitPlan(models.ImplementationPlan{ID: "TASK-8"})
	require.NoError(t, err)

	s, err := e.OpenSession("TASK-8")
	require.NoError(t, err)
	require.NoError(t, e.ApplyChange(s, models.ChangeRecord{Op: models.OpModify, Field: models.FieldTitle, After: "changed"}))
	require.NoError(t, e.Abort(s))

	latest, err := e.Latest("TASK-8")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	status, err := e.SessionStatus("TASK-8")
	require.NoError(t, err)
	assert.Nil(t, status)

	_, err = e.OpenSession("TASK-8")
	require.NoError(t, err)
}

func TestAbortSession(t *testing.T) {
	e := newEngine(t)
	_, err := e.InitPlan(models.ImplementationPlan{ID: "TASK-12"})
	require.NoError(t, err)

	s, err := e.OpenSession("TASK-12")
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	id, err := e.AbortSession("TASK-12")
	require.NoError(t, err)
	assert.Equal(t, s.ID(), id)

	sessionPath := filepath.Join(e.Home(), "plans", "TASK-12", "session.json")
	require.NoError(t, os.WriteFile(sessionPath, []byte("{"), 0644))
	_, err = e.OpenSession("TASK-12")
	assert.True(t, models.IsCorruption(err))

	id, err = e.AbortSession("TASK-12")
	require.NoError(t, err)
	assert.Empty(t, id)
	_, err = e.OpenSession("TASK-12")
	assert.NoError(t, err)
}

func TestAbandonedSessions(t *testing.T) {
	e := newEngine(t)
	_, err := e.InitPlan(models.ImplementationPlan{ID: "TASK-9"})
	require.NoError(t, err)

	s, err := e.OpenSession("TASK-9")
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	stale, err := e.AbandonedSessions(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	aborted, err := e.AbortAbandoned(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{stale[0].ID}, aborted)

	status, err := e.SessionStatus("TASK-9")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestMetricsStats(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Evaluate(models.ImplementationPlan{
		ID: "TASK-10", Stack: "go", FilesToCreate: []string{"a.go"},
	}, models.ReviewFlags{}, "")
	require.NoError(t, err)
	require.NoError(t, e.RecordOutcome("TASK-10", models.OutcomePayload{
		Status: models.OutcomeApproved, HumanOverride: true, DurationSeconds: 30,
	}))

	stats, err := e.MetricsStats(ctx, time.Time{}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"complexity": 1, "decision": 1, "outcome": 1}, stats.Events)
	assert.Equal(t, 1.0, stats.HumanOverrideRate)
	assert.Contains(t, stats.AvgComplexityByStack, "go")

	rebuilt, err := e.MetricsStats(ctx, time.Time{}, true)
	require.NoError(t, err)
	assert.Equal(t, stats.Events, rebuilt.Events)
}

func TestExportPlan(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(t.TempDir(), "TASK-11.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# keep me\ntask_id: TASK-11\ntitle: Draft\n"), 0644))

	plan, err := e.LoadPlan(path)
	require.NoError(t, err)
	_, err = e.InitPlan(*plan)
	require.NoError(t, err)

	s, err := e.OpenSession("TASK-11")
	require.NoError(t, err)
	require.NoError(t, e.ApplyChange(s, models.ChangeRecord{Op: models.OpModify, Field: models.FieldTitle, After: "Final"}))
	_, err = e.Commit(s, "rename")
	require.NoError(t, err)

	v, err := e.ExportPlan("TASK-11", 0, path)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)

	exported, err := parser.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Final", exported.Title)
	assert.Equal(t, 2, exported.Version)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# keep me")

	_, err = e.ExportPlan("TASK-11", 1, filepath.Join(t.TempDir(), "TASK-11.md"))
	assert.Error(t, err)
	_, err = e.ExportPlan("TASK-404", 0, path)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
