package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() ImplementationPlan {
	return ImplementationPlan{
		ID:             "task-42",
		Title:          "Add login endpoint",
		Stack:          "go",
		FilesToCreate:  []string{"internal/auth/login.go"},
		FilesToModify:  []string{"internal/server/routes.go"},
		Dependencies:   []string{"github.com/golang-jwt/jwt"},
		RiskIndicators: []string{"token handling"},
		Labels:         []string{"Hotfix"},
		Notes:          "Keep the handler small.",
		EstimatedLOC:   120,
		Version:        1,
	}
}

func TestImplementationPlan_CloneIsDeep(t *testing.T) {
	p := samplePlan()
	c := p.Clone()
	c.FilesToCreate[0] = "changed.go"
	c.Labels = append(c.Labels, "extra")

	assert.Equal(t, "internal/auth/login.go", p.FilesToCreate[0])
	assert.Len(t, p.Labels, 1)
	assert.Equal(t, p.Dependencies, c.Dependencies)
}

func TestImplementationPlan_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *ImplementationPlan)
		wantErr string
	}{
		{name: "valid", mutate: func(p *ImplementationPlan) {}},
		{name: "missing id", mutate: func(p *ImplementationPlan) { p.ID = " " }, wantErr: "id"},
		{name: "path traversal id", mutate: func(p *ImplementationPlan) { p.ID = "../etc" }, wantErr: "invalid plan identifier"},
		{name: "negative loc", mutate: func(p *ImplementationPlan) { p.EstimatedLOC = -1 }, wantErr: "estimated_loc"},
		{name: "empty list entry", mutate: func(p *ImplementationPlan) { p.Dependencies = []string{""} }, wantErr: "dependencies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePlan()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImplementationPlan_ListAccessors(t *testing.T) {
	p := samplePlan()
	for _, field := range ListFields {
		p.SetList(field, []string{field + "-value"})
		assert.Equal(t, []string{field + "-value"}, p.List(field), field)
	}
	assert.Nil(t, p.List("unknown"))
}

func TestImplementationPlan_HasLabel(t *testing.T) {
	p := samplePlan()
	assert.True(t, p.HasLabel("hotfix"))
	assert.False(t, p.HasLabel("security"))
}

func TestNewEvaluationContext_CopiesSlices(t *testing.T) {
	p := samplePlan()
	ctx := NewEvaluationContext(p, ReviewFlags{ForceReview: true})
	p.FilesToCreate[0] = "mutated.go"

	assert.Equal(t, "internal/auth/login.go", ctx.FilesToCreate[0])
	assert.Equal(t, 2, ctx.FileCount())
	assert.True(t, ctx.Flags.ForceReview)
	assert.Contains(t, ctx.Text, "Add login endpoint")
	assert.Contains(t, ctx.Haystack(), "token handling")
}

func TestChangeRecord_Validate(t *testing.T) {
	pos := 0
	neg := -1
	tests := []struct {
		name    string
		change  ChangeRecord
		wantErr bool
	}{
		{name: "add list entry", change: ChangeRecord{Op: OpAdd, Field: FieldFilesToCreate, After: "a.go"}},
		{name: "add with position", change: ChangeRecord{Op: OpAdd, Field: FieldPhases, After: "p", Position: &pos}},
		{name: "add without value", change: ChangeRecord{Op: OpAdd, Field: FieldFilesToCreate}, wantErr: true},
		{name: "negative position", change: ChangeRecord{Op: OpAdd, Field: FieldPhases, After: "p", Position: &neg}, wantErr: true},
		{name: "remove needs before", change: ChangeRecord{Op: OpRemove, Field: FieldDependencies}, wantErr: true},
		{name: "modify list", change: ChangeRecord{Op: OpModify, Field: FieldDependencies, Before: "a", After: "b"}},
		{name: "modify scalar", change: ChangeRecord{Op: OpModify, Field: FieldTitle, After: "New"}},
		{name: "append notes", change: ChangeRecord{Op: OpAdd, Field: FieldNotes, After: "more"}},
		{name: "remove scalar", change: ChangeRecord{Op: OpRemove, Field: FieldTitle, Before: "x"}, wantErr: true},
		{name: "add scalar title", change: ChangeRecord{Op: OpAdd, Field: FieldTitle, After: "x"}, wantErr: true},
		{name: "unknown field", change: ChangeRecord{Op: OpAdd, Field: "owner", After: "x"}, wantErr: true},
		{name: "unknown op", change: ChangeRecord{Op: "rename", Field: FieldTitle, After: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTriggerSet_AddMergesEvidence(t *testing.T) {
	var set TriggerSet
	set = set.Add(ForceReviewTrigger{Kind: TriggerSchemaChanges, Evidence: []string{"migration"}})
	set = set.Add(ForceReviewTrigger{Kind: TriggerSecurityKeywords, Evidence: []string{"token"}})
	set = set.Add(ForceReviewTrigger{Kind: TriggerSchemaChanges, Evidence: []string{"migration", "schema"}})

	require.Len(t, set, 2)
	assert.Equal(t, []string{"schema_changes", "security_keywords"}, set.Kinds())
	assert.Equal(t, []string{"migration", "schema"}, set[0].Evidence)
	assert.True(t, set.Has(TriggerSecurityKeywords))
	assert.False(t, set.Has(TriggerHotfix))
}

func TestConflictError_MatchesSentinel(t *testing.T) {
	err := &ConflictError{PlanID: "p", Expected: 3, Actual: 4, Reason: "version already committed"}
	wrapped := errors.Join(errors.New("commit"), err)

	assert.True(t, IsConflict(wrapped))
	assert.Contains(t, err.Error(), "base version 3, latest version 4")
	assert.False(t, IsConflict(errors.New("other")))
}

func TestPersistenceError_Unwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := &PersistenceError{Op: "write version", Path: "/tmp/v1.json", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsPersistence(err))
}

func TestMetricsEvent_Validate(t *testing.T) {
	ok := MetricsEvent{Kind: EventOutcome, TaskID: "t", Timestamp: time.Now(), Outcome: &OutcomePayload{Status: OutcomeApproved}}
	assert.NoError(t, ok.Validate())

	missing := MetricsEvent{Kind: EventDecision, TaskID: "t", Timestamp: time.Now()}
	assert.Error(t, missing.Validate())

	badKind := MetricsEvent{Kind: "other", TaskID: "t", Timestamp: time.Now()}
	assert.Error(t, badKind.Validate())
}
