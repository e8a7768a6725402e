package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/models"
)

const fullPlan = `---
task_id: TASK-042
title: Add audit trail export
stack: python
version: 3
labels: [compliance]
---

# Implementation Plan: TASK-042

## Summary

Export audit events as signed CSV files for the compliance team.

## Files to Create

- ` + "`src/audit/export.py`" + ` - CSV writer
- ` + "`tests/test_export.py`" + `

## Files to Modify

- src/audit/models.py - add export flag
- *None*

## External Dependencies

- ` + "`cryptography 42.0`" + ` - signing

## Patterns

- Repository
- Strategy

## Risks & Mitigation

- **Risk**: Large exports exhaust worker memory
  - **Mitigation**: stream rows
  - **Severity**: high
- Signature key rotation breaks old files

## Estimated Effort

- **Duration**: 2 days
- **Lines of Code**: 350

## Implementation Phases

1. Writer and signing
2. Wire the export endpoint

## Implementation Notes

1. Reuse the existing audit query builder.
2. Keep rows in insertion order.

## Test Summary

Unit tests for the writer.
`

func TestMarkdownParser_FullPlan(t *testing.T) {
	plan, err := NewMarkdownParser().Parse(strings.NewReader(fullPlan))
	require.NoError(t, err)

	assert.Equal(t, "TASK-042", plan.ID)
	assert.Equal(t, "Add audit trail export", plan.Title)
	assert.Equal(t, "python", plan.Stack)
	assert.Equal(t, 3, plan.Version)
	assert.Equal(t, []string{"compliance"}, plan.Labels)

	assert.Equal(t, []string{"src/audit/export.py", "tests/test_export.py"}, plan.FilesToCreate)
	assert.Equal(t, []string{"src/audit/models.py"}, plan.FilesToModify)
	assert.Equal(t, []string{"cryptography 42.0 - signing"}, plan.Dependencies)
	assert.Equal(t, []string{"Repository", "Strategy"}, plan.Patterns)
	assert.Equal(t, []string{
		"Large exports exhaust worker memory",
		"Signature key rotation breaks old files",
	}, plan.RiskIndicators)
	assert.Equal(t, 350, plan.EstimatedLOC)
	assert.Equal(t, []string{"Writer and signing", "Wire the export endpoint"}, plan.Phases)
	assert.Equal(t, "Reuse the existing audit query builder.\nKeep rows in insertion order.", plan.Notes)
	assert.Equal(t, "Export audit events as signed CSV files for the compliance team.", plan.Description)
}

func TestMarkdownParser_NoFrontmatter(t *testing.T) {
	input := `# Migrate sessions to Redis

Sessions move from the database to Redis.

## Files to Modify

- internal/session/store.go

## Risks

- Database schema migration required for the session table
`
	plan, err := NewMarkdownParser().Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Empty(t, plan.ID)
	assert.Equal(t, "Migrate sessions to Redis", plan.Title)
	assert.Equal(t, "Sessions move from the database to Redis.", plan.Description)
	assert.Equal(t, []string{"internal/session/store.go"}, plan.FilesToModify)
	assert.Equal(t, []string{"Database schema migration required for the session table"}, plan.RiskIndicators)

	ctx := models.NewEvaluationContext(*plan, models.ReviewFlags{})
	assert.Equal(t, []string{"schema migration"}, ctx.MatchKeywords([]string{"schema migration", "oauth"}))
}

func TestMarkdownParser_FrontmatterWins(t *testing.T) {
	input := `---
task_id: TASK-5
title: From frontmatter
estimated_loc: 90
---
# From heading

## Estimated Effort

Lines of Code: 400
`
	plan, err := NewMarkdownParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "From frontmatter", plan.Title)
	assert.Equal(t, 90, plan.EstimatedLOC)
}

func TestMarkdownParser_InvalidFrontmatter(t *testing.T) {
	input := "---\ntask_id: [broken\n---\n# Title\n"
	_, err := NewMarkdownParser().Parse(strings.NewReader(input))
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMarkdownParser_UnknownSectionsAreIgnored(t *testing.T) {
	input := `# Plan

## Test Summary

- not a file

## Files to Create

- a.go
`
	plan, err := NewMarkdownParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, plan.FilesToCreate)
	assert.Empty(t, plan.Description)
}

func TestExtractFrontmatter(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		wantFrontmatter string
		wantBody        string
	}{
		{
			name:            "with frontmatter",
			input:           "---\na: 1\n---\nbody",
			wantFrontmatter: "a: 1",
			wantBody:        "body",
		},
		{
			name:     "no frontmatter",
			input:    "# Title\ntext",
			wantBody: "# Title\ntext",
		},
		{
			name:     "unclosed",
			input:    "---\na: 1\nbody",
			wantBody: "---\na: 1\nbody",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, fm := extractFrontmatter([]byte(tt.input))
			assert.Equal(t, tt.wantBody, string(body))
			if tt.wantFrontmatter == "" {
				assert.Nil(t, fm)
			} else {
				assert.Equal(t, tt.wantFrontmatter, string(fm))
			}
		})
	}
}
