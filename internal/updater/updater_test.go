package updater

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/parser"
)

func refinedPlan() models.ImplementationPlan {
	return models.ImplementationPlan{
		ID:            "TASK-7",
		Title:         "Rate limit the public API",
		Stack:         "go",
		Description:   "Token bucket in front of the public handlers.\nInternal callers bypass it.",
		FilesToCreate: []string{"internal/ratelimit/bucket.go", "internal/ratelimit/bucket_test.go"},
		Dependencies:  []string{"golang.org/x/time"},
		Patterns:      []string{"middleware"},
		EstimatedLOC:  220,
		Version:       3,
		Timestamp:     time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestWritePlan_YAMLKeepsCommentsAndUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TASK-7.yaml")
	original := `# Owned by the platform team
task_id: TASK-7
title: Rate limit the API # short title
reviewer: someone
files_to_modify: [internal/api/router.go]
patterns: [middleware, decorator]
estimated_loc: 180
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	var got UpdateMetrics
	err := WritePlan(path, refinedPlan(), WithMonitor(func(m UpdateMetrics) { got = m }))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Owned by the platform team")
	assert.Contains(t, text, "reviewer: someone")
	assert.Contains(t, text, "patterns: [middleware]")
	assert.NotContains(t, text, "files_to_modify")
	assert.Less(t, strings.Index(text, "task_id"), strings.Index(text, "reviewer"))

	plan, err := parser.ParseFile(path)
	require.NoError(t, err)
	want := refinedPlan()
	assert.Equal(t, want.Title, plan.Title)
	assert.Equal(t, want.Description, plan.Description)
	assert.Equal(t, want.FilesToCreate, plan.FilesToCreate)
	assert.Empty(t, plan.FilesToModify)
	assert.Equal(t, 220, plan.EstimatedLOC)
	assert.Equal(t, 3, plan.Version)
	assert.True(t, want.Timestamp.Equal(plan.Timestamp))

	assert.NoError(t, got.Err)
	assert.Equal(t, parser.FormatYAML, got.Format)
	assert.Equal(t, 0, got.OldVersion)
	assert.Equal(t, 3, got.NewVersion)
	assert.Equal(t, len(original), got.BytesRead)
	assert.Equal(t, len(data), got.BytesWritten)

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file should be removed")
}

func TestWritePlan_CreatesFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"new.yaml", "new.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WritePlan(path, refinedPlan()))

			plan, err := parser.ParseFile(path)
			require.NoError(t, err)
			assert.Equal(t, "TASK-7", plan.ID)
			assert.Equal(t, refinedPlan().Dependencies, plan.Dependencies)
			assert.Equal(t, 3, plan.Version)
		})
	}
}

func TestWritePlan_JSONKeepsUnmanagedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TASK-7.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "TASK-7", "version": 2, "owner": {"team": "platform"}, "labels": ["old"]}`), 0644))

	var got UpdateMetrics
	require.NoError(t, WritePlan(path, refinedPlan(), WithMonitor(func(m UpdateMetrics) { got = m })))
	assert.Equal(t, 2, got.OldVersion)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]interface{}{"team": "platform"}, doc["owner"])
	assert.NotContains(t, doc, "labels")
	assert.Equal(t, "Rate limit the public API", doc["title"])
}

func TestWritePlan_Errors(t *testing.T) {
	dir := t.TempDir()

	err := WritePlan(filepath.Join(dir, "TASK-7.md"), refinedPlan())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("task_id: TASK-8\n"), 0644))
	assert.ErrorIs(t, WritePlan(other, refinedPlan()), ErrPlanMismatch)

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- a\n- b\n"), 0644))
	assert.ErrorIs(t, WritePlan(list, refinedPlan()), ErrInvalidPlan)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"id": `), 0644))
	assert.ErrorIs(t, WritePlan(broken, refinedPlan()), ErrInvalidPlan)

	// The file is untouched after a failed write.
	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, "task_id: TASK-8\n", string(data))
}

func TestWritePlan_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TASK-7.yaml")
	holder := filelock.NewFileLock(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	var got UpdateMetrics
	err := WritePlan(path, refinedPlan(),
		WithTimeout(30*time.Millisecond),
		WithMonitor(func(m UpdateMetrics) { got = m }))
	assert.True(t, errors.Is(err, filelock.ErrLockTimeout))
	assert.Equal(t, err, got.Err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
