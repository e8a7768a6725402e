// Package versions keeps the full history of every plan as immutable
// snapshots. A snapshot is never modified after it is written, so any
// earlier state of a plan can be restored exactly.
package versions

import (
	"errors"
	"fmt"
	"time"

	"github.com/harrison/plangate/internal/changes"
	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/store"
)

// Manager creates, restores and compares plan versions.
type Manager struct {
	store  *store.Store
	logger logger.Logger
	now    func() time.Time
}

// NewManager creates a Manager backed by st.
func NewManager(st *store.Store, log logger.Logger) *Manager {
	return &Manager{
		store:  st,
		logger: logger.OrNop(log),
		now:    time.Now,
	}
}

// Init stores plan as version 1. It fails with a ConflictError when the
// plan already has versions.
func (m *Manager) Init(plan models.ImplementationPlan) (models.PlanVersion, error) {
	if err := plan.Validate(); err != nil {
		return models.PlanVersion{}, err
	}

	var created models.PlanVersion
	err := m.withCommitLock(plan.ID, func() error {
		latest, err := m.store.LatestVersion(plan.ID)
		if err != nil {
			return err
		}
		if latest > 0 {
			return &models.ConflictError{PlanID: plan.ID, Actual: latest, Reason: "plan is already initialized"}
		}

		now := m.now().UTC()
		snapshot := plan.Clone()
		snapshot.Version = 1
		snapshot.Timestamp = now

		created, err = m.write(models.PlanVersion{
			PlanID:    plan.ID,
			Version:   1,
			Plan:      snapshot,
			CreatedAt: now,
			SessionID: models.InitialSessionID,
			Reason:    "initial version",
		})
		return err
	})
	if err != nil {
		return models.PlanVersion{}, err
	}

	m.logger.LogInfo(fmt.Sprintf("plan %s initialized at version 1", plan.ID))
	return created, nil
}

// Commit applies records to a copy of base and stores the result as version
// base.Version+1. Immediately before writing it re-checks, under the plan's
// commit lock, that base is still the latest version; if another commit
// landed first the result is a ConflictError and nothing is written. base
// is never modified.
func (m *Manager) Commit(base models.PlanVersion, records []models.ChangeRecord, sessionID, reason string) (models.PlanVersion, error) {
	if base.Version < 1 {
		return models.PlanVersion{}, models.NewValidationError("base_version", "must be >= 1, got %d", base.Version)
	}

	plan, err := changes.Apply(base.Plan, records)
	if err != nil {
		return models.PlanVersion{}, err
	}
	if err := plan.Validate(); err != nil {
		return models.PlanVersion{}, err
	}

	next := base.Version + 1
	now := m.now().UTC()
	plan.Version = next
	plan.Timestamp = now

	candidate := models.PlanVersion{
		PlanID:      base.PlanID,
		Version:     next,
		Plan:        plan,
		CreatedAt:   now,
		SessionID:   sessionID,
		BaseVersion: base.Version,
		Changes:     cloneRecords(records),
		Reason:      reason,
	}

	var created models.PlanVersion
	err = m.withCommitLock(base.PlanID, func() error {
		latest, err := m.store.LatestVersion(base.PlanID)
		if err != nil {
			return err
		}
		if latest != base.Version {
			return &models.ConflictError{
				PlanID:   base.PlanID,
				Expected: base.Version,
				Actual:   latest,
				Reason:   "base version is no longer the latest",
			}
		}
		created, err = m.write(candidate)
		return err
	})
	if err != nil {
		return models.PlanVersion{}, err
	}

	m.logger.LogInfo(fmt.Sprintf("plan %s committed version %d (%s)",
		base.PlanID, next, changes.Summarize(records)))
	return created, nil
}

func (m *Manager) write(v models.PlanVersion) (models.PlanVersion, error) {
	created, err := m.store.CreateVersion(v)
	if errors.Is(err, store.ErrVersionExists) {
		return models.PlanVersion{}, &models.ConflictError{
			PlanID:   v.PlanID,
			Expected: v.Version - 1,
			Actual:   v.Version,
			Reason:   "version was written concurrently",
		}
	}
	return created, err
}

func (m *Manager) withCommitLock(planID string, fn func() error) error {
	if !models.ValidPlanID(planID) {
		return models.NewValidationError("plan_id", "invalid plan identifier %q", planID)
	}
	lock := filelock.NewFileLock(m.store.CommitLockPath(planID))
	if err := lock.Lock(); err != nil {
		return &models.PersistenceError{Op: "lock plan for commit", Path: lock.Path(), Err: err}
	}
	defer lock.Unlock()
	return fn()
}

// Restore returns the exact snapshot stored for version n.
func (m *Manager) Restore(planID string, n int) (models.PlanVersion, error) {
	v, err := m.store.ReadVersion(planID, n)
	if err != nil {
		return models.PlanVersion{}, err
	}
	return v.Clone(), nil
}

// Latest returns the newest snapshot of a plan. A plan without versions
// wraps models.ErrNotFound.
func (m *Manager) Latest(planID string) (models.PlanVersion, error) {
	n, err := m.store.LatestVersion(planID)
	if err != nil {
		return models.PlanVersion{}, err
	}
	if n == 0 {
		return models.PlanVersion{}, fmt.Errorf("plan %s: %w", planID, models.ErrNotFound)
	}
	return m.Restore(planID, n)
}

// History returns every snapshot of a plan ordered by version ascending.
func (m *Manager) History(planID string) ([]models.PlanVersion, error) {
	numbers, err := m.store.ListVersions(planID)
	if err != nil {
		return nil, err
	}
	history := make([]models.PlanVersion, 0, len(numbers))
	for _, n := range numbers {
		v, err := m.Restore(planID, n)
		if err != nil {
			return nil, err
		}
		history = append(history, v)
	}
	return history, nil
}

// Compare summarizes how version b differs from version a.
func (m *Manager) Compare(planID string, a, b int) (models.VersionDiff, error) {
	from, err := m.Restore(planID, a)
	if err != nil {
		return models.VersionDiff{}, err
	}
	to, err := m.Restore(planID, b)
	if err != nil {
		return models.VersionDiff{}, err
	}
	return Diff(from, to), nil
}

// Diff compares two snapshots field by field.
func Diff(from, to models.PlanVersion) models.VersionDiff {
	d := models.VersionDiff{
		PlanID:   to.PlanID,
		From:     from.Version,
		To:       to.Version,
		LOCDelta: to.Plan.EstimatedLOC - from.Plan.EstimatedLOC,
	}

	for _, field := range models.ListFields {
		added := missingFrom(to.Plan.List(field), from.Plan.List(field))
		removed := missingFrom(from.Plan.List(field), to.Plan.List(field))
		if len(added) > 0 {
			if d.Added == nil {
				d.Added = map[string][]string{}
			}
			d.Added[field] = added
		}
		if len(removed) > 0 {
			if d.Removed == nil {
				d.Removed = map[string][]string{}
			}
			d.Removed[field] = removed
		}
	}

	scalars := []struct {
		field    string
		from, to interface{}
	}{
		{models.FieldTitle, from.Plan.Title, to.Plan.Title},
		{models.FieldStack, from.Plan.Stack, to.Plan.Stack},
		{models.FieldDescription, from.Plan.Description, to.Plan.Description},
		{models.FieldNotes, from.Plan.Notes, to.Plan.Notes},
		{models.FieldEstimatedLOC, from.Plan.EstimatedLOC, to.Plan.EstimatedLOC},
	}
	for _, s := range scalars {
		if s.from != s.to {
			if d.Scalars == nil {
				d.Scalars = map[string][2]interface{}{}
			}
			d.Scalars[s.field] = [2]interface{}{s.from, s.to}
		}
	}
	return d
}

// missingFrom returns the entries of list that other lacks, in list order.
func missingFrom(list, other []string) []string {
	set := make(map[string]bool, len(other))
	for _, v := range other {
		set[v] = true
	}
	var out []string
	for _, v := range list {
		if !set[v] {
			out = append(out, v)
		}
	}
	return out
}

func cloneRecords(records []models.ChangeRecord) []models.ChangeRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]models.ChangeRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
