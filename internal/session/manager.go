// Package session runs modification sessions: bounded revision rounds that
// accumulate changes against one plan version and commit them as the next
// version.
//
// At most one session per plan is open at a time. Opening a session takes
// the plan's advisory session lock for the lifetime of the handle, and a
// session record left in a non-terminal state (by a crash or a detach)
// blocks new sessions until it is committed or aborted.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/plangate/internal/changes"
	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// Persistence stores session records. *store.Store implements it.
type Persistence interface {
	LoadSession(planID string) (*models.SessionRecord, error)
	SaveSession(rec models.SessionRecord) error
	ArchiveSession(rec models.SessionRecord) error
	QuarantineSession(planID string, now time.Time) (string, error)
	SessionLockPath(planID string) string
	PlanIDs() ([]string, error)
}

// Versions reads and commits plan versions. *versions.Manager implements it.
type Versions interface {
	Latest(planID string) (models.PlanVersion, error)
	Restore(planID string, n int) (models.PlanVersion, error)
	Commit(base models.PlanVersion, records []models.ChangeRecord, sessionID, reason string) (models.PlanVersion, error)
}

// Manager opens and recovers sessions.
type Manager struct {
	store    Persistence
	versions Versions
	cfg      *config.Config
	logger   logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewManager creates a Manager.
func NewManager(st Persistence, vs Versions, cfg *config.Config, log logger.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		store:    st,
		versions: vs,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Open starts a session against the latest version of planID. It fails
// with a ConflictError when another handle holds the plan's session lock or
// an unresolved session record exists for the plan.
func (m *Manager) Open(planID string) (*Session, error) {
	lock, err := m.acquire(planID)
	if err != nil {
		return nil, err
	}

	s, err := m.open(planID, lock)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	m.logger.LogInfo(fmt.Sprintf("session %s opened on plan %s at version %d", s.ID(), planID, s.BaseVersion()))
	return s, nil
}

func (m *Manager) open(planID string, lock *filelock.FileLock) (*Session, error) {
	existing, err := m.store.LoadSession(planID)
	if models.IsCorruption(err) {
		return nil, fmt.Errorf("cannot open session on plan %s, abort the session to clear the record: %w", planID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open session on plan %s: %w", planID, err)
	}
	if existing.Unresolved() {
		return nil, &models.ConflictError{
			PlanID: planID,
			Reason: fmt.Sprintf("session %s is unresolved (state %s), commit or abort it first", existing.ID, existing.State),
		}
	}

	base, err := m.versions.Latest(planID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := models.SessionRecord{
		ID:          m.newID(),
		PlanID:      planID,
		BaseVersion: base.Version,
		State:       models.SessionCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s := &Session{
		mgr:     m,
		rec:     rec,
		base:    base,
		tracker: changes.NewTracker(),
		lock:    lock,
	}
	if err := s.transition(models.SessionActive); err != nil {
		return nil, err
	}
	return s, nil
}

// Attach resumes the unresolved session of planID in this process. A
// session that was detached cleanly resumes fully. Any other unresolved
// record was left by a crash; its handle is unclean and accepts only
// Commit or Abort.
func (m *Manager) Attach(planID string) (*Session, error) {
	lock, err := m.acquire(planID)
	if err != nil {
		return nil, err
	}

	s, err := m.attach(planID, lock)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if s.Unclean() {
		m.logger.LogWarn(fmt.Sprintf("session %s on plan %s was not closed cleanly (state %s), commit or abort it",
			s.ID(), planID, s.State()))
	} else {
		m.logger.LogDebug(fmt.Sprintf("session %s on plan %s attached", s.ID(), planID))
	}
	return s, nil
}

func (m *Manager) attach(planID string, lock *filelock.FileLock) (*Session, error) {
	rec, err := m.store.LoadSession(planID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no session on plan %s: %w", planID, models.ErrNotFound)
	}
	if !rec.Unresolved() {
		return nil, fmt.Errorf("session %s: %w", rec.ID, models.ErrSessionClosed)
	}

	base, err := m.versions.Restore(planID, rec.BaseVersion)
	if err != nil {
		return nil, fmt.Errorf("session %s base version: %w", rec.ID, err)
	}

	unclean := !rec.Detached || rec.State != models.SessionActive
	attached := rec.Clone()
	attached.Detached = false
	attached.UpdatedAt = m.now().UTC()
	if err := m.store.SaveSession(attached); err != nil {
		return nil, err
	}

	return &Session{
		mgr:     m,
		rec:     attached,
		base:    base,
		tracker: changes.NewTracker(attached.Changes...),
		lock:    lock,
		unclean: unclean,
	}, nil
}

// Abort resolves the unresolved session of planID without a live handle and
// returns the id of the aborted session. A session record that cannot be
// decoded is moved aside as sessions/corrupt-<time>.json and logged as a
// CorruptionWarning; the returned id is then empty.
func (m *Manager) Abort(planID string) (string, error) {
	lock, err := m.acquire(planID)
	if err != nil {
		return "", err
	}

	_, err = m.store.LoadSession(planID)
	if models.IsCorruption(err) {
		defer lock.Unlock()
		moved, qerr := m.store.QuarantineSession(planID, m.now().UTC())
		if qerr != nil {
			return "", qerr
		}
		m.logger.LogWarn(fmt.Sprintf("%v; session record of plan %s moved to %s", err, planID, moved))
		return "", nil
	}

	s, err := m.attach(planID, lock)
	if err != nil {
		lock.Unlock()
		return "", err
	}
	if err := s.Abort(); err != nil {
		s.drop()
		return "", err
	}
	return s.ID(), nil
}

// Status returns the current session record of planID, or nil when no
// session is open or unresolved.
func (m *Manager) Status(planID string) (*models.SessionRecord, error) {
	rec, err := m.store.LoadSession(planID)
	if err != nil || !rec.Unresolved() {
		return nil, err
	}
	return rec, nil
}

// Abandoned lists unresolved sessions idle for longer than the
// session_inactivity timeout at now. Sessions are never cancelled
// automatically; the caller decides whether to abort them.
func (m *Manager) Abandoned(now time.Time) ([]models.SessionRecord, error) {
	timeout := m.cfg.GetTimeout(config.TimeoutSessionInactivity)
	ids, err := m.store.PlanIDs()
	if err != nil {
		return nil, err
	}

	var abandoned []models.SessionRecord
	for _, id := range ids {
		rec, err := m.store.LoadSession(id)
		if err != nil {
			hint := ""
			if models.IsCorruption(err) {
				hint = ", abort the session to clear it"
			}
			m.logger.LogWarn(fmt.Sprintf("skipping session of plan %s: %v%s", id, err, hint))
			continue
		}
		if rec.Unresolved() && now.Sub(rec.UpdatedAt) > timeout {
			abandoned = append(abandoned, *rec)
		}
	}
	return abandoned, nil
}

// AbortAbandoned aborts every abandoned session whose lock is free and
// returns the ids of the sessions it aborted.
func (m *Manager) AbortAbandoned(now time.Time) ([]string, error) {
	abandoned, err := m.Abandoned(now)
	if err != nil {
		return nil, err
	}

	var aborted []string
	var errs []error
	for _, rec := range abandoned {
		s, err := m.Attach(rec.PlanID)
		if err != nil {
			if !models.IsConflict(err) {
				errs = append(errs, err)
			}
			continue
		}
		if err := s.Abort(); err != nil {
			s.drop()
			errs = append(errs, err)
			continue
		}
		aborted = append(aborted, rec.ID)
	}
	return aborted, errors.Join(errs...)
}

func (m *Manager) acquire(planID string) (*filelock.FileLock, error) {
	if !models.ValidPlanID(planID) {
		return nil, models.NewValidationError("plan_id", "invalid plan identifier %q", planID)
	}
	lock := filelock.NewFileLock(m.store.SessionLockPath(planID))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &models.PersistenceError{Op: "lock plan session", Path: lock.Path(), Err: err}
	}
	if !ok {
		return nil, &models.ConflictError{PlanID: planID, Reason: "another session is open on this plan"}
	}
	return lock, nil
}
