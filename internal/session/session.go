package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/harrison/plangate/internal/changes"
	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/models"
)

var (
	// ErrUnclean is returned by Apply on a session recovered after a crash.
	ErrUnclean = errors.New("session was not closed cleanly; commit or abort it")

	// ErrDetached is returned by any operation on a handle after Detach.
	ErrDetached = errors.New("session handle is detached")
)

// Session is a handle on one open modification session. It holds the plan's
// session lock until the session is committed, aborted or detached. A
// Session is safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	mgr      *Manager
	rec      models.SessionRecord
	base     models.PlanVersion
	tracker  *changes.Tracker
	lock     *filelock.FileLock
	unclean  bool
	detached bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.ID
}

// PlanID returns the plan the session modifies.
func (s *Session) PlanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.PlanID
}

// BaseVersion returns the version number the session started from.
func (s *Session) BaseVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.BaseVersion
}

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.State
}

// Unclean reports whether the session was recovered after a crash.
func (s *Session) Unclean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unclean
}

// Record returns a copy of the persisted session record.
func (s *Session) Record() models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

// Changes returns copies of the changes recorded so far, in order.
func (s *Session) Changes() []models.ChangeRecord {
	return s.tracker.Changes()
}

// Preview returns the plan as it would be committed now.
func (s *Session) Preview() (models.ImplementationPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changes.Apply(s.base.Plan, s.tracker.Changes())
}

// Apply records one change. The change must apply cleanly on top of the
// changes recorded before it. The session record is persisted before the
// change is accepted, so a failed write leaves the session as it was.
func (s *Session) Apply(change models.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if s.unclean {
		return ErrUnclean
	}
	if s.rec.State != models.SessionActive {
		return fmt.Errorf("cannot apply changes in state %s", s.rec.State)
	}
	if err := change.Validate(); err != nil {
		return err
	}

	now := s.mgr.now().UTC()
	if change.Timestamp.IsZero() {
		change.Timestamp = now
	}
	pending := append(s.tracker.Changes(), change)
	if _, err := changes.Apply(s.base.Plan, pending); err != nil {
		return err
	}

	candidate := s.rec.Clone()
	candidate.Changes = pending
	candidate.UpdatedAt = now
	if err := s.mgr.store.SaveSession(candidate); err != nil {
		return err
	}

	if err := s.tracker.Record(change); err != nil {
		return err
	}
	s.rec = candidate
	s.mgr.logger.LogDebug(fmt.Sprintf("session %s: %s %s", s.rec.ID, change.Op, change.Field))
	return nil
}

// Commit produces the next plan version from the recorded changes. When the
// version cannot be written the session returns to Active. When the version
// was written but the session could not be closed, the session stays
// Committing and only Commit can finish it. A session whose version was
// already written by an earlier attempt is finalized without writing again.
func (s *Session) Commit(reason string) (models.PlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return models.PlanVersion{}, err
	}
	switch s.rec.State {
	case models.SessionActive, models.SessionCommitting:
	default:
		return models.PlanVersion{}, fmt.Errorf("cannot commit in state %s", s.rec.State)
	}

	written, err := s.writtenVersion()
	if err != nil {
		return models.PlanVersion{}, err
	}

	if err := s.transition(models.SessionCommitting); err != nil {
		s.rec.State = models.SessionActive
		return models.PlanVersion{}, err
	}

	if written == nil {
		v, err := s.mgr.versions.Commit(s.base, s.tracker.Changes(), s.rec.ID, reason)
		if err != nil {
			s.rollback(err)
			return models.PlanVersion{}, err
		}
		written = &v
	} else {
		s.mgr.logger.LogInfo(fmt.Sprintf("session %s: version %d was already written, finishing commit",
			s.rec.ID, written.Version))
	}

	s.rec.CommittedVersion = written.Version
	if err := s.finish(models.SessionCommitted); err != nil {
		s.stall(err)
		return models.PlanVersion{}, err
	}

	s.mgr.logger.LogInfo(fmt.Sprintf("session %s committed plan %s version %d",
		s.rec.ID, s.rec.PlanID, written.Version))
	return *written, nil
}

// writtenVersion returns the version this session produced in an earlier
// commit attempt, or nil when base+1 does not exist or belongs to another
// session.
func (s *Session) writtenVersion() (*models.PlanVersion, error) {
	v, err := s.mgr.versions.Restore(s.rec.PlanID, s.rec.BaseVersion+1)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.SessionID != s.rec.ID {
		return nil, nil
	}
	return &v, nil
}

func (s *Session) rollback(cause error) {
	s.rec.State = models.SessionActive
	s.rec.LastError = cause.Error()
	s.rec.UpdatedAt = s.mgr.now().UTC()
	if err := s.mgr.store.SaveSession(s.rec); err != nil {
		s.mgr.logger.LogWarn(fmt.Sprintf("session %s: could not persist rollback: %v", s.rec.ID, err))
	}
	s.mgr.logger.LogWarn(fmt.Sprintf("session %s commit failed, session is active again: %v", s.rec.ID, cause))
}

// stall keeps a session whose version is already written in Committing.
func (s *Session) stall(cause error) {
	s.rec.LastError = cause.Error()
	s.rec.UpdatedAt = s.mgr.now().UTC()
	if err := s.mgr.store.SaveSession(s.rec); err != nil {
		s.mgr.logger.LogWarn(fmt.Sprintf("session %s: could not persist commit state: %v", s.rec.ID, err))
	}
	s.mgr.logger.LogWarn(fmt.Sprintf("session %s wrote version %d but could not be closed, commit again to finish: %v",
		s.rec.ID, s.rec.CommittedVersion, cause))
}

// Abort discards the recorded changes and closes the session. No version
// is written. A session that already wrote its version cannot be aborted.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	switch s.rec.State {
	case models.SessionActive, models.SessionAborting, models.SessionCreated, models.SessionCommitting:
	default:
		return fmt.Errorf("cannot abort in state %s", s.rec.State)
	}
	written, err := s.writtenVersion()
	if err != nil {
		return err
	}
	if written != nil {
		return &models.ConflictError{
			PlanID: s.rec.PlanID,
			Reason: fmt.Sprintf("session %s already wrote version %d, commit to finish it", s.rec.ID, written.Version),
		}
	}

	previous := s.rec.State
	if err := s.transition(models.SessionAborting); err != nil {
		s.rec.State = previous
		return err
	}

	discarded := len(s.rec.Changes)
	s.rec.Changes = nil
	if err := s.finish(models.SessionAborted); err != nil {
		return err
	}

	s.mgr.logger.LogInfo(fmt.Sprintf("session %s aborted, %d change(s) discarded", s.rec.ID, discarded))
	return nil
}

// Detach releases the session lock without closing the session. The
// session stays unresolved and can be resumed with Manager.Attach. The
// handle is unusable afterwards.
func (s *Session) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if s.rec.State != models.SessionActive {
		return fmt.Errorf("cannot detach in state %s", s.rec.State)
	}

	rec := s.rec.Clone()
	rec.Detached = !s.unclean
	rec.UpdatedAt = s.mgr.now().UTC()
	if err := s.mgr.store.SaveSession(rec); err != nil {
		return err
	}
	s.rec = rec
	s.detached = true
	s.release()
	return nil
}

func (s *Session) usable() error {
	if s.detached {
		return ErrDetached
	}
	if s.rec.State.IsTerminal() {
		return fmt.Errorf("session %s: %w", s.rec.ID, models.ErrSessionClosed)
	}
	return nil
}

// transition moves to a non-terminal state and persists the record.
func (s *Session) transition(state models.SessionState) error {
	s.rec.State = state
	s.rec.UpdatedAt = s.mgr.now().UTC()
	return s.mgr.store.SaveSession(s.rec)
}

// finish moves to a terminal state, archives the record and releases the
// lock. On a failed write the in-memory state is left unchanged.
func (s *Session) finish(state models.SessionState) error {
	rec := s.rec.Clone()
	rec.State = state
	rec.UpdatedAt = s.mgr.now().UTC()
	rec.LastError = ""
	if err := s.mgr.store.ArchiveSession(rec); err != nil {
		return err
	}
	s.rec = rec
	s.release()
	return nil
}

// drop releases the lock of a handle left open by a failed operation.
func (s *Session) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Session) release() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.mgr.logger.LogWarn(fmt.Sprintf("session %s: %v", s.rec.ID, err))
	}
	s.lock = nil
}
