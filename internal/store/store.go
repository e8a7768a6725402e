// Package store persists plan versions and modification sessions on the
// filesystem.
//
// Layout under the data directory:
//
//	plans/<plan-id>/versions/v000001.json   immutable version snapshots
//	plans/<plan-id>/session.json            the current session, if any
//	plans/<plan-id>/session.lock            held for a session's lifetime
//	plans/<plan-id>/commit.lock             held while a version is written
//	plans/<plan-id>/sessions/<id>.json      archived sessions
//	plans/<plan-id>/sessions/corrupt-*.json unreadable session records moved aside
//
// Version files are created with filelock.WriteExclusive and never
// rewritten. Session files are replaced with filelock.AtomicWrite. Readers
// therefore see either the old or the new content, never a partial file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

const (
	plansDir        = "plans"
	versionsDir     = "versions"
	archiveDir      = "sessions"
	sessionFile     = "session.json"
	sessionLockFile = "session.lock"
	commitLockFile  = "commit.lock"
	corruptPrefix   = "corrupt-"
	versionPrefix   = "v"
	versionSuffix   = ".json"
)

// ErrVersionExists is returned by CreateVersion when the version number is taken.
var ErrVersionExists = errors.New("version already exists")

// Store reads and writes plan state below a data directory.
type Store struct {
	root   string
	logger logger.Logger
}

// New creates a Store rooted at home. Directories are created on first write.
func New(home string, log logger.Logger) *Store {
	return &Store{
		root:   filepath.Join(home, plansDir),
		logger: logger.OrNop(log),
	}
}

// Root returns the directory holding all plans.
func (s *Store) Root() string {
	return s.root
}

// PlanDir returns the directory of one plan.
func (s *Store) PlanDir(planID string) string {
	return filepath.Join(s.root, planID)
}

// VersionPath returns the snapshot file of one version.
func (s *Store) VersionPath(planID string, version int) string {
	return filepath.Join(s.PlanDir(planID), versionsDir, fmt.Sprintf("%s%06d%s", versionPrefix, version, versionSuffix))
}

// SessionLockPath returns the advisory lock held while a session is open.
func (s *Store) SessionLockPath(planID string) string {
	return filepath.Join(s.PlanDir(planID), sessionLockFile)
}

// CommitLockPath returns the lock serializing version writes.
func (s *Store) CommitLockPath(planID string) string {
	return filepath.Join(s.PlanDir(planID), commitLockFile)
}

func (s *Store) sessionPath(planID string) string {
	return filepath.Join(s.PlanDir(planID), sessionFile)
}

func (s *Store) archivePath(planID, sessionID string) string {
	return filepath.Join(s.PlanDir(planID), archiveDir, sessionID+".json")
}

func checkPlanID(planID string) error {
	if !models.ValidPlanID(planID) {
		return models.NewValidationError("plan_id", "invalid plan identifier %q", planID)
	}
	return nil
}

// CreateVersion writes v as a new snapshot. It fails with ErrVersionExists
// if the file for v.Version already exists. The returned value is decoded
// from the bytes written, so it equals what ReadVersion will return.
func (s *Store) CreateVersion(v models.PlanVersion) (models.PlanVersion, error) {
	if err := checkPlanID(v.PlanID); err != nil {
		return models.PlanVersion{}, err
	}
	if v.Version < 1 {
		return models.PlanVersion{}, models.NewValidationError("version", "must be >= 1, got %d", v.Version)
	}

	path := s.VersionPath(v.PlanID, v.Version)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return models.PlanVersion{}, &models.PersistenceError{Op: "encode version", Path: path, Err: err}
	}

	if err := filelock.WriteExclusive(path, data); err != nil {
		if errors.Is(err, filelock.ErrExists) {
			return models.PlanVersion{}, fmt.Errorf("%s v%d: %w", v.PlanID, v.Version, ErrVersionExists)
		}
		return models.PlanVersion{}, &models.PersistenceError{Op: "write version", Path: path, Err: err}
	}

	var stored models.PlanVersion
	if err := json.Unmarshal(data, &stored); err != nil {
		return models.PlanVersion{}, &models.PersistenceError{Op: "decode version", Path: path, Err: err}
	}
	s.logger.LogDebug(fmt.Sprintf("wrote %s", path))
	return stored, nil
}

// ReadVersion loads one snapshot. A missing version wraps models.ErrNotFound.
func (s *Store) ReadVersion(planID string, version int) (models.PlanVersion, error) {
	if err := checkPlanID(planID); err != nil {
		return models.PlanVersion{}, err
	}
	path := s.VersionPath(planID, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.PlanVersion{}, fmt.Errorf("plan %s version %d: %w", planID, version, models.ErrNotFound)
		}
		return models.PlanVersion{}, &models.PersistenceError{Op: "read version", Path: path, Err: err}
	}

	var v models.PlanVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return models.PlanVersion{}, &models.PersistenceError{Op: "decode version", Path: path, Err: err}
	}
	if v.Version != version || v.PlanID != planID {
		return models.PlanVersion{}, &models.PersistenceError{
			Op:   "decode version",
			Path: path,
			Err:  fmt.Errorf("file holds %s v%d", v.PlanID, v.Version),
		}
	}
	return v, nil
}

// ListVersions returns the version numbers present for a plan, ascending.
// Temp files and foreign names are ignored.
func (s *Store) ListVersions(planID string) ([]int, error) {
	if err := checkPlanID(planID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.PlanDir(planID), versionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "list versions", Path: dir, Err: err}
	}

	var versions []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, versionPrefix) || !strings.HasSuffix(name, versionSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, versionPrefix), versionSuffix))
		if err != nil || n < 1 {
			continue
		}
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

// LatestVersion returns the highest version number, or 0 when the plan has none.
func (s *Store) LatestVersion(planID string) (int, error) {
	versions, err := s.ListVersions(planID)
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[len(versions)-1], nil
}

// PlanIDs returns every plan with a directory under the store, sorted.
func (s *Store) PlanIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "list plans", Path: s.root, Err: err}
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && models.ValidPlanID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveSession atomically replaces the plan's current session record.
func (s *Store) SaveSession(rec models.SessionRecord) error {
	if err := checkPlanID(rec.PlanID); err != nil {
		return err
	}
	path := s.sessionPath(rec.PlanID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "encode session", Path: path, Err: err}
	}
	if err := filelock.AtomicWrite(path, data); err != nil {
		return &models.PersistenceError{Op: "save session", Path: path, Err: err}
	}
	return nil
}

// LoadSession returns the plan's current session record, or nil when there
// is none. A record that cannot be decoded is returned as a
// PersistenceError wrapping a CorruptionWarning; it still blocks new
// sessions until it is cleared.
func (s *Store) LoadSession(planID string) (*models.SessionRecord, error) {
	if err := checkPlanID(planID); err != nil {
		return nil, err
	}
	path := s.sessionPath(planID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "read session", Path: path, Err: err}
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &models.PersistenceError{
			Op:   "decode session",
			Path: path,
			Err:  &models.CorruptionWarning{Source: path, Err: err},
		}
	}
	return &rec, nil
}

// ClearSession removes the plan's current session record. A missing record
// is not an error.
func (s *Store) ClearSession(planID string) error {
	if err := checkPlanID(planID); err != nil {
		return err
	}
	path := s.sessionPath(planID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &models.PersistenceError{Op: "clear session", Path: path, Err: err}
	}
	return nil
}

// QuarantineSession moves the plan's current session record, readable or
// not, to sessions/corrupt-<time>.json and returns the new path.
func (s *Store) QuarantineSession(planID string, now time.Time) (string, error) {
	if err := checkPlanID(planID); err != nil {
		return "", err
	}
	path := s.sessionPath(planID)
	dir := filepath.Join(s.PlanDir(planID), archiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &models.PersistenceError{Op: "quarantine session", Path: dir, Err: err}
	}
	target := filepath.Join(dir, fmt.Sprintf(corruptPrefix+"%s.json", now.UTC().Format("20060102T150405.000000000Z")))
	if err := os.Rename(path, target); err != nil {
		return "", &models.PersistenceError{Op: "quarantine session", Path: path, Err: err}
	}
	return target, nil
}

// ArchiveSession stores a terminal session under sessions/ and clears it
// as the plan's current session.
func (s *Store) ArchiveSession(rec models.SessionRecord) error {
	if err := checkPlanID(rec.PlanID); err != nil {
		return err
	}
	if !rec.State.IsTerminal() {
		return fmt.Errorf("cannot archive session %s in state %s", rec.ID, rec.State)
	}

	path := s.archivePath(rec.PlanID, rec.ID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "encode session", Path: path, Err: err}
	}
	if err := filelock.AtomicWrite(path, data); err != nil {
		return &models.PersistenceError{Op: "archive session", Path: path, Err: err}
	}
	return s.ClearSession(rec.PlanID)
}

// ArchivedSessions returns the archived sessions of a plan ordered by
// creation time. Files that fail to decode are skipped with a warning.
func (s *Store) ArchivedSessions(planID string) ([]models.SessionRecord, error) {
	if err := checkPlanID(planID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.PlanDir(planID), archiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "list sessions", Path: dir, Err: err}
	}

	var records []models.SessionRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || strings.HasPrefix(e.Name(), corruptPrefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.LogWarn((&models.CorruptionWarning{Source: path, Err: err}).Error())
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.LogWarn((&models.CorruptionWarning{Source: path, Err: err}).Error())
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}
