package models

import "time"

// SessionState is a step in a modification session's lifecycle.
type SessionState string

const (
	SessionCreated    SessionState = "created"
	SessionActive     SessionState = "active"
	SessionCommitting SessionState = "committing"
	SessionCommitted  SessionState = "committed"
	SessionAborting   SessionState = "aborting"
	SessionAborted    SessionState = "aborted"
)

// IsTerminal reports whether the state allows no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == SessionCommitted || s == SessionAborted
}

// SessionRecord is the persisted form of a modification session. The plan
// itself is not stored; the session refers to its base version by number.
type SessionRecord struct {
	ID          string         `json:"id"`
	PlanID      string         `json:"plan_id"`
	BaseVersion int            `json:"base_version"`
	State       SessionState   `json:"state"`
	Changes     []ChangeRecord `json:"changes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// Detached is set when the owning process released the session on
	// purpose; a non-terminal record without it was left behind by a crash.
	Detached bool `json:"detached,omitempty"`

	// CommittedVersion is the version produced by a successful commit.
	CommittedVersion int    `json:"committed_version,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// Unresolved reports whether the record blocks new sessions on its plan.
func (r *SessionRecord) Unresolved() bool {
	return r != nil && !r.State.IsTerminal()
}

// Clone returns a deep copy of the record.
func (r SessionRecord) Clone() SessionRecord {
	c := r
	if r.Changes != nil {
		c.Changes = make([]ChangeRecord, len(r.Changes))
		for i, ch := range r.Changes {
			c.Changes[i] = ch.Clone()
		}
	}
	return c
}
