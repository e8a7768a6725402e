package models

import "time"

// InitialSessionID marks version 1 of every plan.
const InitialSessionID = "initial"

// PlanVersion is an immutable snapshot of a plan at one version number.
type PlanVersion struct {
	PlanID      string             `json:"plan_id"`
	Version     int                `json:"version"`
	Plan        ImplementationPlan `json:"plan"`
	CreatedAt   time.Time          `json:"created_at"`
	SessionID   string             `json:"session_id"`
	BaseVersion int                `json:"base_version,omitempty"`
	Changes     []ChangeRecord     `json:"changes,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// Clone returns a deep copy so callers cannot reach stored snapshots.
func (v PlanVersion) Clone() PlanVersion {
	c := v
	c.Plan = v.Plan.Clone()
	if v.Changes != nil {
		c.Changes = make([]ChangeRecord, len(v.Changes))
		for i, ch := range v.Changes {
			c.Changes[i] = ch.Clone()
		}
	}
	return c
}

// VersionDiff summarizes what changed between two versions of a plan.
type VersionDiff struct {
	PlanID   string                    `json:"plan_id"`
	From     int                       `json:"from"`
	To       int                       `json:"to"`
	Added    map[string][]string       `json:"added,omitempty"`
	Removed  map[string][]string       `json:"removed,omitempty"`
	Scalars  map[string][2]interface{} `json:"scalars,omitempty"`
	LOCDelta int                       `json:"loc_delta"`
}

// Empty reports whether the two versions are content-identical.
func (d VersionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Scalars) == 0
}
