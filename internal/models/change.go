package models

import (
	"fmt"
	"time"
)

// ChangeOp is the kind of edit a change record performs.
type ChangeOp string

const (
	OpAdd    ChangeOp = "add"
	OpRemove ChangeOp = "remove"
	OpModify ChangeOp = "modify"
)

// ParseChangeOp converts s to a ChangeOp.
func ParseChangeOp(s string) (ChangeOp, bool) {
	switch ChangeOp(s) {
	case OpAdd, OpRemove, OpModify:
		return ChangeOp(s), true
	}
	return "", false
}

// ChangeRecord is a single tagged edit to a plan field or list entry.
//
// For list fields Before names the existing entry (remove, modify) and After
// the new entry (add, modify). For scalar fields After holds the new value;
// estimated_loc carries its integer as a decimal string.
type ChangeRecord struct {
	Op        ChangeOp  `json:"op"`
	Field     string    `json:"field"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	Position  *int      `json:"position,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the op/field combination is meaningful.
func (c ChangeRecord) Validate() error {
	if _, ok := ParseChangeOp(string(c.Op)); !ok {
		return NewValidationError("op", "unknown change op %q", c.Op)
	}
	switch {
	case IsListField(c.Field):
		switch c.Op {
		case OpAdd:
			if c.After == "" {
				return NewValidationError("after", "add on %s requires a value", c.Field)
			}
		case OpRemove:
			if c.Before == "" {
				return NewValidationError("before", "remove on %s requires the entry to remove", c.Field)
			}
		case OpModify:
			if c.Before == "" || c.After == "" {
				return NewValidationError(c.Field, "modify requires both before and after")
			}
		}
		if c.Position != nil && (c.Op != OpAdd || *c.Position < 0) {
			return NewValidationError("position", "position is only valid as a non-negative index on add")
		}
	case IsScalarField(c.Field):
		if c.Op == OpRemove {
			return NewValidationError(c.Field, "scalar fields cannot be removed, use modify")
		}
		if c.Op == OpAdd && c.Field != FieldNotes {
			return NewValidationError(c.Field, "add is only supported on notes among scalar fields")
		}
		if c.Position != nil {
			return NewValidationError("position", "position is not valid on scalar field %s", c.Field)
		}
	default:
		return NewValidationError("field", "unknown plan field %q", c.Field)
	}
	return nil
}

// Clone returns a copy that shares no memory with c.
func (c ChangeRecord) Clone() ChangeRecord {
	if c.Position != nil {
		pos := *c.Position
		c.Position = &pos
	}
	return c
}

// Describe returns a one-line summary such as "add files_to_create: a.go".
func (c ChangeRecord) Describe() string {
	switch c.Op {
	case OpAdd:
		return fmt.Sprintf("add %s: %s", c.Field, c.After)
	case OpRemove:
		return fmt.Sprintf("remove %s: %s", c.Field, c.Before)
	default:
		if c.Before == "" {
			return fmt.Sprintf("modify %s: %s", c.Field, c.After)
		}
		return fmt.Sprintf("modify %s: %s -> %s", c.Field, c.Before, c.After)
	}
}
