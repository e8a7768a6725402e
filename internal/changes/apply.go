package changes

import (
	"strconv"
	"strings"

	"github.com/harrison/plangate/internal/models"
)

// Apply replays changes in order against a copy of base and returns the
// result. base is never modified and the same inputs always give the same
// output.
//
// List fields:
//   - add inserts After at Position (clamped to the list end) or appends it;
//     a value already present is left where it is
//   - remove deletes the first occurrence of Before; an absent value is a no-op
//   - modify replaces the first occurrence of Before with After; an absent
//     Before is a no-op, and if After is already present Before is dropped
//
// Scalar fields accept modify; notes also accepts add, which appends a
// paragraph. estimated_loc takes a non-negative decimal integer. Empty lists
// in the result are nil.
func Apply(base models.ImplementationPlan, changes []models.ChangeRecord) (models.ImplementationPlan, error) {
	plan := base.Clone()
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return base.Clone(), wrapIndex(i, err)
		}
		if err := applyOne(&plan, c); err != nil {
			return base.Clone(), wrapIndex(i, err)
		}
	}
	for _, field := range models.ListFields {
		if len(plan.List(field)) == 0 {
			plan.SetList(field, nil)
		}
	}
	return plan, nil
}

func applyOne(plan *models.ImplementationPlan, c models.ChangeRecord) error {
	if models.IsListField(c.Field) {
		plan.SetList(c.Field, applyList(plan.List(c.Field), c))
		return nil
	}

	switch c.Field {
	case models.FieldTitle:
		plan.Title = c.After
	case models.FieldStack:
		plan.Stack = c.After
	case models.FieldDescription:
		plan.Description = c.After
	case models.FieldNotes:
		if c.Op == models.OpAdd && strings.TrimSpace(plan.Notes) != "" {
			plan.Notes = plan.Notes + "\n\n" + c.After
		} else {
			plan.Notes = c.After
		}
	case models.FieldEstimatedLOC:
		n, err := strconv.Atoi(strings.TrimSpace(c.After))
		if err != nil || n < 0 {
			return models.NewValidationError(c.Field, "expected a non-negative integer, got %q", c.After)
		}
		plan.EstimatedLOC = n
	}
	return nil
}

func applyList(list []string, c models.ChangeRecord) []string {
	switch c.Op {
	case models.OpAdd:
		if indexOf(list, c.After) >= 0 {
			return list
		}
		pos := len(list)
		if c.Position != nil && *c.Position < pos {
			pos = *c.Position
		}
		out := make([]string, 0, len(list)+1)
		out = append(out, list[:pos]...)
		out = append(out, c.After)
		return append(out, list[pos:]...)

	case models.OpRemove:
		i := indexOf(list, c.Before)
		if i < 0 {
			return list
		}
		return append(list[:i:i], list[i+1:]...)

	case models.OpModify:
		i := indexOf(list, c.Before)
		if i < 0 {
			return list
		}
		if indexOf(list, c.After) >= 0 {
			return append(list[:i:i], list[i+1:]...)
		}
		out := append([]string(nil), list...)
		out[i] = c.After
		return out
	}
	return list
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func wrapIndex(i int, err error) error {
	if ve, ok := err.(*models.ValidationError); ok {
		return &models.ValidationError{
			Field:   ve.Field,
			Message: "change " + strconv.Itoa(i+1) + ": " + ve.Message,
		}
	}
	return err
}
