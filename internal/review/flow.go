package review

import (
	"errors"
	"fmt"

	"github.com/harrison/plangate/internal/models"
)

// State is a step of one plan's trip through scoring and review.
type State string

const (
	StateUnscored State = "unscored"
	StateScored   State = "scored"
	StateRouted   State = "routed"
	StateReviewed State = "reviewed"
	StateDecided  State = "decided"
	StateSkipped  State = "skipped"
)

// ErrInvalidTransition is returned for a step that the current state does not allow.
var ErrInvalidTransition = errors.New("invalid review transition")

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDecided || s == StateSkipped
}

// Flow tracks Unscored -> Scored -> Routed -> (Reviewed) -> Decided, or
// Skipped when routing happened under mode never. A routed auto_approve
// is decided immediately; quick_optional and full_required wait for either
// a review or an explicit decision.
type Flow struct {
	TaskID  string
	Score   *models.ComplexityScore
	Routing *models.ReviewDecision
	Review  *models.ReviewDecision
	Final   *models.ReviewDecision

	state   State
	history []State
}

// NewFlow starts a flow in StateUnscored.
func NewFlow(taskID string) *Flow {
	return &Flow{TaskID: taskID, state: StateUnscored, history: []State{StateUnscored}}
}

// State returns the current state.
func (f *Flow) State() State {
	return f.state
}

// History returns the states visited, oldest first.
func (f *Flow) History() []State {
	return append([]State(nil), f.history...)
}

// Scored records the complexity score.
func (f *Flow) Scored(score *models.ComplexityScore) error {
	if err := f.transition(StateScored, StateUnscored); err != nil {
		return err
	}
	f.Score = score
	return nil
}

// Routed records the complexity-stage decision and settles the flow when no
// review is needed.
func (f *Flow) Routed(decision models.ReviewDecision) error {
	if err := f.transition(StateRouted, StateScored); err != nil {
		return err
	}
	f.Routing = &decision

	switch {
	case decision.Mode == models.ModeNever:
		f.Final = &decision
		f.moveTo(StateSkipped)
	case decision.Decision == models.DecisionAutoApprove:
		f.Final = &decision
		f.moveTo(StateDecided)
	}
	return nil
}

// Reviewed records the architectural-stage decision and settles the flow.
func (f *Flow) Reviewed(decision models.ReviewDecision) error {
	if decision.Stage != models.StageArchitectural {
		return fmt.Errorf("%w: review decision must come from the %s stage, got %s", ErrInvalidTransition, models.StageArchitectural, decision.Stage)
	}
	if err := f.transition(StateReviewed, StateRouted); err != nil {
		return err
	}
	f.Review = &decision
	f.Final = &decision
	f.moveTo(StateDecided)
	return nil
}

// Decide settles a routed flow without a review, keeping the routing
// decision, e.g. when a quick_optional review is declined.
func (f *Flow) Decide() error {
	if err := f.transition(StateDecided, StateRouted); err != nil {
		return err
	}
	f.Final = f.Routing
	return nil
}

func (f *Flow) transition(to State, from ...State) error {
	for _, s := range from {
		if f.state == s {
			f.moveTo(to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, to)
}

func (f *Flow) moveTo(s State) {
	f.state = s
	f.history = append(f.history, s)
}
