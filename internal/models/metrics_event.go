package models

import (
	"errors"
	"fmt"
	"time"
)

// EventKind tags a metrics event.
type EventKind string

const (
	EventComplexity EventKind = "complexity"
	EventDecision   EventKind = "decision"
	EventOutcome    EventKind = "outcome"
)

// ComplexityPayload records one scoring pass.
type ComplexityPayload struct {
	Score    float64            `json:"score"`
	Max      float64            `json:"max"`
	Category string             `json:"category"`
	Stack    string             `json:"stack,omitempty"`
	Factors  map[string]float64 `json:"factors,omitempty"`
	Failsafe bool               `json:"failsafe,omitempty"`
}

// DecisionPayload records one routing decision.
type DecisionPayload struct {
	Decision  Decision `json:"decision"`
	Stage     Stage    `json:"stage"`
	Score     float64  `json:"score"`
	Stack     string   `json:"stack,omitempty"`
	Mode      Mode     `json:"mode,omitempty"`
	Triggers  []string `json:"triggers,omitempty"`
	Escalated bool     `json:"escalated,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Outcome statuses.
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeRevised   = "revised"
	OutcomeAbandoned = "abandoned"
)

// OutcomePayload records how a routed plan actually ended.
type OutcomePayload struct {
	Decision        Decision `json:"decision,omitempty"`
	Status          string   `json:"status"`
	HumanOverride   bool     `json:"human_override,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	Version         int      `json:"version,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// MetricsEvent is one append-only metrics log record.
type MetricsEvent struct {
	Kind       EventKind          `json:"kind"`
	TaskID     string             `json:"task_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Complexity *ComplexityPayload `json:"complexity,omitempty"`
	Decision   *DecisionPayload   `json:"decision,omitempty"`
	Outcome    *OutcomePayload    `json:"outcome,omitempty"`
}

// Validate checks that the event is well formed for its kind.
func (e *MetricsEvent) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case EventComplexity:
		if e.Complexity == nil {
			return errors.New("complexity event requires a complexity payload")
		}
	case EventDecision:
		if e.Decision == nil {
			return errors.New("decision event requires a decision payload")
		}
		if !e.Decision.Decision.Valid() {
			return fmt.Errorf("unknown decision %q", e.Decision.Decision)
		}
	case EventOutcome:
		if e.Outcome == nil {
			return errors.New("outcome event requires an outcome payload")
		}
		switch e.Outcome.Status {
		case OutcomeApproved, OutcomeRejected, OutcomeRevised, OutcomeAbandoned:
		default:
			return fmt.Errorf("unknown outcome status %q", e.Outcome.Status)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
