package models

import (
	"sort"
	"strings"
	"time"
)

// TriggerKind enumerates the conditions that force full review.
type TriggerKind string

const (
	TriggerUserFlag         TriggerKind = "user_flag"
	TriggerSecurityKeywords TriggerKind = "security_keywords"
	TriggerBreakingChanges  TriggerKind = "breaking_changes"
	TriggerSchemaChanges    TriggerKind = "schema_changes"
	TriggerHotfix           TriggerKind = "hotfix"
)

// KeywordTriggerKinds are the trigger kinds detected by keyword matching,
// in evaluation order.
var KeywordTriggerKinds = []TriggerKind{
	TriggerSecurityKeywords,
	TriggerBreakingChanges,
	TriggerSchemaChanges,
}

// ForceReviewTrigger is one fired trigger and the evidence that fired it.
type ForceReviewTrigger struct {
	Kind     TriggerKind `json:"kind"`
	Evidence []string    `json:"evidence,omitempty"`
}

// TriggerSet is an ordered set of fired triggers, at most one per kind.
type TriggerSet []ForceReviewTrigger

// Add merges t into the set, combining evidence for a kind already present.
func (s TriggerSet) Add(t ForceReviewTrigger) TriggerSet {
	for i := range s {
		if s[i].Kind == t.Kind {
			for _, ev := range t.Evidence {
				if !containsString(s[i].Evidence, ev) {
					s[i].Evidence = append(s[i].Evidence, ev)
				}
			}
			return s
		}
	}
	s = append(s, ForceReviewTrigger{Kind: t.Kind, Evidence: append([]string(nil), t.Evidence...)})
	sort.Slice(s, func(i, j int) bool { return s[i].Kind < s[j].Kind })
	return s
}

// Has reports whether kind fired.
func (s TriggerSet) Has(kind TriggerKind) bool {
	for _, t := range s {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// Kinds returns the fired trigger kinds as strings.
func (s TriggerSet) Kinds() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t.Kind)
	}
	return out
}

// String renders the set as "kind[evidence,...]; ...".
func (s TriggerSet) String() string {
	if len(s) == 0 {
		return "none"
	}
	parts := make([]string, len(s))
	for i, t := range s {
		if len(t.Evidence) == 0 {
			parts[i] = string(t.Kind)
			continue
		}
		parts[i] = string(t.Kind) + "[" + strings.Join(t.Evidence, ",") + "]"
	}
	return strings.Join(parts, "; ")
}

// Mode selects how the router treats plans.
type Mode string

const (
	ModeNever  Mode = "never"
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
)

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNever:
		return ModeNever, true
	case ModeAuto:
		return ModeAuto, true
	case ModeAlways:
		return ModeAlways, true
	default:
		return "", false
	}
}

// Decision is a review routing outcome.
type Decision string

const (
	DecisionAutoApprove                Decision = "auto_approve"
	DecisionQuickOptional              Decision = "quick_optional"
	DecisionFullRequired               Decision = "full_required"
	DecisionReject                     Decision = "reject"
	DecisionApproveWithRecommendations Decision = "approve_with_recommendations"
)

// Valid reports whether d is one of the five decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAutoApprove, DecisionQuickOptional, DecisionFullRequired,
		DecisionReject, DecisionApproveWithRecommendations:
		return true
	}
	return false
}

// Stage identifies which routing stage produced a decision.
type Stage string

const (
	StageComplexity    Stage = "complexity"
	StageArchitectural Stage = "architectural"
)

// ReviewDecision is an emitted routing decision together with its inputs.
type ReviewDecision struct {
	Decision  Decision   `json:"decision"`
	Stage     Stage      `json:"stage"`
	Score     float64    `json:"score"`
	Stack     string     `json:"stack,omitempty"`
	Mode      Mode       `json:"mode,omitempty"`
	Triggers  TriggerSet `json:"triggers,omitempty"`
	Escalated bool       `json:"escalated,omitempty"`
	Reason    string     `json:"reason"`
	DecidedAt time.Time  `json:"decided_at"`
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
