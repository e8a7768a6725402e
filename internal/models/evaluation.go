package models

import (
	"math"
	"strings"
)

// ReviewFlags are explicit caller-supplied escalation flags.
type ReviewFlags struct {
	ForceReview bool `json:"force_review,omitempty"`
	Hotfix      bool `json:"hotfix,omitempty"`
}

// EvaluationContext is the snapshot of plan metadata taken for one scoring
// pass. It is a value type; slices are copied on construction and must not be
// modified afterwards.
type EvaluationContext struct {
	TaskID         string
	Stack          string
	FilesToCreate  []string
	FilesToModify  []string
	Dependencies   []string
	Patterns       []string
	RiskIndicators []string
	Labels         []string
	Text           string
	EstimatedLOC   int
	Flags          ReviewFlags
}

// NewEvaluationContext snapshots plan for scoring.
func NewEvaluationContext(plan ImplementationPlan, flags ReviewFlags) EvaluationContext {
	c := plan.Clone()
	return EvaluationContext{
		TaskID:         c.ID,
		Stack:          strings.TrimSpace(c.Stack),
		FilesToCreate:  c.FilesToCreate,
		FilesToModify:  c.FilesToModify,
		Dependencies:   c.Dependencies,
		Patterns:       c.Patterns,
		RiskIndicators: c.RiskIndicators,
		Labels:         c.Labels,
		Text:           plan.Text(),
		EstimatedLOC:   c.EstimatedLOC,
		Flags:          flags,
	}
}

// FileCount returns the number of files created plus modified.
func (c EvaluationContext) FileCount() int {
	return len(c.FilesToCreate) + len(c.FilesToModify)
}

// Validate reports input that cannot be scored.
func (c EvaluationContext) Validate() error {
	if strings.TrimSpace(c.TaskID) == "" {
		return NewValidationError("task_id", "task identifier is required")
	}
	if c.EstimatedLOC < 0 {
		return NewValidationError(FieldEstimatedLOC, "must be >= 0, got %d", c.EstimatedLOC)
	}
	return nil
}

// Haystack returns every searchable string of the context: free text, risk
// indicators, patterns, dependencies and labels.
func (c EvaluationContext) Haystack() []string {
	out := make([]string, 0, 1+len(c.RiskIndicators)+len(c.Patterns)+len(c.Dependencies)+len(c.Labels))
	if c.Text != "" {
		out = append(out, c.Text)
	}
	out = append(out, c.RiskIndicators...)
	out = append(out, c.Patterns...)
	out = append(out, c.Dependencies...)
	out = append(out, c.Labels...)
	return out
}

// MatchKeywords returns the keywords that occur, case-insensitively, in any
// haystack entry. The result keeps the order of keywords and has no duplicates.
func (c EvaluationContext) MatchKeywords(keywords []string) []string {
	hay := c.Haystack()
	lowered := make([]string, len(hay))
	for i, h := range hay {
		lowered[i] = strings.ToLower(h)
	}

	var matched []string
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" || containsString(matched, kw) {
			continue
		}
		for _, h := range lowered {
			if strings.Contains(h, needle) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}

// Complexity categories.
const (
	CategoryLow    = "low"
	CategoryMedium = "medium"
	CategoryHigh   = "high"
)

// FactorScore is one factor's measurement and contribution.
type FactorScore struct {
	Name          string  `json:"name"`
	Raw           float64 `json:"raw"`
	Normalized    float64 `json:"normalized"`
	Weight        float64 `json:"weight"`
	Points        float64 `json:"points"`
	Justification string  `json:"justification,omitempty"`
}

// ComplexityScore is the bounded aggregate of all factor scores.
type ComplexityScore struct {
	Total    float64       `json:"total"`
	Max      float64       `json:"max"`
	Factors  []FactorScore `json:"factors"`
	Category string        `json:"category"`
	Failsafe bool          `json:"failsafe,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Valid reports whether the score can be trusted for routing.
func (s *ComplexityScore) Valid() bool {
	if s == nil || s.Failsafe {
		return false
	}
	if math.IsNaN(s.Total) || math.IsInf(s.Total, 0) || s.Max <= 0 {
		return false
	}
	return s.Total >= 0 && s.Total <= s.Max
}

// Factor returns the named factor score, if present.
func (s *ComplexityScore) Factor(name string) (FactorScore, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return FactorScore{}, false
}
