package models

import (
	"regexp"
	"strings"
	"time"
)

// Plan field names addressed by change records.
const (
	FieldTitle          = "title"
	FieldStack          = "stack"
	FieldDescription    = "description"
	FieldNotes          = "notes"
	FieldEstimatedLOC   = "estimated_loc"
	FieldFilesToCreate  = "files_to_create"
	FieldFilesToModify  = "files_to_modify"
	FieldDependencies   = "dependencies"
	FieldPatterns       = "patterns"
	FieldRiskIndicators = "risk_indicators"
	FieldPhases         = "phases"
	FieldLabels         = "labels"
)

// ListFields are the plan fields holding ordered string lists.
var ListFields = []string{
	FieldFilesToCreate,
	FieldFilesToModify,
	FieldDependencies,
	FieldPatterns,
	FieldRiskIndicators,
	FieldPhases,
	FieldLabels,
}

// ScalarFields are the plan fields holding a single value.
var ScalarFields = []string{
	FieldTitle,
	FieldStack,
	FieldDescription,
	FieldNotes,
	FieldEstimatedLOC,
}

var planIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ImplementationPlan is the versioned artifact under management.
type ImplementationPlan struct {
	ID             string    `json:"id" yaml:"task_id"`
	Title          string    `json:"title,omitempty" yaml:"title,omitempty"`
	Stack          string    `json:"stack,omitempty" yaml:"stack,omitempty"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	FilesToCreate  []string  `json:"files_to_create,omitempty" yaml:"files_to_create,omitempty"`
	FilesToModify  []string  `json:"files_to_modify,omitempty" yaml:"files_to_modify,omitempty"`
	Dependencies   []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Patterns       []string  `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	RiskIndicators []string  `json:"risk_indicators,omitempty" yaml:"risk_indicators,omitempty"`
	Phases         []string  `json:"phases,omitempty" yaml:"phases,omitempty"`
	Labels         []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	Notes          string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	EstimatedLOC   int       `json:"estimated_loc,omitempty" yaml:"estimated_loc,omitempty"`
	Version        int       `json:"version" yaml:"version,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp,omitempty"`
}

// ValidPlanID reports whether id is safe to use as a plan identifier and
// directory name.
func ValidPlanID(id string) bool {
	return len(id) <= 128 && planIDPattern.MatchString(id)
}

// Validate checks that the plan can be scored and versioned.
func (p *ImplementationPlan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", "plan identifier is required")
	}
	if !ValidPlanID(p.ID) {
		return NewValidationError("id", "invalid plan identifier %q (letters, digits, '.', '_' and '-' only)", p.ID)
	}
	if p.EstimatedLOC < 0 {
		return NewValidationError(FieldEstimatedLOC, "must be >= 0, got %d", p.EstimatedLOC)
	}
	if p.Version < 0 {
		return NewValidationError("version", "must be >= 0, got %d", p.Version)
	}
	for _, field := range ListFields {
		for i, entry := range p.List(field) {
			if strings.TrimSpace(entry) == "" {
				return NewValidationError(field, "entry %d is empty", i)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the plan.
func (p ImplementationPlan) Clone() ImplementationPlan {
	c := p
	c.FilesToCreate = cloneStrings(p.FilesToCreate)
	c.FilesToModify = cloneStrings(p.FilesToModify)
	c.Dependencies = cloneStrings(p.Dependencies)
	c.Patterns = cloneStrings(p.Patterns)
	c.RiskIndicators = cloneStrings(p.RiskIndicators)
	c.Phases = cloneStrings(p.Phases)
	c.Labels = cloneStrings(p.Labels)
	return c
}

// List returns the list stored under field, or nil for unknown fields.
func (p *ImplementationPlan) List(field string) []string {
	switch field {
	case FieldFilesToCreate:
		return p.FilesToCreate
	case FieldFilesToModify:
		return p.FilesToModify
	case FieldDependencies:
		return p.Dependencies
	case FieldPatterns:
		return p.Patterns
	case FieldRiskIndicators:
		return p.RiskIndicators
	case FieldPhases:
		return p.Phases
	case FieldLabels:
		return p.Labels
	default:
		return nil
	}
}

// SetList replaces the list stored under field. Unknown fields are ignored.
func (p *ImplementationPlan) SetList(field string, values []string) {
	switch field {
	case FieldFilesToCreate:
		p.FilesToCreate = values
	case FieldFilesToModify:
		p.FilesToModify = values
	case FieldDependencies:
		p.Dependencies = values
	case FieldPatterns:
		p.Patterns = values
	case FieldRiskIndicators:
		p.RiskIndicators = values
	case FieldPhases:
		p.Phases = values
	case FieldLabels:
		p.Labels = values
	}
}

// Text returns the free text used for keyword matching.
func (p *ImplementationPlan) Text() string {
	parts := make([]string, 0, 3+len(p.Phases))
	for _, s := range []string{p.Title, p.Description, p.Notes} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, p.Phases...)
	return strings.Join(parts, "\n")
}

// HasLabel reports whether the plan carries label (case-insensitive).
func (p *ImplementationPlan) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if strings.EqualFold(strings.TrimSpace(l), label) {
			return true
		}
	}
	return false
}

// IsListField reports whether field names a list field.
func IsListField(field string) bool {
	for _, f := range ListFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsScalarField reports whether field names a scalar field.
func IsScalarField(field string) bool {
	for _, f := range ScalarFields {
		if f == field {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
