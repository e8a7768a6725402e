// Package complexity scores implementation plans.
//
// A Calculator runs a fixed set of independent factors over an
// EvaluationContext. Each factor turns one raw measurement into points:
// the raw value is divided by the factor's saturation point and clamped to
// [0, 1], then multiplied by the factor's weight. The aggregate is the sum
// of all points clamped to the configured maximum.
package complexity

import (
	"fmt"
	"math"
	"strings"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/models"
)

// Factor measures one dimension of plan complexity. Implementations must be
// pure: the same context and config always produce the same FactorScore.
type Factor interface {
	Name() string
	Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore
}

// DefaultFactors returns the built-in factor set.
func DefaultFactors() []Factor {
	return []Factor{
		FileFactor{},
		DependencyFactor{},
		RiskFactor{},
		PatternFactor{},
		SizeFactor{},
	}
}

// FileFactor counts files created plus files modified.
type FileFactor struct{}

func (FileFactor) Name() string { return config.FactorFiles }

func (f FileFactor) Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore {
	n := ctx.FileCount()
	return newFactorScore(f.Name(), float64(n), cfg,
		fmt.Sprintf("%d files (%d new, %d modified)", n, len(ctx.FilesToCreate), len(ctx.FilesToModify)))
}

// DependencyFactor counts declared external dependencies.
type DependencyFactor struct{}

func (DependencyFactor) Name() string { return config.FactorDependencies }

func (f DependencyFactor) Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore {
	n := len(ctx.Dependencies)
	justification := "no external dependencies"
	if n > 0 {
		justification = fmt.Sprintf("%d dependencies: %s", n, strings.Join(ctx.Dependencies, ", "))
	}
	return newFactorScore(f.Name(), float64(n), cfg, justification)
}

// RiskFactor counts the distinct risk categories whose keywords appear in the
// plan text, risk indicators, patterns, dependencies or labels.
type RiskFactor struct{}

func (RiskFactor) Name() string { return config.FactorRisk }

func (f RiskFactor) Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore {
	var hits []string
	for _, category := range cfg.RiskCategories() {
		if matched := ctx.MatchKeywords(cfg.RiskKeywordsFor(category)); len(matched) > 0 {
			hits = append(hits, fmt.Sprintf("%s(%s)", category, strings.Join(matched, ",")))
		}
	}
	justification := "no risk indicators"
	if len(hits) > 0 {
		justification = fmt.Sprintf("%d risk categories: %s", len(hits), strings.Join(hits, "; "))
	}
	return newFactorScore(f.Name(), float64(len(hits)), cfg, justification)
}

// Pattern sophistication levels.
const (
	PatternLevelSimple   = 0
	PatternLevelModerate = 1
	PatternLevelAdvanced = 2
)

// PatternFactor rates the most sophisticated design pattern the plan names.
type PatternFactor struct{}

func (PatternFactor) Name() string { return config.FactorPatterns }

func (f PatternFactor) Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore {
	level, evidence := PatternLevel(ctx.Patterns, cfg)
	justification := "no patterns or simple patterns only"
	switch level {
	case PatternLevelAdvanced:
		justification = "advanced patterns: " + strings.Join(evidence, ", ")
	case PatternLevelModerate:
		justification = "moderate patterns: " + strings.Join(evidence, ", ")
	}
	return newFactorScore(f.Name(), float64(level), cfg, justification)
}

// PatternLevel returns the highest sophistication level among patterns and
// the pattern names that reached it.
func PatternLevel(patterns []string, cfg *config.Config) (int, []string) {
	match := func(level string) []string {
		var out []string
		for _, p := range patterns {
			lp := strings.ToLower(p)
			for _, kw := range cfg.PatternKeywordsFor(level) {
				if strings.Contains(lp, strings.ToLower(kw)) {
					out = append(out, p)
					break
				}
			}
		}
		return out
	}

	if advanced := match("advanced"); len(advanced) > 0 {
		return PatternLevelAdvanced, advanced
	}
	if moderate := match("moderate"); len(moderate) > 0 {
		return PatternLevelModerate, moderate
	}
	return PatternLevelSimple, nil
}

// SizeFactor measures the estimated lines of code.
type SizeFactor struct{}

func (SizeFactor) Name() string { return config.FactorSize }

func (f SizeFactor) Evaluate(ctx models.EvaluationContext, cfg *config.Config) models.FactorScore {
	return newFactorScore(f.Name(), float64(ctx.EstimatedLOC), cfg,
		fmt.Sprintf("~%d lines of code", ctx.EstimatedLOC))
}

// newFactorScore normalizes raw against the factor's saturation point and
// applies its weight. Values past saturation add nothing.
func newFactorScore(name string, raw float64, cfg *config.Config, justification string) models.FactorScore {
	weight := cfg.GetWeights()[name]
	saturation := cfg.GetSaturation(name)

	normalized := 0.0
	if saturation > 0 {
		normalized = clamp(raw/saturation, 0, 1)
	}

	return models.FactorScore{
		Name:          name,
		Raw:           raw,
		Normalized:    normalized,
		Weight:        weight,
		Points:        normalized * weight,
		Justification: justification,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
