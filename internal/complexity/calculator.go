package complexity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// Calculator aggregates factor scores into a bounded ComplexityScore.
type Calculator struct {
	cfg     *config.Config
	factors []Factor
	logger  logger.Logger
}

// NewCalculator creates a Calculator. With no factors given it uses
// DefaultFactors.
func NewCalculator(cfg *config.Config, log logger.Logger, factors ...Factor) *Calculator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if len(factors) == 0 {
		factors = DefaultFactors()
	}
	return &Calculator{
		cfg:     cfg,
		factors: factors,
		logger:  logger.OrNop(log),
	}
}

// Evaluate scores ctx. It never fails: input that cannot be scored, or a
// result that is not a finite number, yields the failsafe score (maximum
// complexity) and the reason is logged.
func (c *Calculator) Evaluate(ctx models.EvaluationContext) *models.ComplexityScore {
	maxScore := c.cfg.GetMaxScore()

	if err := ctx.Validate(); err != nil {
		return c.failsafe(ctx, maxScore, err.Error())
	}

	scores := make([]models.FactorScore, 0, len(c.factors))
	for _, f := range c.factors {
		scores = append(scores, f.Evaluate(ctx, c.cfg))
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Name < scores[j].Name })

	sum := 0.0
	for _, s := range scores {
		sum += s.Points
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return c.failsafe(ctx, maxScore, fmt.Sprintf("factor points are not finite (%v)", sum))
	}

	total := round2(clamp(sum, 0, maxScore))
	score := &models.ComplexityScore{
		Total:    total,
		Max:      maxScore,
		Factors:  scores,
		Category: c.Category(total, ctx.Stack),
	}
	if sum > maxScore {
		score.Reason = fmt.Sprintf("raw total %.2f capped at %.2f", sum, maxScore)
	}

	c.logger.LogDebug(fmt.Sprintf("complexity for %s: %.2f/%.2f (%s) [%s]",
		ctx.TaskID, score.Total, maxScore, score.Category, describeFactors(scores)))
	return score
}

// Category maps a total to low, medium or high using the stack's thresholds.
func (c *Calculator) Category(total float64, stack string) string {
	t := c.cfg.ResolveThresholds(stack)
	switch {
	case total >= t.FullRequired:
		return models.CategoryHigh
	case total < t.AutoApprove:
		return models.CategoryLow
	default:
		return models.CategoryMedium
	}
}

func (c *Calculator) failsafe(ctx models.EvaluationContext, maxScore float64, reason string) *models.ComplexityScore {
	c.logger.LogWarn(fmt.Sprintf("complexity failsafe for task %q, scoring as maximum complexity: %s", ctx.TaskID, reason))
	return &models.ComplexityScore{
		Total:    maxScore,
		Max:      maxScore,
		Category: models.CategoryHigh,
		Failsafe: true,
		Reason:   reason,
	}
}

func describeFactors(scores []models.FactorScore) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%s=%.2f", s.Name, s.Points)
	}
	return strings.Join(parts, " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
