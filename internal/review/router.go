// Package review routes scored plans to a level of review.
//
// Routing happens in two stages. The complexity stage maps a
// ComplexityScore, the plan's stack and any force triggers to auto_approve,
// quick_optional or full_required. The architectural stage runs after a
// review and maps the 0-100 review score to auto_approve,
// approve_with_recommendations or reject. Both stages resolve their
// thresholds per stack through the same configuration lookup.
package review

import (
	"fmt"
	"math"
	"time"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// MaxReviewScore is the upper bound of an architectural review score.
const MaxReviewScore = 100.0

// Router produces ReviewDecisions from configuration thresholds.
type Router struct {
	cfg    *config.Config
	logger logger.Logger
	now    func() time.Time
}

// NewRouter creates a Router.
func NewRouter(cfg *config.Config, log logger.Logger) *Router {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Router{
		cfg:    cfg,
		logger: logger.OrNop(log),
		now:    time.Now,
	}
}

// ResolveMode returns mode when it is a known mode and the configured mode
// otherwise.
func (r *Router) ResolveMode(mode models.Mode) models.Mode {
	if m, ok := models.ParseMode(string(mode)); ok {
		return m
	}
	return r.cfg.GetMode()
}

// Route applies the complexity-stage policy, in priority order:
//
//  1. mode never: auto_approve
//  2. mode always, or any trigger: full_required
//  3. score below auto_approve threshold: auto_approve; below
//     full_required threshold: quick_optional; otherwise full_required
//
// A missing or invalid score is routed as the maximum score. An empty mode
// uses the configured mode.
func (r *Router) Route(score *models.ComplexityScore, stack string, triggers models.TriggerSet, mode models.Mode) models.ReviewDecision {
	mode = r.ResolveMode(mode)
	decision := models.ReviewDecision{
		Stage:     models.StageComplexity,
		Stack:     stack,
		Mode:      mode,
		Triggers:  triggers,
		DecidedAt: r.now().UTC(),
	}

	total, escalated := r.effectiveScore(score)
	decision.Score = total
	decision.Escalated = escalated

	switch {
	case mode == models.ModeNever:
		decision.Decision = models.DecisionAutoApprove
		decision.Reason = "review mode is never, review skipped"
	case mode == models.ModeAlways:
		decision.Decision = models.DecisionFullRequired
		decision.Reason = "review mode is always"
	case len(triggers) > 0:
		decision.Decision = models.DecisionFullRequired
		decision.Escalated = true
		decision.Reason = fmt.Sprintf("forced by triggers: %s", triggers)
	default:
		t := r.cfg.ResolveThresholds(stack)
		switch {
		case total < t.AutoApprove:
			decision.Decision = models.DecisionAutoApprove
			decision.Reason = fmt.Sprintf("score %.2f below auto_approve threshold %.2f", total, t.AutoApprove)
		case total < t.FullRequired:
			decision.Decision = models.DecisionQuickOptional
			decision.Reason = fmt.Sprintf("score %.2f between auto_approve %.2f and full_required %.2f", total, t.AutoApprove, t.FullRequired)
		default:
			decision.Decision = models.DecisionFullRequired
			decision.Reason = fmt.Sprintf("score %.2f at or above full_required threshold %.2f", total, t.FullRequired)
		}
		if escalated {
			decision.Reason += " (invalid score routed as maximum)"
		}
	}

	r.logger.LogInfo(fmt.Sprintf("review routing: %s (stage=%s score=%.2f stack=%s mode=%s triggers=%s)",
		decision.Decision, decision.Stage, decision.Score, displayStack(stack), mode, triggers))
	return decision
}

// effectiveScore returns the total to route on. Invalid scores become the
// maximum and are logged so the escalation is auditable.
func (r *Router) effectiveScore(score *models.ComplexityScore) (float64, bool) {
	if score.Valid() {
		return score.Total, false
	}

	maxScore := r.cfg.GetMaxScore()
	reason := "score missing"
	if score != nil {
		if score.Max > 0 && !math.IsNaN(score.Max) && !math.IsInf(score.Max, 0) {
			maxScore = score.Max
		}
		switch {
		case score.Failsafe:
			reason = "failsafe score: " + score.Reason
		default:
			reason = fmt.Sprintf("score %v outside [0, %v]", score.Total, score.Max)
		}
	}
	r.logger.LogWarn(fmt.Sprintf("invalid complexity score, routing as maximum complexity %.2f: %s", maxScore, reason))
	return maxScore, true
}

// RouteReview applies the architectural-stage policy to a review score in
// [0, 100]: at or above review_approve is auto_approve, at or above
// review_reject is approve_with_recommendations, lower is reject. Scores
// that are not finite or fall outside the range are rejected.
func (r *Router) RouteReview(reviewScore float64, stack string) models.ReviewDecision {
	decision := models.ReviewDecision{
		Stage:     models.StageArchitectural,
		Score:     reviewScore,
		Stack:     stack,
		Mode:      r.cfg.GetMode(),
		DecidedAt: r.now().UTC(),
	}

	if math.IsNaN(reviewScore) || reviewScore < 0 || reviewScore > MaxReviewScore {
		decision.Decision = models.DecisionReject
		decision.Escalated = true
		decision.Reason = fmt.Sprintf("invalid review score %v, must be within [0, %v]", reviewScore, MaxReviewScore)
		r.logger.LogWarn("architectural review: " + decision.Reason)
		return decision
	}

	t := r.cfg.ResolveThresholds(stack)
	decision.Decision = r.cfg.GetThreshold(reviewScore, stack)
	switch decision.Decision {
	case models.DecisionAutoApprove:
		decision.Reason = fmt.Sprintf("review score %.1f at or above review_approve %.1f", reviewScore, t.ReviewApprove)
	case models.DecisionApproveWithRecommendations:
		decision.Reason = fmt.Sprintf("review score %.1f between review_reject %.1f and review_approve %.1f", reviewScore, t.ReviewReject, t.ReviewApprove)
	default:
		decision.Reason = fmt.Sprintf("review score %.1f below review_reject %.1f", reviewScore, t.ReviewReject)
	}

	r.logger.LogInfo(fmt.Sprintf("review routing: %s (stage=%s score=%.1f stack=%s)",
		decision.Decision, decision.Stage, reviewScore, displayStack(stack)))
	return decision
}

func displayStack(stack string) string {
	if stack == "" {
		return config.DefaultStack
	}
	return stack
}
