// Package triggers detects conditions that force full review regardless of
// the complexity score.
package triggers

import (
	"fmt"
	"strings"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// HotfixLabel marks a plan as an emergency change.
const HotfixLabel = "hotfix"

// Detector matches plan content against the configured keyword table.
type Detector struct {
	cfg    *config.Config
	logger logger.Logger
}

// NewDetector creates a Detector backed by cfg.
func NewDetector(cfg *config.Config, log logger.Logger) *Detector {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Detector{cfg: cfg, logger: logger.OrNop(log)}
}

// Detect returns every trigger that fires for ctx. Keyword categories are
// independent and a single matching keyword fires its category. An explicit
// force flag always yields user_flag; the hotfix flag or a hotfix label
// yields hotfix.
func (d *Detector) Detect(ctx models.EvaluationContext, flags models.ReviewFlags) models.TriggerSet {
	var set models.TriggerSet

	if flags.ForceReview {
		set = set.Add(models.ForceReviewTrigger{Kind: models.TriggerUserFlag, Evidence: []string{"force_review flag"}})
	}

	if flags.Hotfix {
		set = set.Add(models.ForceReviewTrigger{Kind: models.TriggerHotfix, Evidence: []string{"hotfix flag"}})
	}
	for _, l := range ctx.Labels {
		if strings.EqualFold(strings.TrimSpace(l), HotfixLabel) {
			set = set.Add(models.ForceReviewTrigger{Kind: models.TriggerHotfix, Evidence: []string{"label " + l}})
		}
	}

	for _, kind := range models.KeywordTriggerKinds {
		matched := ctx.MatchKeywords(d.cfg.Keywords(string(kind)))
		if len(matched) == 0 {
			continue
		}
		set = set.Add(models.ForceReviewTrigger{Kind: kind, Evidence: matched})
	}

	if len(set) > 0 {
		d.logger.LogInfo(fmt.Sprintf("force review triggers for %s: %s", ctx.TaskID, set))
	}
	return set
}
