package review

import (
	"fmt"
	"math"
	"sort"

	"github.com/harrison/plangate/internal/models"
)

// ArchitecturalScore combines per-principle review scores (each 0-100) into
// one review score, weighting each principle by its configured share and
// normalizing by the weights actually used. Principles without a weight are
// rejected so a misspelled name cannot silently drop out.
func ArchitecturalScore(principles, weights map[string]float64) (float64, error) {
	if len(principles) == 0 {
		return 0, models.NewValidationError("principles", "at least one principle score is required")
	}

	names := make([]string, 0, len(principles))
	for name := range principles {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum, weightSum float64
	for _, name := range names {
		score := principles[name]
		if math.IsNaN(score) || score < 0 || score > MaxReviewScore {
			return 0, models.NewValidationError(name, "principle score must be within [0, %v], got %v", MaxReviewScore, score)
		}
		w, ok := weights[name]
		if !ok {
			return 0, models.NewValidationError(name, "unknown principle, expected one of %v", sortedNames(weights))
		}
		sum += score * w
		weightSum += w
	}

	if weightSum <= 0 {
		return 0, fmt.Errorf("principle weights sum to %v", weightSum)
	}
	return math.Round(sum/weightSum*10) / 10, nil
}

func sortedNames(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
