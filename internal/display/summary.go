package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/plangate/internal/metrics"
	"github.com/harrison/plangate/internal/models"
)

// decisionColor picks green for approvals, yellow for optional or
// conditional outcomes and red for required review or rejection.
func decisionColor(d models.Decision) *color.Color {
	switch d {
	case models.DecisionAutoApprove:
		return color.New(color.FgGreen, color.Bold)
	case models.DecisionQuickOptional, models.DecisionApproveWithRecommendations:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func categoryColor(category string) *color.Color {
	switch category {
	case models.CategoryLow:
		return color.New(color.FgGreen)
	case models.CategoryMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// PrintScore writes the aggregate score and one line per factor.
func PrintScore(w io.Writer, taskID string, score *models.ComplexityScore) {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	if score == nil {
		cyan.Fprintf(w, "%s", taskID)
		fmt.Fprintln(w, "  complexity: not scored")
		return
	}

	cyan.Fprintf(w, "%s", taskID)
	fmt.Fprintf(w, "  complexity %.2f/%.0f ", score.Total, score.Max)
	categoryColor(score.Category).Fprintf(w, "(%s)", score.Category)
	fmt.Fprintln(w)

	if score.Failsafe {
		color.New(color.FgRed).Fprintf(w, "  failsafe: %s\n", score.Reason)
	}
	for _, f := range score.Factors {
		fmt.Fprintf(w, "  %-13s %5.2f  (%.2f x %.1f)", f.Name, f.Points, f.Normalized, f.Weight)
		if f.Justification != "" {
			gray.Fprintf(w, "  %s", f.Justification)
		}
		fmt.Fprintln(w)
	}
}

// PrintDecision writes a review decision with its reason and triggers.
func PrintDecision(w io.Writer, d models.ReviewDecision) {
	fmt.Fprintf(w, "decision: ")
	decisionColor(d.Decision).Fprintf(w, "%s", d.Decision)
	fmt.Fprintf(w, " (%s stage, mode %s)\n", d.Stage, d.Mode)
	if d.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", d.Reason)
	}
	for _, t := range d.Triggers {
		fmt.Fprintf(w, "  trigger %s", t.Kind)
		if len(t.Evidence) > 0 {
			fmt.Fprintf(w, ": %s", strings.Join(t.Evidence, ", "))
		}
		fmt.Fprintln(w)
	}
}

// PrintHistory writes one line per plan version, oldest first.
func PrintHistory(w io.Writer, history []models.PlanVersion) {
	if len(history) == 0 {
		fmt.Fprintln(w, "no versions")
		return
	}
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, v := range history {
		bold.Fprintf(w, "v%d", v.Version)
		fmt.Fprintf(w, "  %s  %d change(s)", v.CreatedAt.Local().Format(time.DateTime), len(v.Changes))
		gray.Fprintf(w, "  %s", v.SessionID)
		if v.Reason != "" {
			fmt.Fprintf(w, "  %s", v.Reason)
		}
		fmt.Fprintln(w)
	}
}

// PrintDiff writes the differences between two versions.
func PrintDiff(w io.Writer, diff models.VersionDiff) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s v%d -> v%d\n", diff.PlanID, diff.From, diff.To)
	if diff.Empty() {
		fmt.Fprintln(w, "  no changes")
		return
	}
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	for _, field := range sortedKeys(diff.Added, diff.Removed) {
		for _, entry := range diff.Removed[field] {
			red.Fprintf(w, "  - %s: %s\n", field, entry)
		}
		for _, entry := range diff.Added[field] {
			green.Fprintf(w, "  + %s: %s\n", field, entry)
		}
	}

	scalars := make([]string, 0, len(diff.Scalars))
	for field := range diff.Scalars {
		scalars = append(scalars, field)
	}
	sort.Strings(scalars)
	for _, field := range scalars {
		pair := diff.Scalars[field]
		fmt.Fprintf(w, "  ~ %s: %v -> %v\n", field, pair[0], pair[1])
	}
	if diff.LOCDelta != 0 {
		fmt.Fprintf(w, "  estimated LOC %+d\n", diff.LOCDelta)
	}
}

func sortedKeys(maps ...map[string][]string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// PrintSession writes a session record and its pending changes.
func PrintSession(w io.Writer, rec models.SessionRecord) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "session %s", rec.ID)
	fmt.Fprintf(w, "  plan %s  base v%d  state %s\n", rec.PlanID, rec.BaseVersion, rec.State)
	fmt.Fprintf(w, "  updated %s\n", rec.UpdatedAt.Local().Format(time.DateTime))
	if rec.LastError != "" {
		color.New(color.FgRed).Fprintf(w, "  last error: %s\n", rec.LastError)
	}
	for i, c := range rec.Changes {
		fmt.Fprintf(w, "  %d. %s %s", i+1, c.Op, c.Field)
		switch {
		case c.Before != "" && c.After != "":
			fmt.Fprintf(w, " %q -> %q", c.Before, c.After)
		case c.After != "":
			fmt.Fprintf(w, " %q", c.After)
		case c.Before != "":
			fmt.Fprintf(w, " %q", c.Before)
		}
		fmt.Fprintln(w)
	}
}

// PrintStats writes the metrics index aggregates.
func PrintStats(w io.Writer, stats *metrics.Stats) {
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprintf(w, "Events")
	if !stats.Since.IsZero() {
		fmt.Fprintf(w, " since %s", stats.Since.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w, ":")
	for _, kind := range []models.EventKind{models.EventComplexity, models.EventDecision, models.EventOutcome} {
		fmt.Fprintf(w, "  %-11s %d\n", kind, stats.Events[string(kind)])
	}

	if len(stats.Decisions) > 0 {
		cyan.Fprintln(w, "Decisions:")
		for _, d := range sortedCounts(stats.Decisions) {
			fmt.Fprintf(w, "  ")
			decisionColor(models.Decision(d)).Fprintf(w, "%-28s", d)
			fmt.Fprintf(w, " %d\n", stats.Decisions[d])
		}
	}

	if len(stats.AvgComplexityByStack) > 0 {
		cyan.Fprintln(w, "Average complexity by stack:")
		stacks := make([]string, 0, len(stats.AvgComplexityByStack))
		for s := range stats.AvgComplexityByStack {
			stacks = append(stacks, s)
		}
		sort.Strings(stacks)
		for _, s := range stacks {
			fmt.Fprintf(w, "  %-12s %.2f\n", s, stats.AvgComplexityByStack[s])
		}
	}

	fmt.Fprintf(w, "Failsafe scores: %d  Escalations: %d\n", stats.Failsafes, stats.Escalations)
	fmt.Fprintf(w, "Outcomes: %d  Human overrides: %d (%.1f%%)  Mean duration: %.1fs\n",
		stats.Outcomes, stats.HumanOverrides, stats.HumanOverrideRate*100, stats.MeanOutcomeDurationSec)
}

func sortedCounts(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
