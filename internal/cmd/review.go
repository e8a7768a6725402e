package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/plangate/internal/display"
)

// NewReviewCommand creates the 'plangate review' command
func NewReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <task-id> [score]",
		Short: "Route an architectural review score to a final decision",
		Long: `Map an architectural review score (0-100) to auto_approve,
approve_with_recommendations or reject using the stack's review thresholds.

The score is given directly or computed from per-principle scores:
  plangate review TASK-7 85
  plangate review TASK-7 --principle solid_principles=90 --principle testability=70`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runReview,
	}

	cmd.Flags().String("stack", "", "Stack whose thresholds apply")
	cmd.Flags().StringArray("principle", nil, "Principle score name=score, repeatable")

	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	stack, _ := cmd.Flags().GetString("stack")
	principleArgs, _ := cmd.Flags().GetStringArray("principle")

	if len(args) == 2 && len(principleArgs) > 0 {
		return fmt.Errorf("give either a score or --principle values, not both")
	}
	if len(args) == 1 && len(principleArgs) == 0 {
		return fmt.Errorf("a review score or at least one --principle is required")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var score float64
	if len(args) == 2 {
		score, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid review score %q: %w", args[1], err)
		}
	} else {
		principles, err := parsePrinciples(principleArgs)
		if err != nil {
			return err
		}
		score, err = a.engine.ReviewScore(principles)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "review score: %.1f\n", score)
	}

	decision, err := a.engine.DecideReview(taskID, score, stack)
	display.PrintDecision(a.out, decision)
	return err
}

func parsePrinciples(values []string) (map[string]float64, error) {
	out := make(map[string]float64, len(values))
	for _, v := range values {
		name, raw, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --principle %q, expected name=score", v)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --principle %q: %w", v, err)
		}
		out[name] = score
	}
	return out, nil
}
