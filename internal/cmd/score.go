package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/plangate/internal/display"
	"github.com/harrison/plangate/internal/engine"
	"github.com/harrison/plangate/internal/fileutil"
	"github.com/harrison/plangate/internal/models"
)

// NewScoreCommand creates the 'plangate score' command
func NewScoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <plan-file|dir>...",
		Short: "Score plans for complexity and route them to a level of review",
		Long: `Score one or more plan files (.yaml, .yml, .json, .md) and print the
complexity score, the fired force triggers and the review decision.
Directories are expanded to the plan files they contain.

Each score and decision is appended to the metrics log.

Exit code: 0 when every plan was scored and recorded, 1 otherwise`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScore,
	}

	cmd.Flags().String("stack", "", "Override the stack declared by the plan")
	cmd.Flags().Bool("review", false, "Force a full review regardless of score")
	cmd.Flags().Bool("hotfix", false, "Mark the plan as a hotfix, which forces a full review")
	cmd.Flags().String("mode", "", "Routing mode for this run: never, auto or always (default: from config)")
	cmd.Flags().Bool("json", false, "Print evaluations as JSON")
	cmd.Flags().BoolP("recursive", "r", false, "Descend into subdirectories of directory arguments")
	cmd.Flags().String("pattern", "", "Regex on file names (without extension) for directory arguments")

	return cmd
}

// evaluationOutput is the JSON form of one evaluation.
type evaluationOutput struct {
	File     string                  `json:"file"`
	TaskID   string                  `json:"task_id"`
	Score    *models.ComplexityScore `json:"score"`
	Triggers models.TriggerSet       `json:"triggers,omitempty"`
	Decision models.ReviewDecision   `json:"decision"`
	State    string                  `json:"state"`
}

func runScore(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	stack, _ := cmd.Flags().GetString("stack")
	forceReview, _ := cmd.Flags().GetBool("review")
	hotfix, _ := cmd.Flags().GetBool("hotfix")
	modeFlag, _ := cmd.Flags().GetString("mode")
	asJSON, _ := cmd.Flags().GetBool("json")
	recursive, _ := cmd.Flags().GetBool("recursive")
	pattern, _ := cmd.Flags().GetString("pattern")

	var mode models.Mode
	if modeFlag != "" {
		m, ok := models.ParseMode(modeFlag)
		if !ok {
			return fmt.Errorf("invalid --mode %q, must be one of: never, auto, always", modeFlag)
		}
		mode = m
	}
	flags := models.ReviewFlags{ForceReview: forceReview, Hotfix: hotfix}

	paths, errs := fileutil.ExpandPlanPaths(args, fileutil.ScanOptions{Recursive: recursive, Pattern: pattern})
	for _, err := range errs {
		a.log.LogWarn(err.Error())
	}
	if len(paths) == 0 {
		return errors.Join(errs...)
	}

	var progress *display.ScoreProgress
	if !asJSON {
		if len(paths) > 1 {
			progress = display.NewScoreProgress(a.out, len(paths))
			progress.Start()
		} else {
			display.ScoringPlan(a.out, paths[0])
		}
	}
	failed := func() {
		if progress != nil {
			progress.Fail()
		}
	}

	var outputs []evaluationOutput
	for _, path := range paths {
		if progress != nil {
			progress.Step(path)
		}

		plan, err := a.engine.LoadPlan(path)
		if err != nil {
			errs = append(errs, err)
			a.log.LogError(err.Error())
			failed()
			continue
		}
		if stack != "" {
			plan.Stack = stack
		}

		ev, err := a.engine.Evaluate(*plan, flags, mode)
		if ev == nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			failed()
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}

		if asJSON {
			outputs = append(outputs, evaluationOutput{
				File:     path,
				TaskID:   ev.TaskID,
				Score:    ev.Score,
				Triggers: ev.Triggers,
				Decision: ev.Decision,
				State:    string(ev.Flow.State()),
			})
			continue
		}
		printEvaluation(a.out, ev)
	}

	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outputs); err != nil {
			return fmt.Errorf("encode evaluations: %w", err)
		}
	} else if progress != nil {
		progress.Done()
	}

	return errors.Join(errs...)
}

func printEvaluation(w io.Writer, ev *engine.Evaluation) {
	fmt.Fprintln(w)
	display.PrintScore(w, ev.TaskID, ev.Score)
	display.PrintDecision(w, ev.Decision)
	if ev.NeedsReview() {
		fmt.Fprintf(w, "  next: run 'plangate review %s <score>' after the review\n", ev.TaskID)
	}
}
