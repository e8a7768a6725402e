package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/plangate/internal/display"
	"github.com/harrison/plangate/internal/models"
)

// NewMetricsCommand creates the 'plangate metrics' parent command
func NewMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Query the metrics event log",
		Long: `Commands for reading and extending the append-only metrics log.

The JSONL log is the source of truth. 'metrics stats' keeps a SQLite index
of it up to date and aggregates from the index.`,
	}

	cmd.AddCommand(newMetricsQueryCommand())
	cmd.AddCommand(newMetricsStatsCommand())
	cmd.AddCommand(newMetricsOutcomeCommand())

	return cmd
}

// parseSince accepts an RFC 3339 timestamp, a date, or a duration meaning
// that long before now. An empty value is an open bound.
func parseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339, YYYY-MM-DD or a duration such as 24h", value)
}

func newMetricsQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print recorded events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceFlag, _ := cmd.Flags().GetString("since")
			untilFlag, _ := cmd.Flags().GetString("until")
			task, _ := cmd.Flags().GetString("task")
			kind, _ := cmd.Flags().GetString("kind")

			now := time.Now()
			since, err := parseSince(sinceFlag, now)
			if err != nil {
				return err
			}
			until, err := parseSince(untilFlag, now)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			events, err := a.engine.QueryMetrics(since, until)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			for _, ev := range events {
				if task != "" && ev.TaskID != task {
					continue
				}
				if kind != "" && string(ev.Kind) != kind {
					continue
				}
				if err := enc.Encode(ev); err != nil {
					return fmt.Errorf("encode event: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("since", "", "Earliest timestamp, inclusive (RFC 3339, YYYY-MM-DD or duration like 24h)")
	cmd.Flags().String("until", "", "Latest timestamp, inclusive (same formats as --since)")
	cmd.Flags().String("task", "", "Only events for this task id")
	cmd.Flags().String("kind", "", "Only events of this kind: complexity, decision or outcome")

	return cmd
}

func newMetricsStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate scores, decisions and outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceFlag, _ := cmd.Flags().GetString("since")
			rebuild, _ := cmd.Flags().GetBool("rebuild")

			since, err := parseSince(sinceFlag, time.Now())
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.engine.MetricsStats(cmd.Context(), since, rebuild)
			if err != nil {
				return err
			}
			display.PrintStats(a.out, stats)
			return nil
		},
	}

	cmd.Flags().String("since", "", "Only events at or after this time (RFC 3339, YYYY-MM-DD or duration like 168h)")
	cmd.Flags().Bool("rebuild", false, "Rebuild the index from the whole log first")

	return cmd
}

func newMetricsOutcomeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome <task-id>",
		Short: "Record how a routed plan actually ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			decision, _ := cmd.Flags().GetString("decision")
			override, _ := cmd.Flags().GetBool("human-override")
			duration, _ := cmd.Flags().GetDuration("duration")
			version, _ := cmd.Flags().GetInt("version")
			notes, _ := cmd.Flags().GetString("notes")

			outcome := models.OutcomePayload{
				Status:          strings.ToLower(status),
				Decision:        models.Decision(decision),
				HumanOverride:   override,
				DurationSeconds: duration.Seconds(),
				Version:         version,
				Notes:           notes,
			}
			if decision != "" && !outcome.Decision.Valid() {
				return fmt.Errorf("invalid --decision %q", decision)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.RecordOutcome(args[0], outcome); err != nil {
				return err
			}
			if !a.engine.Config().MetricsEnabled() {
				fmt.Fprintln(a.out, "metrics are disabled, outcome not recorded")
				return nil
			}
			fmt.Fprintf(a.out, "recorded %s outcome for %s\n", outcome.Status, args[0])
			return nil
		},
	}

	cmd.Flags().String("status", "", "Outcome: approved, rejected, revised or abandoned")
	cmd.Flags().String("decision", "", "Decision the outcome follows")
	cmd.Flags().Bool("human-override", false, "A human overrode the routed decision")
	cmd.Flags().Duration("duration", 0, "Time from routing to outcome (e.g. 45m)")
	cmd.Flags().Int("version", 0, "Plan version the outcome applies to")
	cmd.Flags().String("notes", "", "Free-text notes")
	cmd.MarkFlagRequired("status")

	return cmd
}
