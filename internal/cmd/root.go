package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for plangate
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plangate",
		Short: "Complexity scoring, review routing and versioned refinement for implementation plans",
		Long: `plangate scores an implementation plan for complexity, routes it to
a level of review and keeps every revision of the plan as an immutable
version.

Plans are read from YAML, JSON or Markdown files. Scores, decisions and
outcomes are appended to a metrics log under the data directory.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file, YAML or TOML (default: <home>/config.yaml)")
	flags.String("home", "", "Data directory (default: $PLANGATE_HOME, data_dir or ./.plangate)")
	flags.String("env-file", ".env", "File with PLANGATE_* variables, real environment wins")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error (default: from config)")
	flags.StringArray("set", nil, "Transient config override key=value, repeatable (e.g. thresholds.go.auto_approve=3)")
	flags.Bool("no-log-file", false, "Do not write a run log under <home>/logs")
	flags.Bool("no-color", false, "Disable colored output")

	cmd.AddCommand(NewScoreCommand())
	cmd.AddCommand(NewReviewCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewSessionCommand())
	cmd.AddCommand(NewMetricsCommand())

	return cmd
}
