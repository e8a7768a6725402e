package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/plangate/internal/display"
	"github.com/harrison/plangate/internal/models"
)

// NewPlanCommand creates the 'plangate plan' parent command
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage versioned plans",
		Long: `Commands for storing plans and reading their version history.

Every version of a plan is an immutable snapshot. Version 1 is created by
'plan init'; later versions are committed by modification sessions.`,
	}

	cmd.AddCommand(newPlanInitCommand())
	cmd.AddCommand(newPlanHistoryCommand())
	cmd.AddCommand(newPlanShowCommand())
	cmd.AddCommand(newPlanExportCommand())
	cmd.AddCommand(newPlanDiffCommand())

	return cmd
}

func newPlanInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <plan-file>",
		Short: "Store a plan file as version 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			plan, err := a.engine.LoadPlan(args[0])
			if err != nil {
				return err
			}
			v, err := a.engine.InitPlan(*plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "initialized %s at v%d\n", v.PlanID, v.Version)
			return nil
		},
	}
}

func newPlanHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <plan-id>",
		Short: "List every version of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.engine.History(args[0])
			if err != nil {
				return err
			}
			display.PrintHistory(a.out, history)
			return nil
		},
	}
}

func newPlanShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Print one version of a plan (default: latest)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetInt("version")
			format, _ := cmd.Flags().GetString("format")
			if format != "json" && format != "yaml" {
				return fmt.Errorf("invalid --format %q, must be json or yaml", format)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var v models.PlanVersion
			if version > 0 {
				v, err = a.engine.Restore(args[0], version)
			} else {
				v, err = a.engine.Latest(args[0])
			}
			if err != nil {
				return err
			}

			if format == "yaml" {
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(v.Plan)
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}

	cmd.Flags().Int("version", 0, "Version to print (default: latest)")
	cmd.Flags().String("format", "json", "Output format: json (full snapshot) or yaml (plan only)")

	return cmd
}

func newPlanExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <plan-id> <file>",
		Short: "Write a plan version back to a YAML or JSON plan file",
		Long: `Write a stored version (default: latest) to a plan file, creating it if
needed. Existing YAML files keep their comments and any keys plangate does
not manage. The file must hold the same plan id or none.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetInt("version")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, err := a.engine.ExportPlan(args[0], version, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s v%d to %s\n", v.PlanID, v.Version, args[1])
			return nil
		},
	}

	cmd.Flags().Int("version", 0, "Version to write (default: latest)")

	return cmd
}

func newPlanDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <plan-id> <from> <to>",
		Short: "Show what changed between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
			to, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[2], err)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			diff, err := a.engine.Compare(args[0], from, to)
			if err != nil {
				return err
			}
			display.PrintDiff(a.out, diff)
			return nil
		},
	}
}
