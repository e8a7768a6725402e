package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/plangate/internal/display"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/session"
)

// NewSessionCommand creates the 'plangate session' parent command
func NewSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Refine a plan through a modification session",
		Long: `A modification session collects changes against the latest version of
a plan and commits them as the next version.

Each command attaches to the plan's session, acts and detaches again, so
a session spans several invocations:

  plangate session open TASK-7
  plangate session apply TASK-7 --op add --field files_to_create --after internal/cache/lru.go
  plangate session commit TASK-7 --reason "add cache"

Only one session per plan may be open. A session left behind by a crashed
process must be committed or aborted before a new one can open.`,
	}

	cmd.AddCommand(newSessionOpenCommand())
	cmd.AddCommand(newSessionStatusCommand())
	cmd.AddCommand(newSessionApplyCommand())
	cmd.AddCommand(newSessionCommitCommand())
	cmd.AddCommand(newSessionAbortCommand())
	cmd.AddCommand(newSessionSweepCommand())

	return cmd
}

// detach releases a session handle that is still open. Errors are logged;
// the plan's lock is released when the process exits either way.
func (a *app) detach(s *session.Session) {
	if s.State() != models.SessionActive {
		return
	}
	if err := s.Detach(); err != nil && !errors.Is(err, session.ErrDetached) && !errors.Is(err, models.ErrSessionClosed) {
		a.log.LogWarn(fmt.Sprintf("failed to detach session %s: %v", s.ID(), err))
	}
}

// attach resumes the plan's session and warns when it was left unclean.
func (a *app) attach(planID string) (*session.Session, error) {
	s, err := a.engine.AttachSession(planID)
	if err != nil {
		return nil, err
	}
	if s.Unclean() {
		display.WarnUncleanSession(s.Record()).Display(a.errOut)
	}
	return s, nil
}

func newSessionOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open <plan-id>",
		Short: "Open a session on the latest version of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.engine.OpenSession(args[0])
			if err != nil {
				if models.IsConflict(err) {
					if rec, _ := a.engine.SessionStatus(args[0]); rec != nil {
						display.PrintSession(a.errOut, *rec)
					}
				}
				return err
			}
			if err := s.Detach(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "opened session %s on %s v%d\n", s.ID(), s.PlanID(), s.BaseVersion())
			return nil
		},
	}
}

func newSessionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Show the open session of a plan and its pending changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.engine.SessionStatus(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintf(a.out, "no open session on %s\n", args[0])
				return nil
			}
			display.PrintSession(a.out, *rec)
			if !rec.Detached {
				display.WarnUncleanSession(*rec).Display(a.errOut)
			}
			return nil
		},
	}
}

func newSessionApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <plan-id>",
		Short: "Add one change to the open session",
		Long: `Add one change to the plan's open session.

List fields (files_to_create, files_to_modify, dependencies, patterns,
risk_indicators, phases, labels):
  --op add --after <entry> [--position n]
  --op remove --before <entry>
  --op modify --before <entry> --after <entry>

Scalar fields (title, stack, description, notes, estimated_loc):
  --op modify --after <value>
  --op add --after <paragraph>    (notes only, appends)`,
		Args: cobra.ExactArgs(1),
		RunE: runSessionApply,
	}

	cmd.Flags().String("op", "", "Change operation: add, remove or modify")
	cmd.Flags().String("field", "", "Plan field to change")
	cmd.Flags().String("before", "", "Existing entry (remove, modify on lists)")
	cmd.Flags().String("after", "", "New entry or value")
	cmd.Flags().Int("position", -1, "Insert position for add on lists (default: append)")
	cmd.Flags().String("reason", "", "Why the change is made")
	cmd.MarkFlagRequired("op")
	cmd.MarkFlagRequired("field")

	return cmd
}

func runSessionApply(cmd *cobra.Command, args []string) error {
	opFlag, _ := cmd.Flags().GetString("op")
	op, ok := models.ParseChangeOp(opFlag)
	if !ok {
		return fmt.Errorf("invalid --op %q, must be one of: add, remove, modify", opFlag)
	}
	field, _ := cmd.Flags().GetString("field")
	before, _ := cmd.Flags().GetString("before")
	after, _ := cmd.Flags().GetString("after")
	reason, _ := cmd.Flags().GetString("reason")
	change := models.ChangeRecord{Op: op, Field: field, Before: before, After: after, Reason: reason}
	if cmd.Flags().Changed("position") {
		position, _ := cmd.Flags().GetInt("position")
		change.Position = &position
	}
	if err := change.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.attach(args[0])
	if err != nil {
		return err
	}
	defer a.detach(s)

	if err := a.engine.ApplyChange(s, change); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "applied %s %s (%d pending change(s))\n", change.Op, change.Field, len(s.Changes()))
	return nil
}

func newSessionCommitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <plan-id>",
		Short: "Commit the open session as the next plan version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.attach(args[0])
			if err != nil {
				return err
			}
			defer a.detach(s)

			v, err := a.engine.Commit(s, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "committed %s v%d (%d change(s))\n", v.PlanID, v.Version, len(v.Changes))
			return nil
		},
	}

	cmd.Flags().String("reason", "", "Why the revision was made")

	return cmd
}

func newSessionAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <plan-id>",
		Short: "Discard the open session without creating a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.engine.AbortSession(args[0])
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintf(a.out, "cleared unreadable session record on %s\n", args[0])
				return nil
			}
			fmt.Fprintf(a.out, "aborted session %s on %s\n", id, args[0])
			return nil
		},
	}
}

func newSessionSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "List sessions idle longer than the session_inactivity timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abort, _ := cmd.Flags().GetBool("abort")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			now := time.Now()
			abandoned, err := a.engine.AbandonedSessions(now)
			if err != nil {
				return err
			}
			if len(abandoned) == 0 {
				fmt.Fprintln(a.out, "no abandoned sessions")
				return nil
			}
			for _, rec := range abandoned {
				display.PrintSession(a.out, rec)
			}
			if !abort {
				return nil
			}

			aborted, err := a.engine.AbortAbandoned(now)
			fmt.Fprintf(a.out, "aborted %d of %d abandoned session(s)\n", len(aborted), len(abandoned))
			return err
		},
	}

	cmd.Flags().Bool("abort", false, "Abort the abandoned sessions that no process holds")

	return cmd
}
