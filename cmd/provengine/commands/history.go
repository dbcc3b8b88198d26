package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/provengine/pkg/stores"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		profileID   string
		limit       int
		minSeverity string
	)

	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "Show recorded provisioning sessions",
		Long: `List recorded sessions, newest first, or show the trace and diagnostics
of one session.`,
		Example: `  # List the last sessions of a profile
  provengine history --profile webserver

  # Show the warnings and errors of one session
  provengine history 6f1c... --min-severity warning`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.requireStore(); err != nil {
				return err
			}

			if len(args) == 0 {
				sessions, err := env.store.ListSessions(ctx, profileID, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(cmd.OutOrStdout(), sessions)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION\tPROFILE\tOPERANDS\tRESULT\tSTARTED\tDURATION")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						s.ID, s.ProfileID, s.Operands, s.Severity,
						s.StartedAt.Local().Format(time.RFC3339), sessionDuration(s))
				}
				return w.Flush()
			}

			threshold, err := status.ParseSeverity(minSeverity)
			if err != nil {
				return err
			}
			session, err := env.store.GetSession(ctx, args[0])
			if err != nil {
				return fmt.Errorf("session %s: %w", args[0], err)
			}
			events, err := env.store.ListEvents(ctx, session.ID)
			if err != nil {
				return err
			}
			diagnostics, err := env.store.ListDiagnostics(ctx, session.ID, threshold)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"session":     session,
					"events":      events,
					"diagnostics": diagnostics,
				})
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\nProfile:  %s\nResult:   %s\nDuration: %s\n\n",
				session.ID, session.ProfileID, session.Severity, sessionDuration(session))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tEVENT\tPHASE\tOPERAND\tACTION")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Kind, e.Phase, e.Operand, e.Action)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(diagnostics) > 0 {
				fmt.Fprintln(out, "\nDiagnostics:")
				for _, d := range diagnostics {
					fmt.Fprintf(out, "  [%s] %s: %s\n", d.Severity, d.Source, d.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "", "only list sessions of this profile")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to list")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "info", "lowest diagnostic severity to show")

	return cmd
}

func sessionDuration(s *stores.Session) string {
	if s.FinishedAt == nil {
		return "-"
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
}
