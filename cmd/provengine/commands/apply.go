package commands

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/config"
	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/touchpoint/native"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		planFile        string
		forcedUninstall bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run a plan as one provisioning transaction",
		Long: `Run the operands of a plan against its profile.

This command:
  - Loads the plan and the profile's stored state
  - Collects artifacts from the configured repositories
  - Checks artifact signatures against trust stores and policies
  - Runs the phase instructions of every unit through its touchpoint
  - Rolls back and restores the profile if any phase fails
  - Records the session trace and saves the profile`,
		Example: `  # Apply a CUE plan
  provengine apply --plan plan.cue

  # Apply a YAML plan, ignoring uninstall failures
  provengine apply --plan plan.yaml --forced-uninstall`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			plan, err := config.LoadPlan(ctx, planFile)
			if err != nil {
				return err
			}
			existing, err := env.loadProfile(ctx, plan.Profile.ID)
			if err != nil {
				return err
			}
			profile := plan.TargetProfile(existing)
			operands, err := plan.ResolveOperands(profile)
			if err != nil {
				return err
			}

			eng, err := env.newEngine(ctx)
			if err != nil {
				return err
			}
			phaseSet, err := env.phaseSet(forcedUninstall)
			if err != nil {
				return err
			}

			log.Info().
				Str("plan", planFile).
				Str("profile", profile.ID()).
				Int("operands", len(operands)).
				Msg("Applying plan")

			report := eng.Perform(ctx, engine.Request{
				Profile:  profile,
				PhaseSet: phaseSet,
				Operands: operands,
				Reporter: func(task string, done, total float64) {
					log.Debug().Str("task", task).Float64("done", done).Float64("total", total).Msg("Progress")
				},
			})

			if report.Session != nil {
				if !report.Status.Matches(status.SeverityError|status.SeverityCancel) && env.store != nil {
					if err := env.store.SaveProfile(ctx, profile, report.Session.ID()); err != nil {
						return fmt.Errorf("failed to save profile: %w", err)
					}
				}
				// Backups of a cancelled run are kept for manual recovery.
				if !report.Status.Matches(status.SeverityCancel) {
					if err := native.Commit(report.Session.DataDir(), report.Session.ID()); err != nil {
						log.Warn().Err(err).Msg("Failed to discard backups")
					}
				}
			}

			printReport(cmd, report)
			return report.Status.AsError()
		},
	}

	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "plan file or CUE package directory")
	cmd.Flags().BoolVar(&forcedUninstall, "forced-uninstall", false, "downgrade uninstall failures to warnings")
	cmd.MarkFlagRequired("plan")

	return cmd
}
