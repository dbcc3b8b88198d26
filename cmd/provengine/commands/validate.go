package commands

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Validate a plan without running it",
		Long: `Validate a CUE or YAML plan.

This command checks:
  - CUE syntax and the plan schema
  - Required fields of units and operands
  - That every operand names a known unit, using the
    profile's stored state for before units`,
		Example: `  # Validate a CUE package directory
  provengine validate ./plan

  # Validate a YAML plan
  provengine validate plan.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			plan, err := config.LoadPlan(ctx, args[0])
			if err != nil {
				return err
			}
			existing, err := env.loadProfile(ctx, plan.Profile.ID)
			if err != nil {
				return err
			}
			operands, err := plan.ResolveOperands(plan.TargetProfile(existing))
			if err != nil {
				return err
			}

			log.Debug().Str("plan", args[0]).Msg("Plan is valid")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s is valid: profile %s, %d operands\n", args[0], plan.Profile.ID, len(operands))
			for _, op := range operands {
				fmt.Fprintf(out, "  %-9s %s\n", op.Kind(), op)
			}
			return nil
		},
	}

	return cmd
}
