package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCollectCommand(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect and verify the live state of every allocated instance",
		Long: `Fetch the state each instance's agent reports, verify it against the
database records and print the verified states.

Legacy records are migrated on the way: missing apply specs are filled
from the reported state and zero-size persistent disks get their size.
Instances whose state could not be collected are omitted unless the
collector's failure_policy is "abort".`,
		Example: `  # Print collected states as JSON
  fleetrecon collect

  # Print as YAML using a specific config
  fleetrecon collect -c /etc/fleetrecon/cf.cue -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			assembler, err := rt.Assembler()
			if err != nil {
				return err
			}

			instances, err := rt.store.ListInstances(ctx, rt.deployment.ID)
			if err != nil {
				return err
			}

			states, err := assembler.CollectCurrentStates(ctx, instances)
			if err != nil {
				return err
			}

			if missing := missingInstances(instances, states); len(missing) > 0 {
				log.Warn().Strs("instances", missing).Msg("Some instances reported no usable state")
			}

			return writeOutput(cmd.OutOrStdout(), output, namedStates(instances, states))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json, yaml)")

	return cmd
}
