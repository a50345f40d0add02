package commands

import (
	"github.com/spf13/cobra"
)

func newPrepareCommand(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Run the full deployment preparation sequence",
		Long: `Prepare the deployment for an update:

  1. recover an interrupted job rename
  2. bind releases under the deployment's release lock
  3. schedule orphan VMs for deletion
  4. collect and verify the live state of every instance

Preparation stops at the first error. A VM whose agent reports state that
does not match its records fails preparation with a message naming the VM
and the kind of mismatch. Pass --force-rename when the mismatch is a job
rename that was interrupted.`,
		Example: `  # Prepare and print the result
  fleetrecon prepare

  # Complete an interrupted rename
  fleetrecon prepare --force-rename`,
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

			prepared, err := assembler.Prepare(ctx)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), output, preparedOutput{
				Deployment:       prepared.Deployment.Name,
				RenamedInstances: prepared.RenamedInstances,
				ReapedVMs:        vmCIDs(prepared),
				States:           namedStates(prepared.Instances, prepared.States),
				CompletedSteps:   prepared.CompletedSteps,
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json, yaml)")

	return cmd
}
