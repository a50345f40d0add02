package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenameCommand(flags *globalFlags) *cobra.Command {
	var (
		from   string
		to     string
		status bool
	)

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Apply or resume a job rename",
		Long: `Rename every instance whose job is the old name to the new name.

The rename is taken from the rename section of the config file unless
--from and --to are given. Re-running after an interruption only touches
instances that still carry the old name.`,
		Example: `  # Apply the rename from the config file
  fleetrecon rename

  # Rename router to gorouter
  fleetrecon rename --from router --to gorouter

  # Only report progress
  fleetrecon rename --status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if (from == "") != (to == "") {
				return fmt.Errorf("--from and --to must be given together")
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if from != "" {
				cfg.Rename.Old = from
				cfg.Rename.New = to
			}

			rt, err := newRuntime(ctx, cfg, flags.version)
			if err != nil {
				return err
			}
			defer rt.Close()

			assembler := rt.assembler(nil)
			out := cmd.OutOrStdout()

			state, err := assembler.RenameState(ctx)
			if err != nil {
				return err
			}
			if status || !rt.Plan().Rename.Active() {
				fmt.Fprintf(out, "rename state: %s\n", state)
				return nil
			}

			renamed, err := assembler.RecoverRenames(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "renamed %d instance(s) from %s to %s\n", renamed, cfg.Rename.Old, cfg.Rename.New)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "job name to rename")
	cmd.Flags().StringVar(&to, "to", "", "new job name")
	cmd.Flags().BoolVar(&status, "status", false, "only report the rename state")

	return cmd
}
