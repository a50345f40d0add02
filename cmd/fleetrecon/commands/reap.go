package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReapCommand(flags *globalFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Schedule VMs that no instance owns for deletion",
		Long: `Find every VM of the deployment that is not referenced by an instance
and schedule it for deletion. Scheduling is idempotent: a VM already
scheduled keeps its original entry.`,
		Example: `  # Schedule orphan VMs
  fleetrecon reap

  # Show the deletion queue afterwards
  fleetrecon reap --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Reaping never talks to agents.
			reaped, err := rt.assembler(nil).ReapOrphanVMs(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scheduled %d vm(s) for deletion\n", len(reaped))
			for _, vm := range reaped {
				fmt.Fprintf(out, "  %s (agent %s)\n", vm.CID, vm.AgentID)
			}

			if !list {
				return nil
			}

			deletions, err := rt.store.ListDeletions(ctx)
			if err != nil {
				return err
			}
			log.Debug().Int("count", len(deletions)).Msg("Listing deletion queue")
			fmt.Fprintf(out, "deletion queue (%d):\n", len(deletions))
			for _, d := range deletions {
				fmt.Fprintf(out, "  %s scheduled %s\n", d.CID, d.ScheduledAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print the deletion queue")

	return cmd
}
