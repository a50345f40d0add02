package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCommand(flags *globalFlags) *cobra.Command {
	var (
		action string
		limit  int
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		Long: `List recorded reaps, renames and preparation outcomes, newest first.

Entries are limited to the configured deployment unless --all is given.`,
		Example: `  # Show the last 20 entries
  fleetrecon audit

  # Only renames
  fleetrecon audit --action instance.renamed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			var actionFilter, deploymentFilter *string
			if action != "" {
				actionFilter = &action
			}
			if !all {
				deploymentFilter = &rt.deployment.Name
			}

			entries, err := rt.store.ListAuditEntries(ctx, actionFilter, deploymentFilter, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				target := "-"
				if e.TargetID != nil {
					target = *e.TargetID
				}
				fmt.Fprintf(out, "%s  %-28s %-12s %-20s %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Deployment, target, e.Actor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "filter by action (event type)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&all, "all", false, "include every deployment")

	return cmd
}
