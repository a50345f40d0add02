package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	verbose     bool
	forceRename bool

	version string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{version: version}

	rootCmd := &cobra.Command{
		Use:   "fleetrecon",
		Short: "fleetrecon - VM fleet state reconciliation",
		Long: `fleetrecon reconciles the recorded state of a deployment's VMs with the
state their agents report.

It collects and verifies live agent state, migrates legacy records,
schedules orphan VMs for deletion and recovers interrupted job renames
before a deployment is updated.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (.cue, .yml or .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flags.forceRename, "force-rename", false, "complete an interrupted job rename (overrides rename.force)")

	rootCmd.AddCommand(newCollectCommand(flags))
	rootCmd.AddCommand(newReapCommand(flags))
	rootCmd.AddCommand(newRenameCommand(flags))
	rootCmd.AddCommand(newPrepareCommand(flags))
	rootCmd.AddCommand(newWatchCommand(flags))
	rootCmd.AddCommand(newAuditCommand(flags))
	rootCmd.AddCommand(newDBCommand(flags))

	return rootCmd
}
