package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetrecon/fleetrecon/pkg/config"
)

func newWatchCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-collect states whenever the config file changes",
		Long: `Watch the config file and run a state collection each time it is saved.

An invalid file is reported and the previous configuration stays in
effect until the file is fixed. Stop with Ctrl+C.`,
		Example: `  # Watch the default config file
  fleetrecon watch

  # Watch a specific file
  fleetrecon watch -c cf.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := resolveConfigPath(flags.configPath)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			collectSummary(ctx, out, cfg, flags.version)

			loader, err := config.NewLoader()
			if err != nil {
				return err
			}

			log.Info().Str("config", path).Msg("Watching config file")
			return loader.Watch(ctx, path, func(next *config.Config, err error) {
				if err != nil {
					log.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
					return
				}
				if flags.forceRename {
					next.Rename.Force = true
				}
				if flags.verbose {
					next.Telemetry.LogLevel = "debug"
				}
				log.Info().Str("deployment", next.Deployment).Msg("Config changed")
				collectSummary(ctx, out, next, flags.version)
			})
		},
	}

	return cmd
}

// collectSummary runs one collection with cfg and prints a one-line summary.
// Errors are logged rather than returned so that watching continues. The
// runtime, metrics server included, is torn down before it returns.
func collectSummary(ctx context.Context, out io.Writer, cfg *config.Config, version string) {
	if err := runCollectSummary(ctx, out, cfg, version); err != nil {
		log.Error().Err(err).Str("deployment", cfg.Deployment).Msg("Collection failed")
	}
}

func runCollectSummary(ctx context.Context, out io.Writer, cfg *config.Config, version string) error {
	rt, err := newRuntime(ctx, cfg, version)
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

	missing := missingInstances(instances, states)
	fmt.Fprintf(out, "%s: collected %d state(s), %d missing\n", cfg.Deployment, len(states), len(missing))
	return nil
}
