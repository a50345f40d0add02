package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetrecon/fleetrecon/pkg/stores"
)

func newDBCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
		Long: `Manage the fleetrecon record database.

The database path is taken from the database section of the config file.`,
	}

	cmd.AddCommand(newDBMigrateCommand(flags))
	cmd.AddCommand(newDBSeedCommand(flags))

	return cmd
}

func newDBMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Example: `  # Create or upgrade the database
  fleetrecon db migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			// openStore migrates on open.
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database is not usable after migration: %w", err)
			}

			log.Info().Str("path", cfg.Database.Path).Msg("Database schema is up to date")
			return nil
		},
	}
}

func newDBSeedCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FIXTURE",
		Short: "Load deployments, VMs, instances and disks from a YAML fixture",
		Long: `Insert the records described by a YAML fixture file. Existing
deployments are reused; every VM, instance and disk in the fixture is
inserted.

Fixture format:

  deployments:
    - name: cf
      vms:
        - cid: vm-1
          agent_id: agent-1
          address: 10.0.0.11
      instances:
        - job: router
          index: 0
          vm: vm-1
          disk:
            cid: disk-1
            size: 1024`,
		Example: `  # Seed a local database
  fleetrecon db seed testdata/cf.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			fixture, err := stores.LoadFixture(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Seed(ctx, fixture)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d deployment(s), %d vm(s), %d instance(s), %d disk(s)\n",
				result.Deployments, result.VMs, result.Instances, result.Disks)
			return nil
		},
	}
}
