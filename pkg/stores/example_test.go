package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
	"github.com/fleetrecon/fleetrecon/pkg/stores"
)

// Example_usage demonstrates wiring the store into the reaper.
func Example_usage() {
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	deployment, err := store.CreateDeployment(ctx, "cf")
	if err != nil {
		log.Fatal(err)
	}
	orphan := &engine.VMRecord{CID: "vm-orphan", AgentID: "agent-1", DeploymentID: deployment.ID}
	if err := store.CreateVM(ctx, orphan); err != nil {
		log.Fatal(err)
	}

	plan := engine.Plan{Deployment: *deployment}
	err = store.WithLock(ctx, engine.ReleaseLockName(deployment.Name), time.Minute, func(ctx context.Context) error {
		reaped, err := engine.NewReaper(plan, store, store).ReapOrphanVMs(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scheduled %d vm(s) for deletion\n", len(reaped))
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// Output:
	// scheduled 1 vm(s) for deletion
}
