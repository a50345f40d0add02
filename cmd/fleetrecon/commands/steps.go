package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// releaseInventoryStep is the release binding run under the deployment's
// release lock. It reports which recorded VMs still carry release
// information in their apply spec; the update itself owns the actual
// binding.
type releaseInventoryStep struct {
	store engine.RecordStore
}

func (s releaseInventoryStep) Name() string { return "release_inventory" }

func (s releaseInventoryStep) Bind(ctx context.Context, prepared *engine.PreparedDeployment) error {
	vms, err := s.store.ListVMs(ctx, prepared.Deployment.ID)
	if err != nil {
		return fmt.Errorf("failed to list vms of deployment %s: %w", prepared.Deployment.Name, err)
	}

	withRelease, withoutSpec := 0, 0
	for _, vm := range vms {
		switch {
		case vm.ApplySpec == nil:
			withoutSpec++
		case vm.ApplySpec.HasRelease():
			withRelease++
		}
	}

	log.Debug().
		Str("deployment", prepared.Deployment.Name).
		Int("vms", len(vms)).
		Int("with_release", withRelease).
		Int("without_apply_spec", withoutSpec).
		Msg("Release inventory")
	return nil
}
