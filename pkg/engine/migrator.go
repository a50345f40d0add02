package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Migrator upgrades VM and disk records written before apply specs and disk
// sizes were tracked. Every step is idempotent.
type Migrator struct {
	store     RecordStore
	telemetry *telemetry.Telemetry
}

// NewMigrator creates a migrator that persists through store.
func NewMigrator(store RecordStore, opts ...Option) *Migrator {
	o := buildOptions("migrator", opts)
	return &Migrator{
		store:     store,
		telemetry: o.telemetry,
	}
}

// MigrateLegacyState backfills the VM's apply spec and the owner's disk size
// from a verified state, then returns the state with release descriptors
// removed. vm.ApplySpec is updated in place when it is backfilled.
func (m *Migrator) MigrateLegacyState(ctx context.Context, vm *VMRecord, owner *InstanceRecord, state ReportedState) (ReportedState, error) {
	logger := m.telemetry.Logger.WithVM(vm.CID, vm.AgentID)

	if vm.ApplySpec == nil {
		spec := state.Clone()
		if err := m.store.UpdateVMApplySpec(ctx, vm.ID, spec); err != nil {
			return nil, fmt.Errorf("failed to backfill apply spec for %s: %w", vm, err)
		}
		vm.ApplySpec = spec
		logger.Debug("backfilled apply spec from reported state")
	}

	if owner != nil && owner.DiskID != nil {
		if err := m.backfillDiskSize(ctx, logger, *owner.DiskID, state.PersistentDiskSize()); err != nil {
			return nil, fmt.Errorf("failed to backfill disk size for instance %s: %w", owner, err)
		}
	}

	return state.WithoutRelease(), nil
}

func (m *Migrator) backfillDiskSize(ctx context.Context, logger *telemetry.Logger, diskID DiskID, reported int) error {
	if reported <= 0 {
		return nil
	}

	disk, err := m.store.GetDisk(ctx, diskID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if disk.Size != 0 {
		return nil
	}

	changed, err := m.store.BackfillDiskSize(ctx, disk.ID, reported)
	if err != nil {
		return err
	}
	if changed {
		logger.WithField("disk_cid", disk.DiskCID).Infof("backfilled persistent disk size to %d MiB", reported)
	}
	return nil
}
