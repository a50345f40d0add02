package engine

import (
	"context"
	"fmt"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// RenameState is the progress of a job rename across the deployment.
type RenameState int

const (
	// RenameNotRenaming means no rename intent is configured.
	RenameNotRenaming RenameState = iota

	// RenameRequested means some instances still carry the old job name.
	RenameRequested

	// RenameApplied means no instance carries the old job name.
	RenameApplied
)

// String returns the string representation of the rename state.
func (s RenameState) String() string {
	switch s {
	case RenameNotRenaming:
		return "not_renaming"
	case RenameRequested:
		return "rename_requested"
	case RenameApplied:
		return "rename_applied"
	default:
		return "unknown"
	}
}

// RenameCoordinator applies an operator-requested job rename to the
// instance records. It can be rerun after a crash: instances that were
// already renamed no longer match the old name.
type RenameCoordinator struct {
	plan      Plan
	store     RecordStore
	telemetry *telemetry.Telemetry
}

// NewRenameCoordinator creates a coordinator for the plan's rename intent.
func NewRenameCoordinator(plan Plan, store RecordStore, opts ...Option) *RenameCoordinator {
	o := buildOptions("rename", opts)
	return &RenameCoordinator{
		plan:      plan,
		store:     store,
		telemetry: o.telemetry,
	}
}

// State reports how far the configured rename has progressed.
func (r *RenameCoordinator) State(ctx context.Context) (RenameState, error) {
	if !r.plan.Rename.Active() {
		return RenameNotRenaming, nil
	}

	instances, err := r.store.ListInstances(ctx, r.plan.Deployment.ID)
	if err != nil {
		return RenameNotRenaming, fmt.Errorf("failed to list instances of deployment %s: %w", r.plan.Deployment.Name, err)
	}
	for _, inst := range instances {
		if inst.Job == r.plan.Rename.OldName {
			return RenameRequested, nil
		}
	}
	return RenameApplied, nil
}

// RecoverRenames renames every instance whose job equals the intent's old
// name and returns how many were updated. It does nothing when no rename
// is configured.
func (r *RenameCoordinator) RecoverRenames(ctx context.Context) (int, error) {
	intent := r.plan.Rename
	if !intent.Active() {
		return 0, nil
	}

	instances, err := r.store.ListInstances(ctx, r.plan.Deployment.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list instances of deployment %s: %w", r.plan.Deployment.Name, err)
	}

	renamed := 0
	for _, inst := range instances {
		if inst.Job != intent.OldName {
			continue
		}

		if err := r.store.UpdateInstanceJob(ctx, inst.ID, intent.NewName); err != nil {
			r.telemetry.Metrics.RecordInstanceRenames(renamed)
			return renamed, fmt.Errorf("failed to rename instance %s to %s: %w", inst, intent.NewName, err)
		}
		renamed++

		r.telemetry.Logger.WithInstance(inst.String()).Infof("renamed job %s to %s", intent.OldName, intent.NewName)
		_ = r.telemetry.Events.PublishInstanceRenamed(r.plan.Deployment.Name, inst.String(), intent.OldName, intent.NewName)
	}

	r.telemetry.Metrics.RecordInstanceRenames(renamed)
	return renamed, nil
}
