package engine

import (
	"context"
	"fmt"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Reaper schedules VMs that no instance owns for deletion. Such VMs predate
// network reservation tracking, so no reservations are released for them.
type Reaper struct {
	plan      Plan
	store     RecordStore
	scheduler DeletionScheduler
	telemetry *telemetry.Telemetry
}

// NewReaper creates a reaper for the plan's deployment.
func NewReaper(plan Plan, store RecordStore, scheduler DeletionScheduler, opts ...Option) *Reaper {
	o := buildOptions("reaper", opts)
	return &Reaper{
		plan:      plan,
		store:     store,
		scheduler: scheduler,
		telemetry: o.telemetry,
	}
}

// ReapOrphanVMs schedules every VM of the deployment without an owning
// instance for deletion and returns them. Running it again schedules the
// same VMs again, which the scheduler treats as a no-op.
func (r *Reaper) ReapOrphanVMs(ctx context.Context) ([]VMRecord, error) {
	vms, err := r.store.ListVMs(ctx, r.plan.Deployment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms of deployment %s: %w", r.plan.Deployment.Name, err)
	}

	var reaped []VMRecord
	for _, vm := range vms {
		if vm.HasOwner() {
			continue
		}

		r.telemetry.Logger.WithVM(vm.CID, vm.AgentID).Info("scheduling orphan vm for deletion")
		if err := r.scheduler.ScheduleForDeletion(ctx, vm); err != nil {
			return reaped, fmt.Errorf("failed to schedule %s for deletion: %w", vm, err)
		}
		_ = r.telemetry.Events.PublishVMScheduledForDeletion(r.plan.Deployment.Name, vm.CID)
		reaped = append(reaped, vm)
	}

	r.telemetry.Metrics.RecordOrphanVMsScheduled(len(reaped))
	return reaped, nil
}
