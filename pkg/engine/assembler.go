package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// DefaultLockTimeout bounds how long the release binding lock is held when
// the plan sets no timeout.
const DefaultLockTimeout = 5 * time.Minute

// Dependencies are the collaborators the Assembler sequences.
type Dependencies struct {
	Gateway   AgentGateway
	Store     RecordStore
	Scheduler DeletionScheduler

	// Locks guards release binding. When nil the step runs unlocked.
	Locks LockManager

	// ReleaseBinding runs under the deployment's release lock, before orphan
	// VMs are reaped. Optional.
	ReleaseBinding BindStep

	// BindSteps run in order after the current states are collected.
	BindSteps []BindStep
}

// PreparedDeployment is the result of a successful Prepare.
type PreparedDeployment struct {
	Deployment Deployment `json:"deployment"`

	// Instances are the deployment's instances after renames were applied.
	Instances []InstanceRecord `json:"instances"`

	// States maps allocated instances to their verified live state.
	States StateSet `json:"states"`

	// ReapedVMs are the orphan VMs scheduled for deletion.
	ReapedVMs []VMRecord `json:"reaped_vms,omitempty"`

	// RenamedInstances is the number of instances renamed.
	RenamedInstances int `json:"renamed_instances"`

	// CompletedSteps names the bind steps that ran, in order.
	CompletedSteps []string `json:"completed_steps,omitempty"`
}

// Assembler sequences rename recovery, release binding, orphan reaping,
// state collection and the remaining bind steps into deployment
// preparation.
type Assembler struct {
	plan      Plan
	deps      Dependencies
	collector *Collector
	reaper    *Reaper
	renames   *RenameCoordinator
	telemetry *telemetry.Telemetry
}

// NewAssembler creates an assembler for the plan.
func NewAssembler(plan Plan, deps Dependencies, opts ...Option) *Assembler {
	o := buildOptions("assembler", opts)
	return &Assembler{
		plan:      plan,
		deps:      deps,
		collector: NewCollector(plan, deps.Gateway, deps.Store, opts...),
		reaper:    NewReaper(plan, deps.Store, deps.Scheduler, opts...),
		renames:   NewRenameCoordinator(plan, deps.Store, opts...),
		telemetry: o.telemetry,
	}
}

// CollectCurrentStates delegates to the collector.
func (a *Assembler) CollectCurrentStates(ctx context.Context, instances []InstanceRecord) (StateSet, error) {
	return a.collector.CollectCurrentStates(ctx, instances)
}

// ReapOrphanVMs delegates to the reaper.
func (a *Assembler) ReapOrphanVMs(ctx context.Context) ([]VMRecord, error) {
	return a.reaper.ReapOrphanVMs(ctx)
}

// RecoverRenames delegates to the rename coordinator.
func (a *Assembler) RecoverRenames(ctx context.Context) (int, error) {
	return a.renames.RecoverRenames(ctx)
}

// RenameState reports the progress of the configured rename.
func (a *Assembler) RenameState(ctx context.Context) (RenameState, error) {
	return a.renames.State(ctx)
}

// Prepare runs the full preparation pipeline. The first error aborts it.
func (a *Assembler) Prepare(ctx context.Context) (prepared *PreparedDeployment, err error) {
	name := a.plan.Deployment.Name
	logger := a.telemetry.Logger.WithDeployment(name)
	timer := telemetry.NewTimer()

	ctx, span := a.telemetry.Tracer.StartPrepareSpan(ctx, name)
	_ = a.telemetry.Events.PublishPreparation(telemetry.EventTypePreparationStarted, name, "preparing deployment")

	defer func() {
		telemetry.EndSpan(span, err)
		status := "succeeded"
		if err != nil {
			status = "failed"
			a.telemetry.Metrics.RecordError(string(errorClass(err)), ErrorCode(err))
			_ = a.telemetry.Events.PublishPreparation(telemetry.EventTypePreparationFailed, name, err.Error())
			logger.WithError(err).Error("deployment preparation failed")
		} else {
			_ = a.telemetry.Events.PublishPreparation(telemetry.EventTypePreparationCompleted, name, "deployment prepared")
		}
		a.telemetry.Metrics.RecordPreparation(status, timer.Duration())
	}()

	prepared = &PreparedDeployment{Deployment: a.plan.Deployment}

	renamed, err := a.renames.RecoverRenames(ctx)
	if err != nil {
		return nil, err
	}
	prepared.RenamedInstances = renamed

	if a.deps.ReleaseBinding != nil {
		if err := a.bindReleases(ctx, prepared); err != nil {
			return nil, err
		}
	}

	reaped, err := a.reaper.ReapOrphanVMs(ctx)
	if err != nil {
		return nil, err
	}
	prepared.ReapedVMs = reaped

	instances, err := a.deps.Store.ListInstances(ctx, a.plan.Deployment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of deployment %s: %w", name, err)
	}
	prepared.Instances = instances

	states, err := a.collector.CollectCurrentStates(ctx, instances)
	if err != nil {
		return nil, err
	}
	prepared.States = states

	for _, step := range a.deps.BindSteps {
		logger.Debugf("running bind step %s", step.Name())
		if err := step.Bind(ctx, prepared); err != nil {
			return nil, err
		}
		prepared.CompletedSteps = append(prepared.CompletedSteps, step.Name())
	}

	logger.Infof("deployment prepared: %d states, %d orphan vms, %d renamed instances",
		len(prepared.States), len(prepared.ReapedVMs), prepared.RenamedInstances)

	return prepared, nil
}

// bindReleases runs the release binding step under the deployment's
// release lock.
func (a *Assembler) bindReleases(ctx context.Context, prepared *PreparedDeployment) error {
	step := a.deps.ReleaseBinding
	run := func(ctx context.Context) error {
		if err := step.Bind(ctx, prepared); err != nil {
			return err
		}
		prepared.CompletedSteps = append(prepared.CompletedSteps, step.Name())
		return nil
	}

	if a.deps.Locks == nil {
		return run(ctx)
	}

	ttl := a.plan.LockTimeout
	if ttl <= 0 {
		ttl = DefaultLockTimeout
	}
	return a.deps.Locks.WithLock(ctx, ReleaseLockName(a.plan.Deployment.Name), ttl, run)
}

// ReleaseLockName is the lock held while binding a deployment's releases.
func ReleaseLockName(deployment string) string {
	return fmt.Sprintf("lock:release:%s", deployment)
}

// errorClass returns the class of err, treating unclassified errors as
// permanent.
func errorClass(err error) ErrorClass {
	switch {
	case IsTransient(err):
		return ErrorClassTransient
	case IsConflict(err):
		return ErrorClassConflict
	default:
		return ErrorClassPermanent
	}
}
