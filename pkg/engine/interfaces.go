package engine

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by a RecordStore when a referenced record
// does not exist.
var ErrRecordNotFound = errors.New("record not found")

// AgentGateway fetches the live state of a VM from its agent.
// Implementations own per-call timeouts; the engine never retries.
type AgentGateway interface {
	// FetchState returns the raw state document the agent reports. The value
	// is usually a map[string]any but is not checked by the gateway.
	// Transport failures should be returned as errors created with
	// NewAgentTransportError.
	FetchState(ctx context.Context, vm VMRecord) (any, error)
}

// DeletionScheduler marks VMs for asynchronous deletion.
type DeletionScheduler interface {
	// ScheduleForDeletion marks the VM for deletion. Scheduling a VM that is
	// already scheduled is not an error.
	ScheduleForDeletion(ctx context.Context, vm VMRecord) error
}

// LockManager provides scoped mutual exclusion over named resources.
type LockManager interface {
	// WithLock acquires the named lock for at most ttl, runs fn and releases
	// the lock. A lock held by someone else yields a conflict error.
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// RecordStore resolves and updates the persisted VM, instance and disk
// records. Lookups of missing records return ErrRecordNotFound.
type RecordStore interface {
	// ListInstances returns every instance of the deployment.
	ListInstances(ctx context.Context, deployment DeploymentID) ([]InstanceRecord, error)

	// ListVMs returns every VM of the deployment.
	ListVMs(ctx context.Context, deployment DeploymentID) ([]VMRecord, error)

	// GetVM returns a VM by identifier.
	GetVM(ctx context.Context, id VMID) (*VMRecord, error)

	// GetInstance returns an instance by identifier.
	GetInstance(ctx context.Context, id InstanceID) (*InstanceRecord, error)

	// GetDisk returns a persistent disk by identifier.
	GetDisk(ctx context.Context, id DiskID) (*PersistentDisk, error)

	// UpdateVMApplySpec persists spec as the VM's apply spec.
	UpdateVMApplySpec(ctx context.Context, id VMID, spec ReportedState) error

	// BackfillDiskSize sets the disk size only if the recorded size is zero.
	// It reports whether the record was changed.
	BackfillDiskSize(ctx context.Context, id DiskID, size int) (bool, error)

	// UpdateInstanceJob sets the job name of an instance.
	UpdateInstanceJob(ctx context.Context, id InstanceID, job string) error
}

// BindStep is a delegated preparation step run by the Assembler, such as
// release, template, property, stemcell, DNS or link binding.
type BindStep interface {
	// Name identifies the step in logs and errors.
	Name() string

	// Bind performs the step. Errors propagate unchanged.
	Bind(ctx context.Context, prepared *PreparedDeployment) error
}

// BindFunc adapts a function to the BindStep interface.
type BindFunc struct {
	StepName string
	Fn       func(ctx context.Context, prepared *PreparedDeployment) error
}

// Name implements BindStep.
func (b BindFunc) Name() string { return b.StepName }

// Bind implements BindStep.
func (b BindFunc) Bind(ctx context.Context, prepared *PreparedDeployment) error {
	return b.Fn(ctx, prepared)
}
