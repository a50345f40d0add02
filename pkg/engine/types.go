package engine

import (
	"fmt"
	"time"
)

// DeploymentID identifies a deployment record.
type DeploymentID int64

// VMID identifies a VM record.
type VMID int64

// InstanceID identifies an instance record.
type InstanceID int64

// DiskID identifies a persistent disk record.
type DiskID int64

// Deployment is a named set of job instances managed together.
type Deployment struct {
	// ID is the database identifier of the deployment.
	ID DeploymentID `json:"id"`

	// Name is the unique deployment name reported back by every agent.
	Name string `json:"name"`
}

// VMRecord represents a provisioned virtual machine as the database knows it.
type VMRecord struct {
	// ID is the database identifier of the VM.
	ID VMID `json:"id"`

	// CID is the infrastructure identifier assigned by the cloud.
	CID string `json:"cid"`

	// AgentID identifies the agent running on the VM.
	AgentID string `json:"agent_id"`

	// DeploymentID is the deployment that owns the VM.
	DeploymentID DeploymentID `json:"deployment_id"`

	// ApplySpec is the last state applied to the VM. Nil when the record
	// predates apply spec tracking.
	ApplySpec ReportedState `json:"apply_spec,omitempty"`

	// InstanceID references the owning instance, if any.
	InstanceID *InstanceID `json:"instance_id,omitempty"`

	// Address is the host the SSH gateway dials. Empty when agents are
	// reached over the message bus.
	Address string `json:"address,omitempty"`
}

// HasOwner reports whether the VM is bound to an instance.
func (v VMRecord) HasOwner() bool {
	return v.InstanceID != nil
}

// String returns a short identity used in logs and error messages.
func (v VMRecord) String() string {
	return fmt.Sprintf("vm %s (agent %s)", v.CID, v.AgentID)
}

// InstanceRecord represents a logical job instance within a deployment.
type InstanceRecord struct {
	// ID is the database identifier of the instance.
	ID InstanceID `json:"id"`

	// Job is the job name.
	Job string `json:"job"`

	// Index is the instance index within the job.
	Index int `json:"index"`

	// DeploymentID is the deployment that owns the instance.
	DeploymentID DeploymentID `json:"deployment_id"`

	// VMID references the VM allocated to the instance, if any.
	VMID *VMID `json:"vm_id,omitempty"`

	// DiskID references the active persistent disk, if any.
	DiskID *DiskID `json:"disk_id,omitempty"`
}

// String returns the job/index form of the instance.
func (i InstanceRecord) String() string {
	return fmt.Sprintf("%s/%d", i.Job, i.Index)
}

// PersistentDisk represents a persistent disk attached to an instance.
type PersistentDisk struct {
	ID         DiskID     `json:"id"`
	InstanceID InstanceID `json:"instance_id"`
	DiskCID    string     `json:"disk_cid"`

	// Size is the disk size in MiB. Zero marks a legacy record whose size
	// was never tracked.
	Size int `json:"size"`

	Active bool `json:"active"`
}

// RenameIntent describes an operator-requested job rename.
type RenameIntent struct {
	// OldName is the job name being renamed.
	OldName string `json:"old_name"`

	// NewName is the job name after the rename.
	NewName string `json:"new_name"`

	// Force authorizes completing a previously interrupted rename.
	Force bool `json:"force"`
}

// Active reports whether a rename has been requested.
func (r RenameIntent) Active() bool {
	return r.OldName != "" && r.NewName != ""
}

// Explains reports whether a reported job name mismatch is the footprint of
// this rename: the agent still reports the old name while the database
// already carries the new one.
func (r RenameIntent) Explains(reportedJob, recordedJob string) bool {
	return r.Active() && reportedJob == r.OldName && recordedJob == r.NewName
}

// FailurePolicy controls how the collector treats per-instance failures.
type FailurePolicy string

const (
	// FailurePolicyOmit drops failed instances from the collected states.
	FailurePolicyOmit FailurePolicy = "omit"

	// FailurePolicyAbort fails the whole collection once all in-flight
	// fetches have finished.
	FailurePolicyAbort FailurePolicy = "abort"
)

// DefaultMaxThreads bounds concurrent agent fetches when no limit is set.
const DefaultMaxThreads = 32

// Plan carries the deployment-wide settings every component is built with.
type Plan struct {
	// Deployment is the deployment being prepared.
	Deployment Deployment `json:"deployment"`

	// Rename is the in-flight job rename, if any.
	Rename RenameIntent `json:"rename"`

	// MaxThreads bounds the number of concurrent agent fetches.
	MaxThreads int `json:"max_threads"`

	// FailurePolicy decides whether a failed fetch aborts collection.
	FailurePolicy FailurePolicy `json:"failure_policy"`

	// LockTimeout bounds how long named locks are held.
	LockTimeout time.Duration `json:"lock_timeout"`
}

// maxThreads returns the effective worker limit.
func (p *Plan) maxThreads() int {
	if p.MaxThreads <= 0 {
		return DefaultMaxThreads
	}
	return p.MaxThreads
}

// StateSet maps each instance to the verified state its agent reported.
type StateSet map[InstanceID]ReportedState
