package stores

import (
	"time"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist. It is the
// engine's ErrRecordNotFound so callers can match either.
var ErrNotFound = engine.ErrRecordNotFound

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Deletion is a VM waiting for asynchronous deletion.
type Deletion struct {
	ID          int64       `json:"id"`
	VMID        engine.VMID `json:"vm_id"`
	CID         string      `json:"cid"`
	ScheduledAt time.Time   `json:"scheduled_at"`
}

// LockInfo describes a held named lock.
type LockInfo struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"` // e.g., "vm.scheduled_for_deletion", "instance.renamed"
	Actor      string    `json:"actor"`
	Deployment string    `json:"deployment,omitempty"`
	TargetID   *string   `json:"target_id,omitempty"`
	Details    *string   `json:"details,omitempty"` // JSON blob
	Timestamp  time.Time `json:"timestamp"`
}

// Fixture is a set of records loaded by Seed, usually from YAML.
type Fixture struct {
	Deployments []DeploymentFixture `yaml:"deployments"`
}

// DeploymentFixture describes one deployment with its VMs and instances.
type DeploymentFixture struct {
	Name      string            `yaml:"name"`
	VMs       []VMFixture       `yaml:"vms"`
	Instances []InstanceFixture `yaml:"instances"`
}

// VMFixture describes a VM. ApplySpec may be omitted to model a legacy record.
type VMFixture struct {
	CID       string         `yaml:"cid"`
	AgentID   string         `yaml:"agent_id"`
	Address   string         `yaml:"address"`
	ApplySpec map[string]any `yaml:"apply_spec"`
}

// InstanceFixture describes an instance, the CID of its VM and its disk.
type InstanceFixture struct {
	Job   string       `yaml:"job"`
	Index int          `yaml:"index"`
	VM    string       `yaml:"vm"`
	Disk  *DiskFixture `yaml:"disk"`
}

// DiskFixture describes a persistent disk. A zero size models a legacy record.
type DiskFixture struct {
	CID  string `yaml:"cid"`
	Size int    `yaml:"size"`
}
