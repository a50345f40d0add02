package stores

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	return &fixture, nil
}

// SeedResult counts the records created by Seed.
type SeedResult struct {
	Deployments int `json:"deployments" yaml:"deployments"`
	VMs         int `json:"vms" yaml:"vms"`
	Instances   int `json:"instances" yaml:"instances"`
	Disks       int `json:"disks" yaml:"disks"`
}

// Seed inserts the fixture's records. Deployments that already exist are
// reused; VMs and instances are always inserted.
func (s *SQLiteStore) Seed(ctx context.Context, fixture *Fixture) (*SeedResult, error) {
	result := &SeedResult{}

	for _, df := range fixture.Deployments {
		deployment, err := s.GetDeploymentByName(ctx, df.Name)
		if errors.Is(err, ErrNotFound) {
			deployment, err = s.CreateDeployment(ctx, df.Name)
			if err == nil {
				result.Deployments++
			}
		}
		if err != nil {
			return result, err
		}

		vmIDs := make(map[string]engine.VMID, len(df.VMs))
		for _, vf := range df.VMs {
			vm := &engine.VMRecord{
				CID:          vf.CID,
				AgentID:      vf.AgentID,
				Address:      vf.Address,
				DeploymentID: deployment.ID,
			}
			if vf.ApplySpec != nil {
				vm.ApplySpec = engine.ReportedState(vf.ApplySpec)
			}
			if err := s.CreateVM(ctx, vm); err != nil {
				return result, fmt.Errorf("seed vm %s: %w", vf.CID, err)
			}
			vmIDs[vf.CID] = vm.ID
			result.VMs++
		}

		for _, inf := range df.Instances {
			inst := &engine.InstanceRecord{
				Job:          inf.Job,
				Index:        inf.Index,
				DeploymentID: deployment.ID,
			}
			if inf.VM != "" {
				id, ok := vmIDs[inf.VM]
				if !ok {
					return result, fmt.Errorf("seed instance %s: unknown vm %s", inst, inf.VM)
				}
				inst.VMID = &id
			}
			if err := s.CreateInstance(ctx, inst); err != nil {
				return result, fmt.Errorf("seed instance %s: %w", inst, err)
			}
			result.Instances++

			if inf.Disk != nil {
				disk := &engine.PersistentDisk{
					InstanceID: inst.ID,
					DiskCID:    inf.Disk.CID,
					Size:       inf.Disk.Size,
					Active:     true,
				}
				if err := s.CreateDisk(ctx, disk); err != nil {
					return result, fmt.Errorf("seed disk %s: %w", inf.Disk.CID, err)
				}
				result.Disks++
			}
		}
	}

	return result, nil
}
