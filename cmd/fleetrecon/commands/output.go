package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// writeOutput encodes v as JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (use json or yaml)", format)
	}
}

// namedStates keys collected states by the instance's job/index name.
func namedStates(instances []engine.InstanceRecord, states engine.StateSet) map[string]engine.ReportedState {
	out := make(map[string]engine.ReportedState, len(states))
	for _, inst := range instances {
		if state, ok := states[inst.ID]; ok {
			out[inst.String()] = state
		}
	}
	return out
}

// missingInstances lists allocated instances with no collected state.
func missingInstances(instances []engine.InstanceRecord, states engine.StateSet) []string {
	var missing []string
	for _, inst := range instances {
		if inst.VMID == nil {
			continue
		}
		if _, ok := states[inst.ID]; !ok {
			missing = append(missing, inst.String())
		}
	}
	sort.Strings(missing)
	return missing
}

// preparedOutput is the printed form of a prepared deployment.
type preparedOutput struct {
	Deployment       string                          `json:"deployment" yaml:"deployment"`
	RenamedInstances int                             `json:"renamed_instances" yaml:"renamed_instances"`
	ReapedVMs        []string                        `json:"reaped_vms" yaml:"reaped_vms"`
	States           map[string]engine.ReportedState `json:"states" yaml:"states"`
	CompletedSteps   []string                        `json:"completed_steps,omitempty" yaml:"completed_steps,omitempty"`
}

func vmCIDs(prepared *engine.PreparedDeployment) []string {
	cids := make([]string, len(prepared.ReapedVMs))
	for i, vm := range prepared.ReapedVMs {
		cids[i] = vm.CID
	}
	return cids
}
