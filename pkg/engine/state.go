package engine

import (
	"encoding/json"
	"math"
	"strconv"
)

// Keys of the state document exchanged with agents.
const (
	StateKeyDeployment     = "deployment"
	StateKeyJob            = "job"
	StateKeyJobName        = "name"
	StateKeyIndex          = "index"
	StateKeyPersistentDisk = "persistent_disk"
	StateKeyRelease        = "release"
)

// ReportedState is the state document an agent reports for its VM. It is
// kept as a generic mapping so fields the core does not interpret survive
// untouched.
type ReportedState map[string]any

// asReportedState returns raw as a ReportedState when it is a mapping.
func asReportedState(raw any) (ReportedState, bool) {
	switch v := raw.(type) {
	case ReportedState:
		return v, v != nil
	case map[string]any:
		return ReportedState(v), v != nil
	default:
		return nil, false
	}
}

// Deployment returns the reported deployment name.
func (s ReportedState) Deployment() string {
	name, _ := s[StateKeyDeployment].(string)
	return name
}

// job returns the nested job descriptor, if present.
func (s ReportedState) job() (map[string]any, bool) {
	switch j := s[StateKeyJob].(type) {
	case map[string]any:
		return j, true
	case ReportedState:
		return j, true
	default:
		return nil, false
	}
}

// JobName returns the reported job name and whether one was declared.
func (s ReportedState) JobName() (string, bool) {
	job, ok := s.job()
	if !ok {
		return "", false
	}
	name, ok := job[StateKeyJobName].(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Index returns the reported instance index. A missing or malformed index
// is reported as -1.
func (s ReportedState) Index() int {
	n, ok := toInt(s[StateKeyIndex])
	if !ok {
		return -1
	}
	return n
}

// PersistentDiskSize returns the reported persistent disk size in MiB, or
// zero when none is reported.
func (s ReportedState) PersistentDiskSize() int {
	n, ok := toInt(s[StateKeyPersistentDisk])
	if !ok || n < 0 {
		return 0
	}
	return n
}

// HasRelease reports whether a release descriptor is present at the top
// level or inside the job descriptor.
func (s ReportedState) HasRelease() bool {
	if _, ok := s[StateKeyRelease]; ok {
		return true
	}
	if job, ok := s.job(); ok {
		if _, ok := job[StateKeyRelease]; ok {
			return true
		}
	}
	return false
}

// WithoutRelease returns a copy of the state with the release descriptor
// removed from the top level and from the job descriptor. The receiver is
// not modified.
func (s ReportedState) WithoutRelease() ReportedState {
	out := make(ReportedState, len(s))
	for k, v := range s {
		if k == StateKeyRelease {
			continue
		}
		out[k] = v
	}

	if job, ok := s.job(); ok {
		stripped := make(map[string]any, len(job))
		for k, v := range job {
			if k == StateKeyRelease {
				continue
			}
			stripped[k] = v
		}
		out[StateKeyJob] = stripped
	}

	return out
}

// Clone returns a shallow copy of the state.
func (s ReportedState) Clone() ReportedState {
	if s == nil {
		return nil
	}
	out := make(ReportedState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// toInt converts a decoded JSON number to an int. Fractional values are
// rejected rather than truncated.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
