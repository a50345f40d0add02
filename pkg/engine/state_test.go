package engine

import (
	"bytes"
	"encoding/json"
	"testing"
)

// decodeJSON decodes a document the way the agent gateways do.
func decodeJSON(t *testing.T, doc string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(doc))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", doc, err)
	}
	return out
}

func TestReportedStateAccessors(t *testing.T) {
	state := ReportedState(decodeJSON(t, `{
		"deployment": "cf",
		"job": {"name": "router", "release": {"name": "cf", "version": "1"}},
		"index": 3,
		"persistent_disk": 2048,
		"release": {"name": "cf"}
	}`))

	if got := state.Deployment(); got != "cf" {
		t.Errorf("Deployment() = %q, want cf", got)
	}
	if job, ok := state.JobName(); !ok || job != "router" {
		t.Errorf("JobName() = %q, %v, want router, true", job, ok)
	}
	if got := state.Index(); got != 3 {
		t.Errorf("Index() = %d, want 3", got)
	}
	if got := state.PersistentDiskSize(); got != 2048 {
		t.Errorf("PersistentDiskSize() = %d, want 2048", got)
	}
	if !state.HasRelease() {
		t.Error("HasRelease() = false, want true")
	}
}

func TestReportedStateMissingFields(t *testing.T) {
	state := ReportedState{"deployment": "cf"}

	if _, ok := state.JobName(); ok {
		t.Error("JobName() reported a job for a state without one")
	}
	if got := state.Index(); got != -1 {
		t.Errorf("Index() = %d, want -1", got)
	}
	if got := state.PersistentDiskSize(); got != 0 {
		t.Errorf("PersistentDiskSize() = %d, want 0", got)
	}
	if state.HasRelease() {
		t.Error("HasRelease() = true, want false")
	}

	state["job"] = map[string]any{"name": ""}
	if _, ok := state.JobName(); ok {
		t.Error("empty job name should not count as declared")
	}
}

func TestWithoutReleaseDoesNotMutate(t *testing.T) {
	job := map[string]any{"name": "web", "release": "cf/1"}
	state := ReportedState{
		"deployment": "cf",
		"job":        job,
		"release":    map[string]any{"name": "cf"},
	}

	stripped := state.WithoutRelease()

	if stripped.HasRelease() {
		t.Fatalf("WithoutRelease() left a release: %v", stripped)
	}
	if _, ok := state["release"]; !ok {
		t.Error("receiver lost its top-level release")
	}
	if _, ok := job["release"]; !ok {
		t.Error("receiver's job lost its release")
	}
	if name, _ := stripped.JobName(); name != "web" {
		t.Errorf("stripped JobName() = %q, want web", name)
	}
}

func TestReportedStateIndexRejectsFractions(t *testing.T) {
	tests := []struct {
		name  string
		index any
		want  int
	}{
		{name: "number", index: json.Number("2"), want: 2},
		{name: "integral float", index: float64(2), want: 2},
		{name: "fractional number", index: json.Number("1.9"), want: -1},
		{name: "exponent number", index: json.Number("1e0"), want: -1},
		{name: "fractional float", index: 1.5, want: -1},
		{name: "string", index: "1", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := ReportedState{"index": tt.index, "persistent_disk": tt.index}
			if got := state.Index(); got != tt.want {
				t.Errorf("Index() = %d, want %d", got, tt.want)
			}
			wantSize := tt.want
			if wantSize < 0 {
				wantSize = 0
			}
			if got := state.PersistentDiskSize(); got != wantSize {
				t.Errorf("PersistentDiskSize() = %d, want %d", got, wantSize)
			}
		})
	}
}
