package engine

import (
	"context"
	"errors"
	"testing"
)

func renameFixture() *memStore {
	store := newMemStore()
	store.addInstance(InstanceRecord{ID: 1, Job: "old", Index: 0, DeploymentID: 1})
	store.addInstance(InstanceRecord{ID: 2, Job: "old", Index: 1, DeploymentID: 1})
	store.addInstance(InstanceRecord{ID: 3, Job: "db", Index: 0, DeploymentID: 1})
	store.addInstance(InstanceRecord{ID: 4, Job: "old", Index: 0, DeploymentID: 2})
	return store
}

func TestRecoverRenames(t *testing.T) {
	store := renameFixture()
	plan := testPlan()
	plan.Rename = RenameIntent{OldName: "old", NewName: "new"}

	r := NewRenameCoordinator(plan, store)

	state, err := r.State(context.Background())
	if err != nil || state != RenameRequested {
		t.Fatalf("State() = %v, %v; want %v", state, err, RenameRequested)
	}

	n, err := r.RecoverRenames(context.Background())
	if err != nil {
		t.Fatalf("RecoverRenames() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("renamed %d instances, want 2", n)
	}

	wantJobs := map[InstanceID]string{1: "new", 2: "new", 3: "db", 4: "old"}
	for id, want := range wantJobs {
		if got := store.instance(id).Job; got != want {
			t.Errorf("instance %d job = %q, want %q", id, got, want)
		}
	}

	state, err = r.State(context.Background())
	if err != nil || state != RenameApplied {
		t.Fatalf("State() after recovery = %v, %v; want %v", state, err, RenameApplied)
	}

	// Already renamed instances no longer match.
	n, err = r.RecoverRenames(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second RecoverRenames() = %d, %v; want 0, nil", n, err)
	}
	if store.jobWrites != 2 {
		t.Fatalf("job writes = %d, want 2", store.jobWrites)
	}
}

func TestRecoverRenamesWithoutIntent(t *testing.T) {
	store := renameFixture()
	r := NewRenameCoordinator(testPlan(), store)

	n, err := r.RecoverRenames(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("RecoverRenames() = %d, %v; want 0, nil", n, err)
	}
	if store.jobWrites != 0 {
		t.Fatalf("job writes = %d, want 0", store.jobWrites)
	}
	if state, _ := r.State(context.Background()); state != RenameNotRenaming {
		t.Fatalf("State() = %v, want %v", state, RenameNotRenaming)
	}
}

func TestRecoverRenamesPartialFailure(t *testing.T) {
	store := renameFixture()
	store.updateJobErr[2] = errBoom
	plan := testPlan()
	plan.Rename = RenameIntent{OldName: "old", NewName: "new"}

	r := NewRenameCoordinator(plan, store)
	n, err := r.RecoverRenames(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("RecoverRenames() error = %v, want %v", err, errBoom)
	}
	if n != 1 {
		t.Fatalf("renamed %d before failing, want 1", n)
	}

	// A rerun after the crash picks up where it stopped.
	delete(store.updateJobErr, 2)
	n, err = r.RecoverRenames(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("rerun RecoverRenames() = %d, %v; want 1, nil", n, err)
	}
}

func TestRenameStateString(t *testing.T) {
	tests := map[RenameState]string{
		RenameNotRenaming: "not_renaming",
		RenameRequested:   "rename_requested",
		RenameApplied:     "rename_applied",
		RenameState(42):   "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
