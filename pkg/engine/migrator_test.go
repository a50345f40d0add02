package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func legacyFixture() (*memStore, VMRecord, InstanceRecord) {
	store := newMemStore()
	vm := VMRecord{ID: 1, CID: "vm-1", AgentID: "agent-1", DeploymentID: 1, InstanceID: idPtr(InstanceID(1))}
	inst := InstanceRecord{ID: 1, Job: "db", Index: 0, DeploymentID: 1, VMID: idPtr(VMID(1)), DiskID: idPtr(DiskID(7))}
	store.addVM(vm)
	store.addInstance(inst)
	store.addDisk(PersistentDisk{ID: 7, InstanceID: 1, DiskCID: "disk-7", Size: 0, Active: true})
	return store, vm, inst
}

func legacyState() ReportedState {
	return ReportedState{
		"deployment":      "cf",
		"job":             map[string]any{"name": "db", "release": "cf"},
		"index":           0,
		"persistent_disk": 4096,
		"release":         map[string]any{"name": "cf", "version": "42"},
	}
}

func TestMigrateBackfillsApplySpec(t *testing.T) {
	store, vm, inst := legacyFixture()
	m := NewMigrator(store)

	out, err := m.MigrateLegacyState(context.Background(), &vm, &inst, legacyState())
	if err != nil {
		t.Fatalf("MigrateLegacyState() error = %v", err)
	}

	stored := store.vm(1)
	if stored.ApplySpec == nil {
		t.Fatal("apply spec was not persisted")
	}
	if !stored.ApplySpec.HasRelease() {
		t.Error("persisted apply spec should keep the full reported state")
	}
	if vm.ApplySpec == nil {
		t.Error("caller's VM record should see the backfilled apply spec")
	}
	if out.HasRelease() {
		t.Errorf("returned state still carries a release: %v", out)
	}
}

func TestMigrateKeepsExistingApplySpec(t *testing.T) {
	store, vm, inst := legacyFixture()
	vm.ApplySpec = ReportedState{"deployment": "cf", "marker": true}

	if _, err := NewMigrator(store).MigrateLegacyState(context.Background(), &vm, &inst, legacyState()); err != nil {
		t.Fatalf("MigrateLegacyState() error = %v", err)
	}
	if store.applySpecWrites != 0 {
		t.Fatalf("apply spec written %d times, want 0", store.applySpecWrites)
	}
	if vm.ApplySpec["marker"] != true {
		t.Error("existing apply spec was replaced")
	}
}

func TestMigrateDiskSize(t *testing.T) {
	tests := []struct {
		name      string
		diskSize  int
		reported  any
		noDisk    bool
		wantSize  int
		wantWrite bool
	}{
		{name: "legacy zero size is backfilled", diskSize: 0, reported: 4096, wantSize: 4096, wantWrite: true},
		{name: "recorded size is never overwritten", diskSize: 1024, reported: 4096, wantSize: 1024},
		{name: "recorded size is never shrunk", diskSize: 8192, reported: 4096, wantSize: 8192},
		{name: "zero reported size is ignored", diskSize: 0, reported: 0, wantSize: 0},
		{name: "missing reported size is ignored", diskSize: 0, reported: nil, wantSize: 0},
		{name: "instance without disk", noDisk: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, vm, inst := legacyFixture()
			store.addDisk(PersistentDisk{ID: 7, InstanceID: 1, DiskCID: "disk-7", Size: tt.diskSize, Active: true})
			if tt.noDisk {
				inst.DiskID = nil
			}

			state := legacyState()
			if tt.reported == nil {
				delete(state, StateKeyPersistentDisk)
			} else {
				state[StateKeyPersistentDisk] = tt.reported
			}

			if _, err := NewMigrator(store).MigrateLegacyState(context.Background(), &vm, &inst, state); err != nil {
				t.Fatalf("MigrateLegacyState() error = %v", err)
			}

			if tt.noDisk {
				if store.diskWrites != 0 {
					t.Fatalf("disk written %d times for an instance without disk", store.diskWrites)
				}
				return
			}
			if got := store.disk(7).Size; got != tt.wantSize {
				t.Errorf("disk size = %d, want %d", got, tt.wantSize)
			}
			if (store.diskWrites > 0) != tt.wantWrite {
				t.Errorf("disk writes = %d, want write %v", store.diskWrites, tt.wantWrite)
			}
		})
	}
}

func TestMigrateUnownedVMSkipsDisk(t *testing.T) {
	store, vm, _ := legacyFixture()
	vm.InstanceID = nil

	if _, err := NewMigrator(store).MigrateLegacyState(context.Background(), &vm, nil, legacyState()); err != nil {
		t.Fatalf("MigrateLegacyState() error = %v", err)
	}
	if store.diskWrites != 0 {
		t.Fatalf("disk written for an unowned VM")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()

	once, vmOnce, instOnce := legacyFixture()
	outOnce, err := NewMigrator(once).MigrateLegacyState(ctx, &vmOnce, &instOnce, legacyState())
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}

	twice, vmTwice, instTwice := legacyFixture()
	m := NewMigrator(twice)
	if _, err := m.MigrateLegacyState(ctx, &vmTwice, &instTwice, legacyState()); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	writes := twice.applySpecWrites + twice.diskWrites

	// A fresh load of the VM, as the next collection would see it.
	reloaded := twice.vm(1)
	outTwice, err := m.MigrateLegacyState(ctx, &reloaded, &instTwice, legacyState())
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if twice.applySpecWrites+twice.diskWrites != writes {
		t.Errorf("second run wrote records: %d writes before, %d after", writes, twice.applySpecWrites+twice.diskWrites)
	}
	if !reflect.DeepEqual(once.vm(1), twice.vm(1)) {
		t.Errorf("vm records differ:\n once  %+v\n twice %+v", once.vm(1), twice.vm(1))
	}
	if !reflect.DeepEqual(once.disk(7), twice.disk(7)) {
		t.Errorf("disk records differ:\n once  %+v\n twice %+v", once.disk(7), twice.disk(7))
	}
	if !reflect.DeepEqual(outOnce, outTwice) {
		t.Errorf("returned states differ:\n once  %v\n twice %v", outOnce, outTwice)
	}
}

func TestMigrateStoreErrors(t *testing.T) {
	store, vm, inst := legacyFixture()
	vm.ID = 99 // not in the store

	_, err := NewMigrator(store).MigrateLegacyState(context.Background(), &vm, &inst, legacyState())
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("MigrateLegacyState() error = %v, want ErrRecordNotFound", err)
	}
}
