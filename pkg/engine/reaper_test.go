package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestReapOrphanVMs(t *testing.T) {
	store := newMemStore()
	store.addVM(VMRecord{ID: 1, CID: "vm-owned", AgentID: "a1", DeploymentID: 1, InstanceID: idPtr(InstanceID(1))})
	store.addVM(VMRecord{ID: 2, CID: "vm-orphan-a", AgentID: "a2", DeploymentID: 1})
	store.addVM(VMRecord{ID: 3, CID: "vm-orphan-b", AgentID: "a3", DeploymentID: 1})
	store.addVM(VMRecord{ID: 4, CID: "vm-other-deployment", AgentID: "a4", DeploymentID: 2})
	scheduler := newFakeScheduler()

	reaper := NewReaper(testPlan(), store, scheduler)
	reaped, err := reaper.ReapOrphanVMs(context.Background())
	if err != nil {
		t.Fatalf("ReapOrphanVMs() error = %v", err)
	}

	want := []string{"vm-orphan-a", "vm-orphan-b"}
	if !reflect.DeepEqual(scheduler.order, want) {
		t.Fatalf("scheduled = %v, want %v", scheduler.order, want)
	}
	if len(reaped) != 2 {
		t.Fatalf("reaped %d vms, want 2", len(reaped))
	}

	// Running again is a no-op for the scheduler.
	if _, err := reaper.ReapOrphanVMs(context.Background()); err != nil {
		t.Fatalf("second ReapOrphanVMs() error = %v", err)
	}
	if !reflect.DeepEqual(scheduler.order, want) {
		t.Fatalf("scheduled after rerun = %v, want %v", scheduler.order, want)
	}
}

func TestReapOrphanVMsNoOrphans(t *testing.T) {
	store := newMemStore()
	store.addVM(VMRecord{ID: 1, CID: "vm-1", AgentID: "a1", DeploymentID: 1, InstanceID: idPtr(InstanceID(1))})
	scheduler := newFakeScheduler()

	reaped, err := NewReaper(testPlan(), store, scheduler).ReapOrphanVMs(context.Background())
	if err != nil {
		t.Fatalf("ReapOrphanVMs() error = %v", err)
	}
	if len(reaped) != 0 || len(scheduler.order) != 0 {
		t.Fatalf("reaped %v, scheduled %v; want nothing", reaped, scheduler.order)
	}
}

func TestReapOrphanVMsSchedulerError(t *testing.T) {
	store := newMemStore()
	store.addVM(VMRecord{ID: 1, CID: "vm-1", AgentID: "a1", DeploymentID: 1})
	scheduler := newFakeScheduler()
	scheduler.err = errBoom

	_, err := NewReaper(testPlan(), store, scheduler).ReapOrphanVMs(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("ReapOrphanVMs() error = %v, want %v", err, errBoom)
	}
}

func TestReapOrphanVMsListError(t *testing.T) {
	store := newMemStore()
	store.listErr = errBoom

	if _, err := NewReaper(testPlan(), store, newFakeScheduler()).ReapOrphanVMs(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("ReapOrphanVMs() error = %v, want %v", err, errBoom)
	}
}
