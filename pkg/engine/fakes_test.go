package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory RecordStore for tests.
type memStore struct {
	mu        sync.Mutex
	instances map[InstanceID]*InstanceRecord
	vms       map[VMID]*VMRecord
	disks     map[DiskID]*PersistentDisk

	applySpecWrites int
	diskWrites      int
	jobWrites       int

	listErr      error
	updateJobErr map[InstanceID]error
	getVMErr     map[VMID]error
}

func newMemStore() *memStore {
	return &memStore{
		instances:    make(map[InstanceID]*InstanceRecord),
		vms:          make(map[VMID]*VMRecord),
		disks:        make(map[DiskID]*PersistentDisk),
		updateJobErr: make(map[InstanceID]error),
		getVMErr:     make(map[VMID]error),
	}
}

func (s *memStore) addInstance(inst InstanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = &inst
}

func (s *memStore) addVM(vm VMRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vms[vm.ID] = &vm
}

func (s *memStore) addDisk(disk PersistentDisk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disks[disk.ID] = &disk
}

func (s *memStore) ListInstances(ctx context.Context, deployment DeploymentID) ([]InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []InstanceRecord
	for _, inst := range s.instances {
		if inst.DeploymentID == deployment {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListVMs(ctx context.Context, deployment DeploymentID) ([]VMRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []VMRecord
	for _, vm := range s.vms {
		if vm.DeploymentID == deployment {
			out = append(out, *vm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetVM(ctx context.Context, id VMID) (*VMRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getVMErr[id]; err != nil {
		return nil, err
	}
	vm, ok := s.vms[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *vm
	return &cp, nil
}

func (s *memStore) GetInstance(ctx context.Context, id InstanceID) (*InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *memStore) GetDisk(ctx context.Context, id DiskID) (*PersistentDisk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	disk, ok := s.disks[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *disk
	return &cp, nil
}

func (s *memStore) UpdateVMApplySpec(ctx context.Context, id VMID, spec ReportedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[id]
	if !ok {
		return ErrRecordNotFound
	}
	vm.ApplySpec = spec
	s.applySpecWrites++
	return nil
}

func (s *memStore) BackfillDiskSize(ctx context.Context, id DiskID, size int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	disk, ok := s.disks[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if disk.Size != 0 {
		return false, nil
	}
	disk.Size = size
	s.diskWrites++
	return true, nil
}

func (s *memStore) UpdateInstanceJob(ctx context.Context, id InstanceID, job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateJobErr[id]; err != nil {
		return err
	}
	inst, ok := s.instances[id]
	if !ok {
		return ErrRecordNotFound
	}
	inst.Job = job
	s.jobWrites++
	return nil
}

func (s *memStore) vm(id VMID) VMRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.vms[id]
}

func (s *memStore) disk(id DiskID) PersistentDisk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.disks[id]
}

func (s *memStore) instance(id InstanceID) InstanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.instances[id]
}

// fakeGateway returns canned states keyed by agent id and tracks how many
// fetches run at once.
type fakeGateway struct {
	mu       sync.Mutex
	states   map[string]any
	errs     map[string]error
	delays   map[string]time.Duration
	calls    []string
	inFlight int
	peak     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states: make(map[string]any),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

func (g *fakeGateway) FetchState(ctx context.Context, vm VMRecord) (any, error) {
	g.mu.Lock()
	g.calls = append(g.calls, vm.AgentID)
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	delay := g.delays[vm.AgentID]
	state, hasState := g.states[vm.AgentID]
	err := g.errs[vm.AgentID]
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if !hasState {
		return nil, fmt.Errorf("agent %s: no response", vm.AgentID)
	}
	return state, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) peakInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// fakeScheduler records scheduled deletions, treating repeats as no-ops.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]bool
	order     []string
	err       error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]bool)}
}

func (f *fakeScheduler) ScheduleForDeletion(ctx context.Context, vm VMRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.scheduled[vm.CID] {
		f.scheduled[vm.CID] = true
		f.order = append(f.order, vm.CID)
	}
	return nil
}

// fakeLocks records lock names and rejects names listed in held.
type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	held     map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return NewConflictError(fmt.Sprintf("lock %s is held", name), nil).WithCode(ErrCodeLockHeld)
	}
	l.acquired = append(l.acquired, name)
	l.mu.Unlock()
	return fn(ctx)
}

// recordingStep is a BindStep that records its calls.
type recordingStep struct {
	name  string
	err   error
	calls *[]string
}

func (s recordingStep) Name() string { return s.name }

func (s recordingStep) Bind(ctx context.Context, prepared *PreparedDeployment) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

var errBoom = errors.New("boom")

func idPtr[T ~int64](v T) *T { return &v }

// agentState builds a state document as an agent would report it.
func agentState(deployment, job string, index int) map[string]any {
	state := map[string]any{
		"deployment": deployment,
		"index":      index,
	}
	if job != "" {
		state["job"] = map[string]any{"name": job}
	}
	return state
}

func testPlan() Plan {
	return Plan{
		Deployment: Deployment{ID: 1, Name: "cf"},
		MaxThreads: 4,
	}
}
