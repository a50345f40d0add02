package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Collector fetches the live state of every allocated instance's VM through
// a bounded pool of workers. Each VM runs fetch, verify and migrate in
// sequence; VMs are independent of one another.
type Collector struct {
	plan      Plan
	gateway   AgentGateway
	store     RecordStore
	verifier  *Verifier
	migrator  *Migrator
	telemetry *telemetry.Telemetry
}

// NewCollector creates a collector for the given plan.
func NewCollector(plan Plan, gateway AgentGateway, store RecordStore, opts ...Option) *Collector {
	o := buildOptions("collector", opts)
	return &Collector{
		plan:      plan,
		gateway:   gateway,
		store:     store,
		verifier:  NewVerifier(plan),
		migrator:  NewMigrator(store, opts...),
		telemetry: o.telemetry,
	}
}

// collectOutcome is what a worker reports for one instance.
type collectOutcome struct {
	instance InstanceRecord
	state    ReportedState
	err      error
}

// CollectCurrentStates fetches, verifies and migrates the state of every
// instance that has a VM. Instances without a VM are skipped.
//
// A failed instance never stops the others. Under FailurePolicyOmit it is
// left out of the result; under FailurePolicyAbort the call waits for every
// in-flight fetch and then returns a *CollectionError and no states.
func (c *Collector) CollectCurrentStates(ctx context.Context, instances []InstanceRecord) (StateSet, error) {
	logger := c.telemetry.Logger.WithDeployment(c.plan.Deployment.Name)

	work := make([]InstanceRecord, 0, len(instances))
	for _, inst := range instances {
		if inst.VMID != nil {
			work = append(work, inst)
		}
	}

	states := make(StateSet, len(work))
	if len(work) == 0 {
		c.telemetry.Metrics.SetCollectedStates(0)
		return states, nil
	}

	// Worker count is min(max threads, number of instances).
	workerCount := c.plan.maxThreads()
	if len(work) < workerCount {
		workerCount = len(work)
	}

	workQueue := make(chan InstanceRecord, len(work))
	for _, inst := range work {
		workQueue <- inst
	}
	close(workQueue)

	// Workers only send; this goroutine is the single writer of states.
	results := make(chan collectOutcome, workerCount)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range workQueue {
				results <- c.collectOne(ctx, inst)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var failures []InstanceFailure
	for out := range results {
		if out.err != nil {
			failures = append(failures, InstanceFailure{Instance: out.instance, Err: out.err})
			continue
		}
		states[out.instance.ID] = out.state
	}

	_ = c.telemetry.Events.PublishStatesCollected(c.plan.Deployment.Name, len(states), len(failures))

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool {
			return failures[i].Instance.ID < failures[j].Instance.ID
		})

		if c.plan.FailurePolicy == FailurePolicyAbort {
			c.telemetry.Metrics.SetCollectedStates(0)
			return nil, &CollectionError{Failures: failures}
		}

		for _, f := range failures {
			logger.WithInstance(f.Instance.String()).WithError(f.Err).Warn("omitting instance from collected states")
		}
	}

	c.telemetry.Metrics.SetCollectedStates(len(states))
	logger.Infof("collected %d of %d instance states", len(states), len(work))

	return states, nil
}

// collectOne runs the fetch, verify and migrate pipeline for one instance.
func (c *Collector) collectOne(ctx context.Context, inst InstanceRecord) (out collectOutcome) {
	out.instance = inst
	timer := telemetry.NewTimer()
	outcome := telemetry.FetchOutcomeOK

	defer func() {
		c.telemetry.Metrics.RecordStateFetch(outcome, timer.Duration())
	}()

	if err := ctx.Err(); err != nil {
		outcome = telemetry.FetchOutcomeTransport
		out.err = fmt.Errorf("collection of %s cancelled: %w", inst, err)
		return out
	}

	vm, err := c.store.GetVM(ctx, *inst.VMID)
	if err != nil {
		outcome = telemetry.FetchOutcomeStore
		out.err = fmt.Errorf("failed to load vm %d of instance %s: %w", *inst.VMID, inst, err)
		return out
	}

	logger := c.telemetry.Logger.WithVM(vm.CID, vm.AgentID).WithInstance(inst.String())
	logger.Debug("requesting current vm state")

	ctx, span := c.telemetry.Tracer.StartFetchSpan(ctx, vm.CID, vm.AgentID, inst.String())
	defer func() { telemetry.EndSpan(span, out.err) }()

	raw, err := c.gateway.FetchState(ctx, *vm)
	if err != nil {
		outcome = telemetry.FetchOutcomeTransport
		var ee *EngineError
		if !errors.As(err, &ee) {
			err = NewAgentTransportError(*vm, err)
		}
		out.err = err
		return out
	}

	state, err := c.verifier.Verify(*vm, &inst, raw)
	if err != nil {
		outcome = telemetry.FetchOutcomeInconsistent
		kind := InconsistencyKind(err)
		c.telemetry.Metrics.RecordInconsistency(kind)
		_ = c.telemetry.Events.PublishInconsistency(c.plan.Deployment.Name, vm.CID, kind, err.Error())
		out.err = err
		return out
	}

	state, err = c.migrator.MigrateLegacyState(ctx, vm, &inst, state)
	if err != nil {
		outcome = telemetry.FetchOutcomeMigration
		out.err = err
		return out
	}

	logger.Debug("received current vm state")
	out.state = state
	return out
}
