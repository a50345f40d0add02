package engine

import (
	"fmt"
)

// Names of the verification checks, in evaluation order.
const (
	CheckInstanceVMInSync = "instance_vm_in_sync"
	CheckStateIsMapping   = "state_is_mapping"
	CheckDeploymentMatch  = "deployment_matches"
	CheckNoUnexpectedJob  = "no_unexpected_job"
	CheckJobMatches       = "job_matches"
)

// verification holds the inputs of one Verify call. Checks read from it and
// state_is_mapping fills in state for the checks after it.
type verification struct {
	plan  *Plan
	vm    VMRecord
	owner *InstanceRecord
	raw   any
	state ReportedState
}

// check is a named predicate over a verification. It returns nil when the
// VM passes.
type check struct {
	name string
	run  func(v *verification) error
}

var verificationChecks = []check{
	{name: CheckInstanceVMInSync, run: checkInstanceVMInSync},
	{name: CheckStateIsMapping, run: checkStateIsMapping},
	{name: CheckDeploymentMatch, run: checkDeploymentMatches},
	{name: CheckNoUnexpectedJob, run: checkNoUnexpectedJob},
	{name: CheckJobMatches, run: checkJobMatches},
}

// VerificationChecks returns the names of the verification checks in the
// order they are evaluated.
func VerificationChecks() []string {
	names := make([]string, len(verificationChecks))
	for i, c := range verificationChecks {
		names[i] = c.name
	}
	return names
}

// Verifier confirms that the state reported by a VM's agent describes the
// same deployment and instance the database records for that VM.
type Verifier struct {
	plan Plan
}

// NewVerifier creates a verifier for the given plan.
func NewVerifier(plan Plan) *Verifier {
	return &Verifier{plan: plan}
}

// Verify runs the checks in order and returns the first failure. On success
// it returns raw as a ReportedState. Verify has no side effects.
func (v *Verifier) Verify(vm VMRecord, owner *InstanceRecord, raw any) (ReportedState, error) {
	in := &verification{
		plan:  &v.plan,
		vm:    vm,
		owner: owner,
		raw:   raw,
	}

	for _, c := range verificationChecks {
		if err := c.run(in); err != nil {
			if ee, ok := err.(*EngineError); ok {
				ee.WithDetail("check", c.name)
			}
			return nil, err
		}
	}

	return in.state, nil
}

func checkInstanceVMInSync(v *verification) error {
	if v.owner == nil || v.owner.DeploymentID == v.vm.DeploymentID {
		return nil
	}
	return NewInconsistencyError(ErrCodeOutOfSyncInstanceVM, v.vm,
		fmt.Sprintf("%s is out of sync: it belongs to deployment %d but instance %s belongs to deployment %d",
			v.vm, v.vm.DeploymentID, v.owner, v.owner.DeploymentID)).
		WithDetail("instance", v.owner.String())
}

func checkStateIsMapping(v *verification) error {
	state, ok := asReportedState(v.raw)
	if !ok {
		return NewInconsistencyError(ErrCodeInvalidAgentStateFormat, v.vm,
			fmt.Sprintf("%s returns invalid state: expected a mapping, got %T", v.vm, v.raw))
	}
	v.state = state
	return nil
}

func checkDeploymentMatches(v *verification) error {
	reported := v.state.Deployment()
	if reported == v.plan.Deployment.Name {
		return nil
	}
	return NewInconsistencyError(ErrCodeWrongDeployment, v.vm,
		fmt.Sprintf("%s is out of sync: expected to be a part of deployment %q but is actually a part of deployment %q",
			v.vm, v.plan.Deployment.Name, reported)).
		WithDetail("reported_deployment", reported)
}

func checkNoUnexpectedJob(v *verification) error {
	if v.owner != nil {
		return nil
	}
	job, ok := v.state.JobName()
	if !ok {
		return nil
	}
	return NewInconsistencyError(ErrCodeUnexpectedJob, v.vm,
		fmt.Sprintf("%s is out of sync: it reports itself as %s/%d but there is no instance reference in the database",
			v.vm, job, v.state.Index())).
		WithDetail("reported_job", job)
}

func checkJobMatches(v *verification) error {
	if v.owner == nil {
		return nil
	}

	job, _ := v.state.JobName()
	index := v.state.Index()

	if job == v.owner.Job && index == v.owner.Index {
		return nil
	}

	if index == v.owner.Index && v.plan.Rename.Explains(job, v.owner.Job) {
		if v.plan.Rename.Force {
			return nil
		}
		return NewInconsistencyError(ErrCodeRenameInProgress, v.vm,
			fmt.Sprintf("%s reports job %s/%d while instance %s has already been renamed; rerun the rename with force to continue",
				v.vm, job, index, v.owner)).
			WithDetail("instance", v.owner.String()).
			WithDetail("old_name", v.plan.Rename.OldName).
			WithDetail("new_name", v.plan.Rename.NewName)
	}

	return NewInconsistencyError(ErrCodeJobMismatch, v.vm,
		fmt.Sprintf("%s is out of sync: expected to be %s but reports itself as %s/%d",
			v.vm, v.owner, job, index)).
		WithDetail("instance", v.owner.String()).
		WithDetail("reported_job", job).
		WithDetail("reported_index", index)
}
