package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineErrorIs(t *testing.T) {
	vm := VMRecord{CID: "vm-1", AgentID: "agent-1"}
	err := fmt.Errorf("collecting: %w", NewInconsistencyError(ErrCodeWrongDeployment, vm, "wrong deployment"))

	if !errors.Is(err, ErrWrongDeployment) {
		t.Fatal("wrapped inconsistency should match its sentinel")
	}
	if errors.Is(err, ErrJobMismatch) {
		t.Fatal("inconsistency matched the wrong sentinel")
	}
	if got := InconsistencyKind(err); got != ErrCodeWrongDeployment {
		t.Fatalf("InconsistencyKind() = %q", got)
	}
}

func TestAgentTransportError(t *testing.T) {
	vm := VMRecord{CID: "vm-1", AgentID: "agent-1"}
	err := NewAgentTransportError(vm, errBoom)

	if !IsTransient(err) {
		t.Error("transport errors should be transient")
	}
	if !errors.Is(err, ErrAgentTransport) {
		t.Error("transport error should match ErrAgentTransport")
	}
	if !errors.Is(err, errBoom) {
		t.Error("transport error should unwrap to the cause")
	}
	if InconsistencyKind(err) != "" {
		t.Error("transport errors are not inconsistencies")
	}
	if !strings.Contains(err.Error(), "agent-1") {
		t.Errorf("message %q should name the agent", err.Error())
	}
}

func TestCollectionError(t *testing.T) {
	vm := VMRecord{CID: "vm-2", AgentID: "agent-2"}
	err := &CollectionError{Failures: []InstanceFailure{
		{Instance: InstanceRecord{ID: 1, Job: "web", Index: 0}, Err: NewAgentTransportError(vm, errBoom)},
		{Instance: InstanceRecord{ID: 2, Job: "db", Index: 1}, Err: NewInconsistencyError(ErrCodeJobMismatch, vm, "mismatch")},
	}}

	msg := err.Error()
	for _, want := range []string{"2 instance(s)", "web/0", "db/1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not mention %q", msg, want)
		}
	}
	if !errors.Is(err, ErrJobMismatch) {
		t.Error("CollectionError should expose per-instance errors")
	}
	if !errors.Is(err, errBoom) {
		t.Error("CollectionError should expose wrapped causes")
	}
}
