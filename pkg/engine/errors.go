package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed when
	// the operation is run again.
	// Examples: agent timeouts, message bus disconnects.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: a named lock held by another process.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: database and agent disagreeing on what runs on a VM.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the error kind for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource identifies the VM or instance that caused the error.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Error codes for inconsistencies between the database and live agent state.
const (
	ErrCodeOutOfSyncInstanceVM     = "OUT_OF_SYNC_INSTANCE_VM"
	ErrCodeInvalidAgentStateFormat = "INVALID_AGENT_STATE_FORMAT"
	ErrCodeWrongDeployment         = "WRONG_DEPLOYMENT"
	ErrCodeUnexpectedJob           = "UNEXPECTED_JOB"
	ErrCodeJobMismatch             = "JOB_MISMATCH"
	ErrCodeRenameInProgress        = "RENAME_IN_PROGRESS"
)

// Other error codes.
const (
	ErrCodeAgentTransport = "AGENT_TRANSPORT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeLockHeld       = "LOCK_HELD"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeBindFailed     = "BIND_FAILED"
	ErrCodeCollection     = "COLLECTION_FAILED"
)

// Sentinels for errors.Is checks against inconsistency kinds.
var (
	ErrOutOfSyncInstanceVM     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeOutOfSyncInstanceVM}
	ErrInvalidAgentStateFormat = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInvalidAgentStateFormat}
	ErrWrongDeployment         = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeWrongDeployment}
	ErrUnexpectedJob           = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnexpectedJob}
	ErrJobMismatch             = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeJobMismatch}
	ErrRenameInProgress        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeRenameInProgress}
	ErrAgentTransport          = &EngineError{Class: ErrorClassTransient, Code: ErrCodeAgentTransport}
)

// NewInconsistencyError creates a permanent error for a VM whose live state
// disagrees with the database.
func NewInconsistencyError(code string, vm VMRecord, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(code).
		WithResource(vm.CID).
		WithOperation("verify_state").
		WithDetail("agent_id", vm.AgentID)
}

// NewAgentTransportError wraps a failure to reach a VM's agent.
func NewAgentTransportError(vm VMRecord, err error) *EngineError {
	return NewTransientError(fmt.Sprintf("fetching state from agent %s", vm.AgentID), err).
		WithCode(ErrCodeAgentTransport).
		WithResource(vm.CID).
		WithOperation("get_state")
}

// ErrorCode extracts the code of the first EngineError in err's chain.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// InconsistencyKind returns the inconsistency code carried by err, or an
// empty string when err is not a state inconsistency.
func InconsistencyKind(err error) string {
	if !IsInconsistency(err) {
		return ""
	}
	return ErrorCode(err)
}

// IsInconsistency reports whether err is one of the state inconsistency kinds.
func IsInconsistency(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeOutOfSyncInstanceVM, ErrCodeInvalidAgentStateFormat, ErrCodeWrongDeployment,
		ErrCodeUnexpectedJob, ErrCodeJobMismatch, ErrCodeRenameInProgress:
		return true
	default:
		return false
	}
}

// InstanceFailure records why one instance was left out of a collection.
type InstanceFailure struct {
	Instance InstanceRecord
	Err      error
}

// CollectionError is returned by the collector under the abort failure
// policy. It lists every instance whose state could not be collected.
type CollectionError struct {
	Failures []InstanceFailure
}

// Error implements the error interface.
func (e *CollectionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Instance, f.Err))
	}
	return fmt.Sprintf("state collection failed for %d instance(s): %s",
		len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the per-instance errors to errors.Is and errors.As.
func (e *CollectionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
