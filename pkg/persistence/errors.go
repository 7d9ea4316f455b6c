// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowRunNotFound indicates a run was not found by the given identifier.
	ErrFlowRunNotFound = errors.New("flow run not found")

	// ErrDeploymentNotFound indicates a deployment was not found by the given identifier.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrFlowRunAlreadyExists indicates a run with the same identifier already exists.
	ErrFlowRunAlreadyExists = errors.New("flow run already exists")

	// ErrStateNotInsertable indicates a state proposal with no identity was
	// submitted; only materialized states carry a fresh identity.
	ErrStateNotInsertable = errors.New("state has no identity and cannot be inserted as an event")

	// ErrStateAlreadyCommitted indicates a state proposal reused the identity
	// of an already committed event.
	ErrStateAlreadyCommitted = errors.New("state identity already committed for this run")
)

// FlowRunError wraps run-related errors with additional context.
type FlowRunError struct {
	Op      string // Operation being performed (e.g., "GetByID", "SetState")
	RunID   string // Run ID if applicable
	StateID string // State ID if applicable
	Err     error  // Underlying error
}

func (e *FlowRunError) Error() string {
	if e.StateID != "" {
		return fmt.Sprintf("%s operation failed for run %s (state %s): %v", e.Op, e.RunID, e.StateID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *FlowRunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow run errors.
func (e *FlowRunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowRunError creates a new flow run error with context.
func NewFlowRunError(op, runID string, err error) *FlowRunError {
	return &FlowRunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}

// NewStateError creates a new flow run error carrying the offending state identity.
func NewStateError(op, runID, stateID string, err error) *FlowRunError {
	return &FlowRunError{
		Op:      op,
		RunID:   runID,
		StateID: stateID,
		Err:     err,
	}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsFlowRunNotFound checks if an error indicates a run was not found.
func IsFlowRunNotFound(err error) bool {
	return errors.Is(err, ErrFlowRunNotFound)
}

// IsDeploymentNotFound checks if an error indicates a deployment was not found.
func IsDeploymentNotFound(err error) bool {
	return errors.Is(err, ErrDeploymentNotFound)
}

// IsStateIdentityConflict checks if an error indicates a transition proposal
// was rejected for carrying a duplicate or missing identity.
func IsStateIdentityConflict(err error) bool {
	return errors.Is(err, ErrStateAlreadyCommitted) || errors.Is(err, ErrStateNotInsertable)
}
