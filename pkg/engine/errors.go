package engine

import (
	"errors"
	"fmt"
)

// Error codes for the transition engine. Every failure in this package is
// either returned to the immediate caller with one of these codes or becomes
// an abort request that drains the current graph to completion; nothing is
// process-fatal.
const (
	// CodeMalformedGraph indicates a structural or content defect in a
	// graph intake document. The load attempt fails and the engine keeps
	// its previous graph.
	CodeMalformedGraph = "MALFORMED_GRAPH"

	// CodeNotCoordinator indicates Start was called on a node that is not
	// the cluster's designated coordinator.
	CodeNotCoordinator = "NOT_COORDINATOR"

	// CodeTransitionActive indicates LoadGraph was called while the current
	// graph had not completed.
	CodeTransitionActive = "TRANSITION_ACTIVE"

	// CodeActionFailed indicates a remote executor reported failure for a
	// mandatory action.
	CodeActionFailed = "ACTION_FAILED"

	// CodeTimeout indicates a transition-level or action-level deadline
	// expired before completion was reported.
	CodeTimeout = "TIMEOUT"

	// CodeDependencyUnavailable indicates the fencing subsystem or the
	// configuration store is unreachable; affected actions are held, not
	// failed.
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"

	// CodeStopped indicates the engine is not running.
	CodeStopped = "ENGINE_STOPPED"
)

// Error is a classified engine error.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error { return e.Err }

// Is matches engine errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an engine error with the given code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an engine error wrapping an underlying cause.
func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode returns true if err is an engine error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsMalformedGraph returns true for graph intake defects.
func IsMalformedGraph(err error) bool { return HasCode(err, CodeMalformedGraph) }

// IsNotCoordinator returns true for coordinator misuse on Start.
func IsNotCoordinator(err error) bool { return HasCode(err, CodeNotCoordinator) }

// IsTransitionActive returns true for concurrent-load misuse.
func IsTransitionActive(err error) bool { return HasCode(err, CodeTransitionActive) }
