// Package errors provides the standardized error taxonomy for statelet.
// It implements structured error types with proper wrapping and retryability
// classification following Go 1.20+ error handling practices.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the state client contract
var (
	// ErrSchemaConflict: a state name was re-declared with a different schema
	// within the same task. Local, non-retryable, a processor-author mistake.
	ErrSchemaConflict = errors.New("state name already registered with a different schema")

	// ErrInvalidSchema: the schema is malformed or rejected by the backend,
	// or a value does not match its declared schema.
	ErrInvalidSchema = errors.New("invalid state schema")

	// ErrInvalidKeyState: a state operation was attempted with no grouping
	// key bound. Programming error, fails loudly.
	ErrInvalidKeyState = errors.New("no grouping key bound")

	// ErrBackendUnavailable: the backend connection is lost or unreachable.
	// The only transient, retryable condition in this taxonomy.
	ErrBackendUnavailable = errors.New("state backend unavailable")

	// ErrHandleClosed: a state operation after Close.
	ErrHandleClosed = errors.New("state handle is closed")

	// ErrLateDeclaration: a state variable was declared after Init returned.
	ErrLateDeclaration = errors.New("state declared after initialization")

	// ErrUnknownState: an operation referenced a name never registered on
	// this connection.
	ErrUnknownState = errors.New("unknown state name")

	// ErrNotInitialized: the task was driven before Init completed.
	ErrNotInitialized = errors.New("task not initialized")

	// ErrInvalidConfig: the daemon or client configuration is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StateError represents a failure of one operation on one named state variable
type StateError struct {
	Name      string
	Operation string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: operation %s: %v", e.Name, e.Operation, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// WrapStateError wraps an error with the state name and operation that failed
func WrapStateError(name, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &StateError{Name: name, Operation: operation, Err: err}
}

// IsRetryable reports whether the client may retry the operation. Only
// transient connectivity loss qualifies; logical errors never do, and a
// cancelled context means the surrounding task is going away.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable)
}

// Re-exports so callers only import one errors package

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text
func New(text string) error { return errors.New(text) }
