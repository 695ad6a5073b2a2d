// Package errors defines the error kinds shared by the orders service layers.
// Handlers classify errors with Is/As and map each kind to an HTTP status.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrNotFound is returned when a record is absent or not owned by the caller.
var ErrNotFound = stderrors.New("not found")

// ErrConflict is returned when a compare-and-set write loses to a concurrent writer.
var ErrConflict = stderrors.New("concurrent modification")

// ValidationError reports missing or invalid input.
type ValidationError struct {
	Field   string
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: map[string]string{field: message},
	}
}

// StateError reports a lifecycle operation rejected by the current order state.
type StateError struct {
	Status    string
	Operation string
	Message   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s order in status %q: %s", e.Operation, e.Status, e.Message)
}

// NewStateError creates a guard failure for the given operation.
func NewStateError(operation, status, message string) *StateError {
	return &StateError{
		Status:    status,
		Operation: operation,
		Message:   message,
	}
}

// Kind names an error class for logs and metrics.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	var validationErr *ValidationError
	var stateErr *StateError

	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &validationErr):
		return KindValidation
	case stderrors.As(err, &stateErr):
		return KindState
	case stderrors.Is(err, ErrNotFound):
		return KindNotFound
	case stderrors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Is and As are re-exported so callers importing this package as "errors"
// keep the standard helpers.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
