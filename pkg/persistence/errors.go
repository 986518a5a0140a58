package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrVersionNotFound indicates a workflow version was not found.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrGateNotFound indicates an approval gate was not found.
	ErrGateNotFound = errors.New("approval gate not found")

	// ErrApprovalNotFound indicates an approval record was not found.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrTokenNotFound indicates no approval matches the given token.
	ErrTokenNotFound = errors.New("approval token not found")
)

// StoreError wraps persistence failures with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Save")
	Entity string // Aggregate kind ("instance", "version", ...)
	ID     string // Record id if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a wrapped persistence error.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsVersionNotFound checks if an error indicates a missing version.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsGateNotFound checks if an error indicates a missing approval gate.
func IsGateNotFound(err error) bool {
	return errors.Is(err, ErrGateNotFound)
}

// IsTokenNotFound checks if an error indicates an unknown approval token.
func IsTokenNotFound(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}
