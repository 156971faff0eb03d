package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a definition was not found by the given identifier.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrAttemptExists indicates an attempt with the same identifier was already appended.
	ErrAttemptExists = errors.New("attempt already exists")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op           string // Operation being performed (e.g., "Load", "Save", "Delete")
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for definition errors.
func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{Op: op, DefinitionID: definitionID, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s in execution %s: %v", e.Op, e.NodeID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewNodeError creates a new execution error scoped to one node.
func NewNodeError(op, executionID, nodeID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, NodeID: nodeID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// ValidateID rejects identifiers that are empty or could escape a storage namespace.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidID)
	}

	for _, r := range id {
		if r == '/' || r == '\\' || r == 0 {
			return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidID, id)
		}
	}

	if id == "." || id == ".." || len(id) >= 2 && id[:2] == ".." {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidID, id)
	}

	return nil
}
