// Package services provides the definition service and the error classes shared by outer surfaces.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrDefinitionNil     = errors.New("definition cannot be nil")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, registry.ErrInvalidConfig) ||
		graph.IsGraphValidation(err)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, workflow.ErrInvalidTransition) ||
		errors.Is(err, workflow.ErrExecutionStopped)
}

// IsNotFoundError checks if an error names a missing definition, execution or node.
func IsNotFoundError(err error) bool {
	return persistence.IsDefinitionNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		errors.Is(err, workflow.ErrExecutionNotFound) ||
		errors.Is(err, workflow.ErrNodeNotFound)
}

// IsUnavailableError checks if the engine is shutting down.
func IsUnavailableError(err error) bool {
	return errors.Is(err, workflow.ErrExecutorClosed)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
