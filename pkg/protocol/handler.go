// Package protocol defines the contract between the executor and step handlers.
package protocol

import (
	"context"
	"errors"

	"github.com/dukex/playbook/pkg/models"
)

// Input is what a handler receives besides its rendered configuration.
// Context is a private snapshot; mutating it has no effect on the execution.
type Input struct {
	ExecutionID string
	StepID      string
	Attempt     int
	DryRun      bool
	Context     map[string]any
}

// Result is the data a handler hands back to the executor.
// ContextPatch is merged into the execution context by the executor, never by the handler.
type Result struct {
	Output       map[string]any
	ContextPatch map[string]any
}

// Handler executes one kind of step.
//
// Execute may be called several times with the same inputs when a step is retried, so
// implementations must be idempotent or deduplicate their side effects.
type Handler interface {
	// Kind returns the step kind served by this handler
	Kind() models.StepKind

	// Description returns a description of what this handler does
	Description() string

	// Schema returns the JSON schema for the step configuration
	Schema() map[string]any

	// Execute runs the step. It must honor ctx cancellation.
	Execute(ctx context.Context, config map[string]any, input Input) (*Result, error)
}

// DryRunner is implemented by handlers that can simulate a call without side effects.
// Handlers without it are elided entirely in dry runs.
type DryRunner interface {
	DryRun(ctx context.Context, config map[string]any, input Input) (*Result, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError

	return errors.As(err, &p)
}
