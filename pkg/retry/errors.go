package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/playbook/pkg/protocol"
	"github.com/dukex/playbook/pkg/registry"
)

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	KindHandler         ErrorKind = "handler_error"
	KindTimeout         ErrorKind = "timeout"
	KindUnknownStepKind ErrorKind = "unknown_step_kind"
	KindCancelled       ErrorKind = "cancelled"
)

var (
	// ErrTimeout is wrapped by attempts that exceeded their deadline.
	ErrTimeout = errors.New("attempt exceeded deadline")

	// ErrCancelled is wrapped by attempts interrupted by a stopped execution.
	ErrCancelled = errors.New("execution cancelled")
)

// StepError is a classified attempt failure.
type StepError struct {
	Kind      ErrorKind
	StepID    string
	Attempt   int
	Permanent bool
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s attempt %d: %s: %v", e.StepID, e.Attempt, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry policy may schedule another attempt.
// Handler errors and timeouts are retryable unless marked permanent.
func (e *StepError) Retryable() bool {
	if e.Permanent {
		return false
	}

	return e.Kind == KindHandler || e.Kind == KindTimeout
}

// Classify turns a raw attempt error into a StepError.
//
// runCtx is the execution-wide context; attemptCtx carries the per-attempt deadline.
func Classify(runCtx, attemptCtx context.Context, stepID string, attempt int, err error) *StepError {
	if err == nil {
		return nil
	}

	var already *StepError
	if errors.As(err, &already) {
		return already
	}

	se := &StepError{StepID: stepID, Attempt: attempt, Err: err}

	switch {
	case runCtx.Err() != nil:
		se.Kind = KindCancelled
		se.Err = fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		se.Kind = KindTimeout
		se.Err = fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, registry.ErrUnknownStepKind):
		se.Kind = KindUnknownStepKind
	default:
		se.Kind = KindHandler
		se.Permanent = protocol.IsPermanent(err)
	}

	return se
}

// KindOf extracts the error kind, or "" when err is not a StepError.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}

	return ""
}
