package workflow

import (
	"errors"

	"github.com/dukex/playbook/pkg/persistence"
)

var (
	// ErrExecutionNotFound is returned for ids no backend knows about.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNodeNotFound is returned when an operator command names a node outside the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidTransition is returned when a command does not apply to the current state.
	// The state is left untouched.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrExecutionStopped is returned for commands against a STOPPED execution.
	ErrExecutionStopped = errors.New("execution stopped")

	// ErrExecutorClosed is returned by Start after Close.
	ErrExecutorClosed = errors.New("executor closed")

	// ErrDefinitionNotFound mirrors the persistence sentinel for callers of this package.
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
)
