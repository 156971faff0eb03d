package workflow

import (
	"log/slog"
	"time"

	"github.com/dukex/playbook/pkg/retry"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultParallelism = 4
	DefaultOutboxSize  = 1024
)

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithBackoff sets the retry policy: base * 2^retryCount, capped at max.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Executor) {
		e.policy = retry.Policy{BaseDelay: base, MaxDelay: max}
	}
}

// WithDefaultParallelism bounds concurrent nodes for executions started without a limit.
func WithDefaultParallelism(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.defaultParallelism = n
		}
	}
}

// WithOutboxSize sets the buffer of the Events channel. Events are dropped when it is full.
func WithOutboxSize(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.outboxSize = n
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithClock replaces the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// StartOptions tune a single execution.
type StartOptions struct {
	Parallelism int  `json:"parallelism"`
	DryRun      bool `json:"dry_run"`
}
