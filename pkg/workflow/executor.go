// Package workflow drives executions of definition graphs: scheduling, retries and operator control.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/dukex/playbook/pkg/events"
	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/otelhelper"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Executor owns every live execution started through it. It is the only writer of
// execution and node state; handlers only ever see copies.
type Executor struct {
	repository  *Repository
	persistence persistence.Persistence
	registry    *registry.Registry

	logger             *slog.Logger
	tracer             trace.Tracer
	policy             retry.Policy
	defaultParallelism int
	outboxSize         int
	now                func() time.Time

	mu           sync.RWMutex
	runs         map[string]*run
	closed       bool
	eventsClosed bool
	events       chan events.Event
	wg           sync.WaitGroup
}

func NewExecutor(persistence persistence.Persistence, registry *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		repository:         NewRepository(persistence),
		persistence:        persistence,
		registry:           registry,
		logger:             slog.Default(),
		tracer:             otelhelper.NoopTracer("playbook.workflow"),
		policy:             retry.DefaultPolicy(),
		defaultParallelism: DefaultParallelism,
		outboxSize:         DefaultOutboxSize,
		now:                time.Now,
		runs:               make(map[string]*run),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "workflow_executor")
	e.events = make(chan events.Event, e.outboxSize)

	return e
}

// Events returns the outbound channel of state transitions. It is closed by Close.
func (e *Executor) Events() <-chan events.Event {
	return e.events
}

// Start runs a stored definition and returns the new execution id.
func (e *Executor) Start(ctx context.Context, definitionID string, input map[string]any, opts StartOptions) (string, error) {
	definition, err := e.repository.FetchByID(ctx, definitionID)
	if err != nil {
		return "", fmt.Errorf("failed to load definition %s: %w", definitionID, err)
	}

	return e.start(ctx, definition, input, opts)
}

// StartDefinition saves an inline definition, then runs it.
func (e *Executor) StartDefinition(ctx context.Context, definition *models.WorkflowDefinition, input map[string]any, opts StartOptions) (string, error) {
	definition.Normalize()

	if _, err := graph.Build(definition); err != nil {
		return "", err
	}

	saved, err := e.repository.Create(ctx, definition)
	if err != nil {
		return "", fmt.Errorf("failed to save definition: %w", err)
	}

	return e.start(ctx, saved, input, opts)
}

func (e *Executor) start(ctx context.Context, source *models.WorkflowDefinition, input map[string]any, opts StartOptions) (string, error) {
	definition := source.Clone()
	definition.Normalize()

	g, err := graph.Build(definition)
	if err != nil {
		return "", err
	}

	if err := e.registry.ValidateDefinition(definition); err != nil {
		return "", err
	}

	executionContext, err := initialContext(definition.Variables, input)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate execution id: %w", err)
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = e.defaultParallelism
	}

	now := e.now().UTC()
	execution := &models.Execution{
		ID:           id.String(),
		DefinitionID: definition.ID,
		Status:       models.ExecutionStatusPending,
		Context:      executionContext,
		Parallelism:  parallelism,
		DryRun:       opts.DryRun,
		CreatedAt:    now,
	}

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	states := make(graph.States, g.Len())

	for _, nodeID := range g.Order() {
		state := &models.NodeState{NodeID: nodeID, Status: models.NodeStatusPending, UpdatedAt: now}
		states[nodeID] = state

		if err := e.persistence.SaveNodeState(ctx, execution.ID, state); err != nil {
			return "", fmt.Errorf("failed to save node state: %w", err)
		}
	}

	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &now

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	r := newRun(ctx, execution, g, states, nil)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		r.cancel()

		return "", ErrExecutorClosed
	}

	e.runs[execution.ID] = r
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "execution started",
		"execution_id", execution.ID,
		"definition_id", definition.ID,
		"nodes", g.Len(),
		"parallelism", parallelism,
		"dry_run", opts.DryRun)

	r.mu.Lock()
	e.emit(events.NewExecutionEvent(events.ExecutionStartedEvent, execution))
	e.ensureLoop(r)
	r.mu.Unlock()

	return execution.ID, nil
}

// initialContext layers the caller input over the definition variables.
func initialContext(variables, input map[string]any) (map[string]any, error) {
	executionContext := models.CloneMap(variables)
	if executionContext == nil {
		executionContext = make(map[string]any)
	}

	if len(input) > 0 {
		if err := mergo.Merge(&executionContext, models.CloneMap(input), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge execution input: %w", err)
		}
	}

	return executionContext, nil
}

// Wait blocks until the execution has no scheduling left to do in this process: it is
// terminal, stopped with every node settled, or stalled waiting for an operator.
func (e *Executor) Wait(ctx context.Context, executionID string) error {
	r := e.live(executionID)
	if r == nil {
		return nil
	}

	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new executions and waits for the live ones to go idle. Executions still
// running when ctx expires are stopped. The Events channel is closed last.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	ids := make([]string, 0, len(e.runs))

	for id := range e.runs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var closeErr error

	for _, id := range ids {
		if err := e.Wait(ctx, id); err == nil {
			continue
		}

		r := e.live(id)
		if r == nil {
			continue
		}

		e.logger.Warn("stopping execution on shutdown", "execution_id", id)

		err := e.stop(context.WithoutCancel(ctx), r)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			closeErr = errors.Join(closeErr, err)
		}
	}

	e.wg.Wait()

	e.mu.Lock()
	if !e.eventsClosed {
		e.eventsClosed = true
		close(e.events)
	}
	e.mu.Unlock()

	return closeErr
}

func (e *Executor) live(executionID string) *run {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.runs[executionID]
}

// emit never blocks. Callers hold the run lock so events of one execution keep their order.
func (e *Executor) emit(event events.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.eventsClosed {
		return
	}

	select {
	case e.events <- event:
	default:
		e.logger.Warn("event outbox full, dropping event",
			"event_type", event.GetType(),
			"execution_id", event.GetExecutionID())
	}
}

// persistContext bounds a state write. It is detached from any request context.
func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
