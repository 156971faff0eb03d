package workflow

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/dukex/playbook/pkg/events"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/otelhelper"
	"github.com/dukex/playbook/pkg/protocol"
	"github.com/dukex/playbook/pkg/retry"
	"github.com/dukex/playbook/pkg/template"
	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// runNode drives one node through the retry controller. Attempts are sequential, so a
// node never has two attempts in flight.
func (e *Executor) runNode(ctx context.Context, r *run, nodeID string, base int) {
	defer e.wg.Done()

	step := r.graph.Node(nodeID)
	handler, resolveErr := e.registry.Resolve(step.Kind)

	controller := retry.NewController(e.policy).WithClock(e.now)
	plan := retry.Plan{StepID: nodeID, Timeout: step.Timeout(), MaxRetries: step.MaxRetries}

	outcome := controller.Run(ctx, plan,
		func(attemptCtx context.Context, number int) (*protocol.Result, error) {
			if resolveErr != nil {
				return nil, resolveErr
			}

			return e.invoke(attemptCtx, r, step, handler, base+number)
		},
		retry.Hooks{
			Before: func(_, retryCount int) error {
				return e.beginAttempt(r, nodeID, retryCount)
			},
			After: func(a retry.Attempt) {
				e.recordAttempt(r, step, base, a)
			},
		})

	e.finishNode(r, nodeID, outcome)
}

func (e *Executor) beginAttempt(r *run, nodeID string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.execution.Status != models.ExecutionStatusRunning {
		return ErrExecutionStopped
	}

	state := r.states[nodeID]
	state.Status = models.NodeStatusRunning
	state.RetryCount = retryCount
	e.persistNode(r, state)

	return nil
}

// invoke calls the handler with a private copy of the context and the rendered config.
func (e *Executor) invoke(ctx context.Context, r *run, step *models.StepSpec, handler protocol.Handler, number int) (*protocol.Result, error) {
	r.mu.Lock()
	input := protocol.Input{
		ExecutionID: r.execution.ID,
		StepID:      step.ID,
		Attempt:     number,
		DryRun:      r.execution.DryRun,
		Context:     cloneContext(r.execution.Context),
	}
	definitionID := r.execution.DefinitionID
	r.mu.Unlock()

	config := template.RenderConfig(step.Config, input.Context)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "playbook.step.attempt",
		attribute.String(otelhelper.ExecutionIDKey, input.ExecutionID),
		attribute.String(otelhelper.DefinitionIDKey, definitionID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
		attribute.Int(otelhelper.AttemptKey, number),
		attribute.Bool(otelhelper.DryRunKey, input.DryRun))
	defer span.End()

	var (
		result *protocol.Result
		err    error
	)

	if input.DryRun {
		if runner, ok := handler.(protocol.DryRunner); ok {
			result, err = runner.DryRun(ctx, config, input)
		} else {
			result = &protocol.Result{Output: map[string]any{"dry_run": true}}
		}
	} else {
		result, err = handler.Execute(ctx, config, input)
	}

	if err != nil {
		kind := retry.KindHandler
		if ctx.Err() != nil {
			kind = retry.KindTimeout
		}

		otelhelper.RecordFailure(span, err, attribute.String(otelhelper.ErrorKindKey, string(kind)))
	}

	return result, err
}

// recordAttempt appends the attempt before touching the node state, and settles the node
// under the same lock when the attempt was the last one.
func (e *Executor) recordAttempt(r *run, step *models.StepSpec, base int, a retry.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := &models.Attempt{
		ID:            ulid.Make().String(),
		ExecutionID:   r.execution.ID,
		NodeID:        step.ID,
		AttemptNumber: base + a.Number,
		StartedAt:     a.StartedAt.UTC(),
		CompletedAt:   a.CompletedAt.UTC(),
		DurationMs:    a.CompletedAt.Sub(a.StartedAt).Milliseconds(),
		BackoffMs:     a.Backoff.Milliseconds(),
		Status:        models.AttemptStatusCompleted,
		DryRun:        r.execution.DryRun,
	}

	if a.Result != nil {
		attempt.Output = models.CloneMap(a.Result.Output)
	}

	if a.Err != nil {
		attempt.Status = models.AttemptStatusFailed
		attempt.ErrorKind = string(a.Err.Kind)
		attempt.ErrorDetail = a.Err.Error()
	}

	ctx, cancel := persistContext()
	if err := e.persistence.AppendAttempt(ctx, r.execution.ID, attempt); err != nil {
		e.logger.Error("failed to persist attempt",
			"execution_id", r.execution.ID,
			"node_id", step.ID,
			"attempt", attempt.AttemptNumber,
			"error", err)
	}
	cancel()

	r.attempts = append(r.attempts, attempt)

	state := r.states[step.ID]
	state.RetryCount = a.RetryCount

	if a.Err != nil {
		state.LastError = a.Err.Error()
		state.ErrorKind = string(a.Err.Kind)

		e.logger.Warn("attempt failed",
			"execution_id", r.execution.ID,
			"node_id", step.ID,
			"attempt", attempt.AttemptNumber,
			"error_kind", a.Err.Kind,
			"backoff", a.Backoff,
			"final", a.Final)
	}

	event := events.NewNodeEvent(events.NodeAttemptEvent, r.execution, state)
	event.Attempt = attempt
	e.emit(event)

	if a.Final {
		e.completeNode(r, step, a.Result, a.Err)

		return
	}

	e.persistNode(r, state)
}

// completeNode applies a terminal outcome. Callers hold r.mu.
func (e *Executor) completeNode(r *run, step *models.StepSpec, result *protocol.Result, stepErr *retry.StepError) {
	state := r.states[step.ID]
	state.Forced = false

	if stepErr == nil {
		state.Status = models.NodeStatusCompleted
		state.LastError = ""
		state.ErrorKind = ""
		state.Warning = ""

		output := map[string]any{}

		if result != nil {
			if result.Output != nil {
				output = models.CloneMap(result.Output)
			}

			if len(result.ContextPatch) > 0 {
				if err := mergo.Merge(&r.execution.Context, models.CloneMap(result.ContextPatch), mergo.WithOverride); err != nil {
					state.Warning = fmt.Sprintf("context patch not applied: %v", err)
				}
			}
		}

		setStepResult(r.execution, step.ID, map[string]any{
			"status": string(models.NodeStatusCompleted),
			"output": output,
		})
	} else {
		state.Status = models.NodeStatusFailed
		state.LastError = stepErr.Error()
		state.ErrorKind = string(stepErr.Kind)

		if step.IsOptional {
			state.Warning = "optional step failed; continuing on its success edge"
		}

		setStepResult(r.execution, step.ID, map[string]any{
			"status":     string(models.NodeStatusFailed),
			"error":      stepErr.Error(),
			"error_kind": string(stepErr.Kind),
		})
	}

	e.saveNode(r, state)
	e.saveExecution(r)

	e.logger.Info("node finished",
		"execution_id", r.execution.ID,
		"node_id", step.ID,
		"status", state.Status,
		"retry_count", state.RetryCount)

	if r.execution.Status == models.ExecutionStatusRunning {
		e.resolvePending(r)
	}
}

// finishNode releases the node slot. A node still RUNNING here never reached a final
// attempt: it was cancelled before or between attempts.
func (e *Executor) finishNode(r *run, nodeID string, outcome retry.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.running[nodeID]; ok {
		cancel()
		delete(r.running, nodeID)
	}

	state := r.states[nodeID]
	if state.Status == models.NodeStatusRunning {
		state.Status = models.NodeStatusFailed
		state.ErrorKind = string(retry.KindCancelled)
		state.LastError = retry.ErrCancelled.Error()

		if outcome.Err != nil {
			state.LastError = outcome.Err.Error()
		}

		e.saveNode(r, state)
	}

	r.signal()
}

// setStepResult stores a node result under steps.<id> for later templates and conditions.
func setStepResult(execution *models.Execution, nodeID string, result map[string]any) {
	if execution.Context == nil {
		execution.Context = make(map[string]any)
	}

	steps, ok := execution.Context["steps"].(map[string]any)
	if !ok {
		steps = make(map[string]any)
		execution.Context["steps"] = steps
	}

	steps[nodeID] = result
}

// cloneContext round-trips the context through JSON so the copy shares nothing with it.
func cloneContext(src map[string]any) map[string]any {
	data, err := json.Marshal(src)
	if err != nil {
		return models.CloneMap(src)
	}

	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return models.CloneMap(src)
	}

	return out
}
