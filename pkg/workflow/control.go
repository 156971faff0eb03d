package workflow

import (
	"context"
	"fmt"

	"github.com/dukex/playbook/pkg/events"
	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/retry"
)

// Stop moves the execution to STOPPED, cancels in-flight attempts and backoff waits and
// waits for every node goroutine. Nodes caught mid-attempt end FAILED with a cancelled
// error. Stopping a stopped execution is a no-op; COMPLETED and FAILED executions keep
// their outcome and are rejected.
func (e *Executor) Stop(ctx context.Context, executionID string) error {
	r, err := e.acquire(ctx, executionID)
	if err != nil {
		return err
	}

	return e.stop(ctx, r)
}

func (e *Executor) stop(ctx context.Context, r *run) error {
	executionID := r.execution.ID

	r.mu.Lock()

	switch r.execution.Status {
	case models.ExecutionStatusStopped:
		r.mu.Unlock()

		return nil
	case models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
		status := r.execution.Status
		r.mu.Unlock()

		return fmt.Errorf("%w: execution %s already %s", ErrInvalidTransition, executionID, status)
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
	}

	now := e.now().UTC()
	r.execution.Status = models.ExecutionStatusStopped
	r.execution.Error = "stopped by operator"
	r.execution.CompletedAt = &now

	e.saveExecution(r)
	e.emit(events.NewExecutionEvent(events.ExecutionStoppedEvent, r.execution))

	r.cancel()
	r.signal()

	idle := r.idle
	r.mu.Unlock()

	e.logger.InfoContext(ctx, "execution stopped", "execution_id", executionID)

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, nodeID := range r.nodesIn(models.NodeStatusRunning) {
		state := r.states[nodeID]
		state.Status = models.NodeStatusFailed
		state.ErrorKind = string(retry.KindCancelled)
		state.LastError = retry.ErrCancelled.Error()
		e.saveNode(r, state)
	}

	return nil
}

// RetryTask puts a FAILED or BLOCKED node back to PENDING with a fresh retry budget.
// Descendants that were blocked or branch-skipped only because of it are reset too, and a
// terminal execution is reopened. Any other node status is rejected without changes.
func (e *Executor) RetryTask(ctx context.Context, executionID, nodeID string) error {
	r, err := e.acquire(ctx, executionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := e.operable(r, nodeID)
	if err != nil {
		return err
	}

	forced := state.Status == models.NodeStatusBlocked

	resetNode(state)
	state.Forced = forced
	e.saveNode(r, state)

	for changed := true; changed; {
		changed = false

		for _, descendant := range r.graph.Descendants(nodeID) {
			ds := r.states[descendant]

			clearable := ds.Status == models.NodeStatusBlocked ||
				(ds.Status == models.NodeStatusSkipped && ds.SkipKind == models.SkipKindBranch)
			if !clearable {
				continue
			}

			switch r.graph.Resolve(descendant, r.states) {
			case graph.Waiting, graph.Ready:
				resetNode(ds)
				e.saveNode(r, ds)

				changed = true
			case graph.Blocked, graph.NotTaken:
			}
		}
	}

	e.reopen(r)
	e.ensureLoop(r)

	e.logger.InfoContext(ctx, "node retried by operator",
		"execution_id", executionID,
		"node_id", nodeID,
		"forced", forced)

	return nil
}

// SkipTask marks a FAILED or BLOCKED node SKIPPED. Its success-edge dependents stay
// blocked; the execution is re-evaluated so it can reach a terminal state.
func (e *Executor) SkipTask(ctx context.Context, executionID, nodeID, reason string) error {
	r, err := e.acquire(ctx, executionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := e.operable(r, nodeID)
	if err != nil {
		return err
	}

	if reason == "" {
		reason = "skipped by operator"
	}

	state.Status = models.NodeStatusSkipped
	state.SkipKind = models.SkipKindOperator
	state.SkipReason = reason
	state.Forced = false
	e.saveNode(r, state)

	e.logger.InfoContext(ctx, "node skipped by operator",
		"execution_id", executionID,
		"node_id", nodeID,
		"reason", reason)

	if r.execution.Status == models.ExecutionStatusRunning {
		e.ensureLoop(r)

		return nil
	}

	e.resolvePending(r)

	if len(r.graph.ReadyNodes(r.states)) > 0 {
		e.reopen(r)
		e.ensureLoop(r)

		return nil
	}

	if r.allTerminal() {
		e.finalize(r)
	}

	return nil
}

// operable returns the node state when an operator command may act on it. Callers hold r.mu.
func (e *Executor) operable(r *run, nodeID string) (*models.NodeState, error) {
	if r.execution.Status == models.ExecutionStatusStopped {
		return nil, fmt.Errorf("%w: %s", ErrExecutionStopped, r.execution.ID)
	}

	state, ok := r.states[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	if state.Status != models.NodeStatusFailed && state.Status != models.NodeStatusBlocked {
		return nil, fmt.Errorf("%w: node %s is %s, expected FAILED or BLOCKED",
			ErrInvalidTransition, nodeID, state.Status)
	}

	return state, nil
}

// reopen moves a COMPLETED or FAILED execution back to RUNNING. Callers hold r.mu.
func (e *Executor) reopen(r *run) {
	if !r.execution.Status.IsTerminal() {
		return
	}

	r.execution.Status = models.ExecutionStatusRunning
	r.execution.Error = ""
	r.execution.CompletedAt = nil

	e.saveExecution(r)
	e.emit(events.NewExecutionEvent(events.ExecutionReopenedEvent, r.execution))
}

func resetNode(state *models.NodeState) {
	state.Status = models.NodeStatusPending
	state.RetryCount = 0
	state.LastError = ""
	state.ErrorKind = ""
	state.Warning = ""
	state.SkipKind = ""
	state.SkipReason = ""
	state.Forced = false
}

// acquire returns the live run, loading it from persistence when this process does not
// hold it. Nodes left RUNNING by a previous process are failed as interrupted, and a
// RUNNING execution gets its scheduling loop back.
func (e *Executor) acquire(ctx context.Context, executionID string) (*run, error) {
	e.mu.RLock()
	closed := e.closed
	r := e.runs[executionID]
	e.mu.RUnlock()

	if r != nil {
		if closed {
			return nil, ErrExecutorClosed
		}

		return r, nil
	}

	if closed {
		return nil, ErrExecutorClosed
	}

	snapshot, err := e.persistence.LoadExecutionSnapshot(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}

		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	definition, err := e.repository.FetchByID(ctx, snapshot.Execution.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition of execution %s: %w", executionID, err)
	}

	definition = definition.Clone()
	definition.Normalize()

	g, err := graph.Build(definition)
	if err != nil {
		return nil, err
	}

	states := make(graph.States, g.Len())
	for _, node := range snapshot.Nodes {
		states[node.NodeID] = node
	}

	for _, nodeID := range g.Order() {
		if _, ok := states[nodeID]; !ok {
			states[nodeID] = &models.NodeState{NodeID: nodeID, Status: models.NodeStatusPending}
		}
	}

	if snapshot.Execution.Context == nil {
		snapshot.Execution.Context = make(map[string]any)
	}

	loaded := newRun(ctx, snapshot.Execution, g, states, snapshot.Attempts)

	e.mu.Lock()
	if existing := e.runs[executionID]; existing != nil {
		e.mu.Unlock()
		loaded.cancel()

		return existing, nil
	}

	e.runs[executionID] = loaded
	e.mu.Unlock()

	loaded.mu.Lock()
	defer loaded.mu.Unlock()

	for _, nodeID := range loaded.nodesIn(models.NodeStatusRunning) {
		state := loaded.states[nodeID]
		state.Status = models.NodeStatusFailed
		state.ErrorKind = string(retry.KindCancelled)
		state.LastError = "interrupted: executor restarted"
		e.saveNode(loaded, state)
	}

	if loaded.execution.Status == models.ExecutionStatusRunning {
		e.ensureLoop(loaded)
	}

	return loaded, nil
}

// Resume takes over the executions a previous process left RUNNING and schedules their
// remaining nodes. It returns how many were resumed; executions that fail to load are
// logged and skipped.
func (e *Executor) Resume(ctx context.Context) (int, error) {
	executions, err := e.persistence.Executions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}

	resumed := 0

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusRunning || e.live(execution.ID) != nil {
			continue
		}

		if _, err := e.acquire(ctx, execution.ID); err != nil {
			e.logger.WarnContext(ctx, "failed to resume execution",
				"execution_id", execution.ID,
				"error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}
