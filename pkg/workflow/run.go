package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/playbook/pkg/conditional"
	"github.com/dukex/playbook/pkg/events"
	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/retry"
)

// run is the live state of one execution. Every field is guarded by mu.
type run struct {
	mu sync.Mutex

	execution *models.Execution
	graph     *graph.Graph
	states    graph.States
	attempts  []*models.Attempt

	// running holds the cancel func of every node goroutine.
	running map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	wake    chan struct{}
	idle    chan struct{}
	looping bool
}

func newRun(parent context.Context, execution *models.Execution, g *graph.Graph, states graph.States, attempts []*models.Attempt) *run {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	idle := make(chan struct{})
	close(idle)

	return &run{
		execution: execution,
		graph:     g,
		states:    states,
		attempts:  attempts,
		running:   make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		idle:      idle,
	}
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// attemptsOf counts the attempts already recorded for a node.
func (r *run) attemptsOf(nodeID string) int {
	n := 0

	for _, a := range r.attempts {
		if a.NodeID == nodeID {
			n++
		}
	}

	return n
}

// ensureLoop starts the scheduling goroutine unless one is active. Callers hold r.mu.
func (e *Executor) ensureLoop(r *run) {
	if r.looping {
		r.signal()

		return
	}

	r.looping = true
	r.idle = make(chan struct{})

	e.wg.Add(1)

	go e.loop(r)
}

func (e *Executor) loop(r *run) {
	defer e.wg.Done()

	for {
		r.mu.Lock()

		if e.schedule(r) {
			r.looping = false
			close(r.idle)
			r.mu.Unlock()

			return
		}

		r.mu.Unlock()

		<-r.wake
	}
}

// schedule advances the execution as far as it can and reports whether the loop may exit.
func (e *Executor) schedule(r *run) bool {
	if r.execution.Status != models.ExecutionStatusRunning {
		return len(r.running) == 0
	}

	for {
		changed := e.resolvePending(r)

		for _, nodeID := range r.graph.ReadyNodes(r.states) {
			if len(r.running) >= r.execution.Parallelism {
				break
			}

			state := r.states[nodeID]
			step := r.graph.Node(nodeID)

			if step.Condition != nil && !state.Forced {
				ok, err := conditional.Evaluate(*step.Condition, r.execution.Context)
				if err != nil {
					state.Status = models.NodeStatusFailed
					state.LastError = fmt.Sprintf("condition: %v", err)
					state.ErrorKind = string(retry.KindHandler)
					e.saveNode(r, state)

					changed = true

					continue
				}

				if !ok {
					state.Status = models.NodeStatusSkipped
					state.SkipKind = models.SkipKindCondition
					state.SkipReason = fmt.Sprintf("condition %s %s not met", step.Condition.Field, step.Condition.Operator)
					e.saveNode(r, state)

					changed = true

					continue
				}
			}

			e.launch(r, nodeID)
		}

		if !changed {
			break
		}
	}

	if len(r.running) > 0 {
		return false
	}

	if r.allTerminal() {
		e.finalize(r)

		return true
	}

	e.logger.Warn("execution stalled, waiting for operator",
		"execution_id", r.execution.ID,
		"pending", r.nodesIn(models.NodeStatusPending))

	return true
}

// resolvePending settles pending nodes that can no longer run: BLOCKED behind a required
// failure, or SKIPPED when none of their incoming edges was taken. It repeats until
// nothing changes so blocking propagates transitively.
func (e *Executor) resolvePending(r *run) bool {
	settled := false

	for {
		changed := false

		for _, nodeID := range r.graph.Order() {
			state := r.states[nodeID]
			if state.Status != models.NodeStatusPending || state.Forced {
				continue
			}

			switch r.graph.Resolve(nodeID, r.states) {
			case graph.Blocked:
				state.Status = models.NodeStatusBlocked
				state.LastError = "blocked by " + strings.Join(r.graph.BlockedBy(nodeID, r.states), ", ")
				e.saveNode(r, state)

				changed = true
			case graph.NotTaken:
				state.Status = models.NodeStatusSkipped
				state.SkipKind = models.SkipKindBranch
				state.SkipReason = "no incoming edge was taken"
				e.saveNode(r, state)

				changed = true
			case graph.Waiting, graph.Ready:
			}
		}

		if !changed {
			return settled
		}

		settled = true
	}
}

func (r *run) allTerminal() bool {
	for _, state := range r.states {
		if !state.Status.IsTerminal() {
			return false
		}
	}

	return true
}

func (r *run) nodesIn(status models.NodeStatus) []string {
	var ids []string

	for _, nodeID := range r.graph.Order() {
		if r.states[nodeID].Status == status {
			ids = append(ids, nodeID)
		}
	}

	return ids
}

// finalize sets the terminal execution status from the node states: FAILED when a
// required node failed or any node is blocked, COMPLETED otherwise.
func (e *Executor) finalize(r *run) {
	var failed, blocked []string

	for _, nodeID := range r.graph.Order() {
		state := r.states[nodeID]

		switch state.Status {
		case models.NodeStatusFailed:
			if !r.graph.Node(nodeID).IsOptional {
				failed = append(failed, nodeID)
			}
		case models.NodeStatusBlocked:
			blocked = append(blocked, nodeID)
		case models.NodeStatusPending, models.NodeStatusRunning, models.NodeStatusCompleted, models.NodeStatusSkipped:
		}
	}

	status := models.ExecutionStatusCompleted
	reason := ""

	if len(failed) > 0 || len(blocked) > 0 {
		status = models.ExecutionStatusFailed

		var parts []string
		if len(failed) > 0 {
			parts = append(parts, "required steps failed: "+strings.Join(failed, ", "))
		}

		if len(blocked) > 0 {
			parts = append(parts, "blocked steps: "+strings.Join(blocked, ", "))
		}

		reason = strings.Join(parts, "; ")
	}

	if r.execution.Status == status && r.execution.Error == reason && r.execution.CompletedAt != nil {
		return
	}

	now := e.now().UTC()
	r.execution.Status = status
	r.execution.Error = reason
	r.execution.CompletedAt = &now

	e.saveExecution(r)
	e.emit(events.NewExecutionEvent(events.ExecutionEventType(status), r.execution))

	e.logger.Info("execution finished",
		"execution_id", r.execution.ID,
		"status", status,
		"reason", reason)
}

// launch marks the node RUNNING before its goroutine exists so it is never scheduled twice.
func (e *Executor) launch(r *run, nodeID string) {
	state := r.states[nodeID]
	state.Status = models.NodeStatusRunning
	e.saveNode(r, state)

	ctx, cancel := context.WithCancel(r.ctx)
	r.running[nodeID] = cancel

	base := r.attemptsOf(nodeID)

	e.wg.Add(1)

	go e.runNode(ctx, r, nodeID, base)
}

// saveNode persists a node state, then emits its transition. Callers hold r.mu.
func (e *Executor) saveNode(r *run, state *models.NodeState) {
	e.persistNode(r, state)
	e.emit(events.NewNodeEvent(events.NodeEventType(state.Status), r.execution, state))
}

func (e *Executor) persistNode(r *run, state *models.NodeState) {
	state.UpdatedAt = e.now().UTC()

	ctx, cancel := persistContext()
	defer cancel()

	if err := e.persistence.SaveNodeState(ctx, r.execution.ID, state); err != nil {
		e.logger.Error("failed to persist node state",
			"execution_id", r.execution.ID,
			"node_id", state.NodeID,
			"status", state.Status,
			"error", err)
	}
}

func (e *Executor) saveExecution(r *run) {
	ctx, cancel := persistContext()
	defer cancel()

	if err := e.persistence.SaveExecution(ctx, r.execution); err != nil {
		e.logger.Error("failed to persist execution",
			"execution_id", r.execution.ID,
			"status", r.execution.Status,
			"error", err)
	}
}

// snapshot copies the run so readers never share maps with the writer. Callers hold r.mu.
func (r *run) snapshot() *models.ExecutionSnapshot {
	execution := *r.execution
	execution.Context = models.CloneMap(r.execution.Context)

	nodes := make([]*models.NodeState, 0, len(r.states))
	for _, nodeID := range r.graph.Order() {
		state := *r.states[nodeID]
		nodes = append(nodes, &state)
	}

	return &models.ExecutionSnapshot{
		Execution: &execution,
		Nodes:     nodes,
		Attempts:  slices.Clone(r.attempts),
	}
}
