package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/progress"
)

// Status returns node states plus the nodes the scheduler could launch now.
func (e *Executor) Status(ctx context.Context, executionID string) (*models.GraphExecutionStatus, error) {
	snapshot, g, err := e.view(ctx, executionID)
	if err != nil {
		return nil, err
	}

	ready := readyOf(snapshot, g)

	status := &models.GraphExecutionStatus{
		Execution: snapshot.Execution,
		Nodes:     snapshot.Nodes,
		Ready:     ready,
		Running:   []string{},
		Stalled:   progress.Health(snapshot.Execution, snapshot.Nodes, ready).Stalled,
	}

	for _, node := range snapshot.Nodes {
		if node.Status == models.NodeStatusRunning {
			status.Running = append(status.Running, node.NodeID)
		}
	}

	return status, nil
}

func (e *Executor) Summary(ctx context.Context, executionID string) (*models.ExecutionSummary, error) {
	snapshot, _, err := e.view(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return progress.Summarize(snapshot.Execution, snapshot.Nodes, snapshot.Attempts), nil
}

// Logs returns every attempt grouped by node, each group in attempt order.
func (e *Executor) Logs(ctx context.Context, executionID string) (map[string][]*models.Attempt, error) {
	snapshot, _, err := e.view(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return progress.GroupByNode(snapshot.Attempts), nil
}

func (e *Executor) Health(ctx context.Context, executionID string) (*models.HealthReport, error) {
	snapshot, g, err := e.view(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return progress.Health(snapshot.Execution, snapshot.Nodes, readyOf(snapshot, g)), nil
}

// Executions lists executions, newest first. An empty definitionID lists all of them.
func (e *Executor) Executions(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	return e.persistence.Executions(ctx, definitionID)
}

// view reads a consistent copy from the live run, or from persistence for executions
// this process does not hold. The graph is nil when the definition is gone.
func (e *Executor) view(ctx context.Context, executionID string) (*models.ExecutionSnapshot, *graph.Graph, error) {
	if r := e.live(executionID); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()

		return r.snapshot(), r.graph, nil
	}

	snapshot, err := e.persistence.LoadExecutionSnapshot(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}

		return nil, nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	definition, err := e.repository.FetchByID(ctx, snapshot.Execution.DefinitionID)
	if err != nil {
		return snapshot, nil, nil
	}

	definition = definition.Clone()
	definition.Normalize()

	g, err := graph.Build(definition)
	if err != nil {
		return snapshot, nil, nil
	}

	position := make(map[string]int, g.Len())
	for i, nodeID := range g.Order() {
		position[nodeID] = i
	}

	slices.SortStableFunc(snapshot.Nodes, func(a, b *models.NodeState) int {
		return position[a.NodeID] - position[b.NodeID]
	})

	return snapshot, g, nil
}

func readyOf(snapshot *models.ExecutionSnapshot, g *graph.Graph) []string {
	if g == nil || snapshot.Execution.Status != models.ExecutionStatusRunning {
		return []string{}
	}

	states := make(graph.States, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		states[node.NodeID] = node
	}

	ready := g.ReadyNodes(states)
	if ready == nil {
		ready = []string{}
	}

	return ready
}
