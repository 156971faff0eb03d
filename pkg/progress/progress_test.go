package progress

import (
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func node(id string, status models.NodeStatus) *models.NodeState {
	return &models.NodeState{NodeID: id, Status: status}
}

func attempt(nodeID string, number int, startOffset time.Duration, durationMs int64) *models.Attempt {
	started := base.Add(startOffset)

	return &models.Attempt{
		NodeID:        nodeID,
		AttemptNumber: number,
		StartedAt:     started,
		CompletedAt:   started.Add(time.Duration(durationMs) * time.Millisecond),
		DurationMs:    durationMs,
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	execution := &models.Execution{ID: "exec-1", Status: models.ExecutionStatusFailed}
	nodes := []*models.NodeState{
		node("a", models.NodeStatusCompleted),
		{NodeID: "b", Status: models.NodeStatusFailed, LastError: "boom"},
		node("c", models.NodeStatusBlocked),
		node("d", models.NodeStatusSkipped),
	}
	attempts := []*models.Attempt{
		attempt("b", 2, 300*time.Millisecond, 20),
		attempt("a", 1, 0, 100),
		attempt("b", 1, 150*time.Millisecond, 30),
	}

	summary := Summarize(execution, nodes, attempts)

	assert.Equal(t, "exec-1", summary.ExecutionID)
	assert.Equal(t, 4, summary.TotalNodes)
	assert.Equal(t, 1, summary.Count(models.NodeStatusCompleted))
	assert.Equal(t, 1, summary.Count(models.NodeStatusFailed))
	assert.Equal(t, 1, summary.Count(models.NodeStatusBlocked))
	assert.Equal(t, 1, summary.Count(models.NodeStatusSkipped))
	assert.Equal(t, 0, summary.Count(models.NodeStatusPending))
	assert.InDelta(t, 0.25, summary.Progress, 1e-9)
	assert.True(t, summary.IsComplete)

	total := 0
	for _, n := range summary.Counts {
		total += n
	}

	assert.Equal(t, summary.TotalNodes, total)

	assert.Equal(t, 2, summary.Nodes["b"].TotalAttempts)
	assert.Equal(t, int64(50), summary.Nodes["b"].TotalDurationMs)
	assert.Equal(t, "boom", summary.Nodes["b"].LastError)
	assert.Equal(t, 0, summary.Nodes["c"].TotalAttempts)

	require.Len(t, summary.Timeline, 3)
	assert.Equal(t, "a", summary.Timeline[0].NodeID)
	assert.Equal(t, 1, summary.Timeline[1].AttemptNumber)
	assert.Equal(t, 2, summary.Timeline[2].AttemptNumber)
}

func TestSummarize_InProgress(t *testing.T) {
	t.Parallel()

	execution := &models.Execution{ID: "exec-2", Status: models.ExecutionStatusRunning}
	summary := Summarize(execution, []*models.NodeState{
		node("a", models.NodeStatusCompleted),
		node("b", models.NodeStatusRunning),
		node("c", models.NodeStatusPending),
	}, nil)

	assert.False(t, summary.IsComplete)
	assert.InDelta(t, 1.0/3.0, summary.Progress, 1e-9)
	assert.Empty(t, summary.Timeline)
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	summary := Summarize(nil, nil, nil)

	assert.Equal(t, 0, summary.TotalNodes)
	assert.Zero(t, summary.Progress)
	assert.True(t, summary.IsComplete)
}

func TestGroupByNode(t *testing.T) {
	t.Parallel()

	grouped := GroupByNode([]*models.Attempt{
		attempt("b", 3, 3*time.Second, 1),
		attempt("a", 1, 0, 1),
		attempt("b", 1, time.Second, 1),
		attempt("b", 2, 2*time.Second, 1),
	})

	require.Len(t, grouped, 2)
	require.Len(t, grouped["b"], 3)

	for i, a := range grouped["b"] {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	running := &models.Execution{ID: "exec", Status: models.ExecutionStatusRunning}

	tests := []struct {
		name      string
		execution *models.Execution
		nodes     []*models.NodeState
		ready     []string
		healthy   bool
		stalled   bool
	}{
		{
			name:      "node running",
			execution: running,
			nodes:     []*models.NodeState{node("a", models.NodeStatusRunning), node("b", models.NodeStatusPending)},
			healthy:   true,
		},
		{
			name:      "node ready",
			execution: running,
			nodes:     []*models.NodeState{node("a", models.NodeStatusCompleted), node("b", models.NodeStatusPending)},
			ready:     []string{"b"},
			healthy:   true,
		},
		{
			name:      "nothing can move",
			execution: running,
			nodes:     []*models.NodeState{node("a", models.NodeStatusFailed), node("b", models.NodeStatusPending)},
			healthy:   false,
			stalled:   true,
		},
		{
			name:      "completed",
			execution: &models.Execution{ID: "exec", Status: models.ExecutionStatusCompleted},
			nodes:     []*models.NodeState{node("a", models.NodeStatusCompleted)},
			healthy:   true,
		},
		{
			name:      "failed is unhealthy but not stalled",
			execution: &models.Execution{ID: "exec", Status: models.ExecutionStatusFailed},
			nodes:     []*models.NodeState{node("a", models.NodeStatusFailed), node("b", models.NodeStatusBlocked)},
			healthy:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			report := Health(tt.execution, tt.nodes, tt.ready)
			assert.Equal(t, tt.healthy, report.Healthy)
			assert.Equal(t, tt.stalled, report.Stalled)

			if !tt.healthy {
				assert.NotEmpty(t, report.Reason)
			}
		})
	}
}
