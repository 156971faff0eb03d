// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) persistence.Persistence

// Definition builds a small two-step definition.
func Definition(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:        id,
		Name:      "Onboarding " + id,
		Variables: map[string]any{"region": "eu"},
		Steps: []*models.StepSpec{
			{
				ID:              "fetch",
				Name:            "fetch",
				Kind:            models.StepKindHTTPRequest,
				Config:          map[string]any{"url": "https://example.com/{{region}}"},
				TimeoutSeconds:  5,
				MaxRetries:      2,
				OnSuccessStepID: "announce",
			},
			{
				ID:             "announce",
				Name:           "announce",
				Kind:           models.StepKindLog,
				Config:         map[string]any{"message": "done"},
				TimeoutSeconds: 1,
				IsOptional:     true,
			},
		},
	}
}

// Execution builds a running execution of definitionID.
func Execution(definitionID string) *models.Execution {
	started := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Execution{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		Status:       models.ExecutionStatusRunning,
		Context:      map[string]any{"region": "eu", "count": 2.0},
		Parallelism:  4,
		CreatedAt:    started,
		StartedAt:    &started,
	}
}

// Attempt builds a completed attempt record.
func Attempt(executionID, nodeID string, number int) *models.Attempt {
	started := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Attempt{
		ID:            ulid.Make().String(),
		ExecutionID:   executionID,
		NodeID:        nodeID,
		AttemptNumber: number,
		StartedAt:     started,
		CompletedAt:   started.Add(15 * time.Millisecond),
		DurationMs:    15,
		Status:        models.AttemptStatusCompleted,
		Output:        map[string]any{"status_code": 200.0},
	}
}

// Run executes the shared conformance tests against a backend.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("definitions round trip", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		definition := Definition("onboarding")
		require.NoError(t, store.SaveDefinition(ctx, definition))
		assert.False(t, definition.CreatedAt.IsZero())
		assert.False(t, definition.UpdatedAt.IsZero())

		loaded, err := store.LoadDefinition(ctx, "onboarding")
		require.NoError(t, err)
		assert.Equal(t, definition.Name, loaded.Name)
		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, "announce", loaded.Steps[0].OnSuccessStepID)
		assert.Equal(t, models.StepKindHTTPRequest, loaded.Steps[0].Kind)
		assert.Equal(t, "https://example.com/{{region}}", loaded.Steps[0].Config["url"])
		assert.True(t, loaded.Steps[1].IsOptional)
		assert.Equal(t, "eu", loaded.Variables["region"])

		require.NoError(t, store.SaveDefinition(ctx, Definition("billing")))

		all, err := store.Definitions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, store.DeleteDefinition(ctx, "billing"))

		_, err = store.LoadDefinition(ctx, "billing")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	})

	t.Run("missing definition", func(t *testing.T) {
		store := factory(t)

		_, err := store.LoadDefinition(t.Context(), "nope")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

		err = store.DeleteDefinition(t.Context(), "nope")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	})

	t.Run("execution snapshot", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.SaveDefinition(ctx, Definition("onboarding")))

		execution := Execution("onboarding")
		require.NoError(t, store.SaveExecution(ctx, execution))

		fetch := &models.NodeState{NodeID: "fetch", Status: models.NodeStatusRunning, UpdatedAt: time.Now().UTC()}
		announce := &models.NodeState{NodeID: "announce", Status: models.NodeStatusPending, UpdatedAt: time.Now().UTC()}
		require.NoError(t, store.SaveNodeState(ctx, execution.ID, fetch))
		require.NoError(t, store.SaveNodeState(ctx, execution.ID, announce))

		first := Attempt(execution.ID, "fetch", 1)
		first.Status = models.AttemptStatusFailed
		first.ErrorKind = "timeout"
		first.ErrorDetail = "attempt exceeded deadline"
		first.BackoffMs = 500
		require.NoError(t, store.AppendAttempt(ctx, execution.ID, first))

		second := Attempt(execution.ID, "fetch", 2)
		require.NoError(t, store.AppendAttempt(ctx, execution.ID, second))

		fetch.Status = models.NodeStatusCompleted
		fetch.RetryCount = 1
		require.NoError(t, store.SaveNodeState(ctx, execution.ID, fetch))

		execution.Status = models.ExecutionStatusCompleted
		completed := time.Now().UTC().Truncate(time.Millisecond)
		execution.CompletedAt = &completed
		require.NoError(t, store.SaveExecution(ctx, execution))

		snapshot, err := store.LoadExecutionSnapshot(ctx, execution.ID)
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusCompleted, snapshot.Execution.Status)
		assert.Equal(t, "onboarding", snapshot.Execution.DefinitionID)
		assert.Equal(t, 4, snapshot.Execution.Parallelism)
		assert.Equal(t, "eu", snapshot.Execution.Context["region"])
		require.NotNil(t, snapshot.Execution.CompletedAt)

		require.Len(t, snapshot.Nodes, 2)
		require.NotNil(t, snapshot.Node("fetch"))
		assert.Equal(t, models.NodeStatusCompleted, snapshot.Node("fetch").Status)
		assert.Equal(t, 1, snapshot.Node("fetch").RetryCount)
		assert.Equal(t, models.NodeStatusPending, snapshot.Node("announce").Status)

		require.Len(t, snapshot.Attempts, 2)
		assert.Equal(t, first.ID, snapshot.Attempts[0].ID)
		assert.Equal(t, 1, snapshot.Attempts[0].AttemptNumber)
		assert.Equal(t, "timeout", snapshot.Attempts[0].ErrorKind)
		assert.Equal(t, int64(500), snapshot.Attempts[0].BackoffMs)
		assert.Equal(t, 2, snapshot.Attempts[1].AttemptNumber)
		assert.Equal(t, 200.0, snapshot.Attempts[1].Output["status_code"])
		assert.True(t, snapshot.Attempts[0].StartedAt.Equal(first.StartedAt))
	})

	t.Run("attempts are append only", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		execution := Execution("onboarding")
		require.NoError(t, store.SaveExecution(ctx, execution))

		attempt := Attempt(execution.ID, "fetch", 1)
		require.NoError(t, store.AppendAttempt(ctx, execution.ID, attempt))

		err := store.AppendAttempt(ctx, execution.ID, attempt)
		require.ErrorIs(t, err, persistence.ErrAttemptExists)
	})

	t.Run("unknown execution", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		id := uuid.NewString()

		_, err := store.LoadExecutionSnapshot(ctx, id)
		require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

		err = store.SaveNodeState(ctx, id, &models.NodeState{NodeID: "fetch", Status: models.NodeStatusPending})
		require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

		err = store.AppendAttempt(ctx, id, Attempt(id, "fetch", 1))
		require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	})

	t.Run("executions by definition", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		older := Execution("onboarding")
		older.CreatedAt = older.CreatedAt.Add(-time.Minute)
		newer := Execution("onboarding")
		other := Execution("billing")

		for _, e := range []*models.Execution{older, newer, other} {
			require.NoError(t, store.SaveExecution(ctx, e))
		}

		executions, err := store.Executions(ctx, "onboarding")
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, newer.ID, executions[0].ID)
		assert.Equal(t, older.ID, executions[1].ID)

		all, err := store.Executions(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("health check", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.HealthCheck(t.Context()))
	})
}
