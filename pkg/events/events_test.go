package events

import (
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeEvent_JSONSerialization(t *testing.T) {
	t.Parallel()

	execution := &models.Execution{ID: "exec-1", DefinitionID: "def-1", Status: models.ExecutionStatusRunning}
	state := &models.NodeState{
		NodeID:     "check",
		Status:     models.NodeStatusFailed,
		RetryCount: 2,
		LastError:  "boom",
		ErrorKind:  "handler_error",
	}

	original := NewNodeEvent(NodeFailedEvent, execution, state)
	original.Attempt = &models.Attempt{ID: "a1", NodeID: "check", AttemptNumber: 3, StartedAt: time.Unix(10, 0).UTC()}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"node.failed"`)
	assert.Contains(t, string(data), `"execution_id":"exec-1"`)
	assert.Contains(t, string(data), `"node_id":"check"`)

	decoded, ok := New(NodeFailedEvent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(data, decoded))

	node, ok := decoded.(*NodeEvent)
	require.True(t, ok)
	assert.Equal(t, NodeFailedEvent, node.GetType())
	assert.Equal(t, "exec-1", node.GetExecutionID())
	assert.Equal(t, 2, node.RetryCount)
	assert.Equal(t, "handler_error", node.ErrorKind)
	assert.Equal(t, 3, node.Attempt.AttemptNumber)
}

func TestExecutionEvent_FromExecution(t *testing.T) {
	t.Parallel()

	event := NewExecutionEvent(ExecutionFailedEvent, &models.Execution{
		ID:           "exec-2",
		DefinitionID: "def-2",
		Status:       models.ExecutionStatusFailed,
		Error:        "required step failed",
		DryRun:       true,
	})

	assert.Equal(t, ExecutionFailedEvent, event.GetType())
	assert.Equal(t, "def-2", event.DefinitionID)
	assert.Equal(t, "required step failed", event.Error)
	assert.True(t, event.DryRun)
	assert.NotEmpty(t, event.ID)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Minute)
}

func TestEventTypeMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NodeStartedEvent, NodeEventType(models.NodeStatusRunning))
	assert.Equal(t, NodeBlockedEvent, NodeEventType(models.NodeStatusBlocked))
	assert.Equal(t, NodeSkippedEvent, NodeEventType(models.NodeStatusSkipped))
	assert.Equal(t, NodeResetEvent, NodeEventType(models.NodeStatusPending))

	assert.Equal(t, ExecutionCompletedEvent, ExecutionEventType(models.ExecutionStatusCompleted))
	assert.Equal(t, ExecutionStoppedEvent, ExecutionEventType(models.ExecutionStatusStopped))
	assert.Equal(t, ExecutionStartedEvent, ExecutionEventType(models.ExecutionStatusRunning))

	_, ok := New("trigger.created")
	assert.False(t, ok)
}
