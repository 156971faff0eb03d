// Package events defines the typed notifications emitted while an execution advances.
package events

import (
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every playbook event on the bus.
const Topic = "playbook.events"

// Message metadata keys set on every published event.
const (
	EventMetadataKey       = "key"
	EventTypeMetadataKey   = "event_type"
	ExecutionIDMetadataKey = "execution_id"
)

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionStoppedEvent   EventType = "execution.stopped"
	ExecutionReopenedEvent  EventType = "execution.reopened"

	// Node events.
	NodeStartedEvent   EventType = "node.started"
	NodeAttemptEvent   EventType = "node.attempt"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeBlockedEvent   EventType = "node.blocked"
	NodeSkippedEvent   EventType = "node.skipped"
	NodeResetEvent     EventType = "node.reset"
)

// Event is implemented by every playbook event.
type Event interface {
	GetType() EventType
	GetExecutionID() string
}

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ExecutionID  string    `json:"execution_id"`
	DefinitionID string    `json:"definition_id"`
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func (b BaseEvent) GetExecutionID() string {
	return b.ExecutionID
}

func NewBaseEvent(eventType EventType, executionID, definitionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ExecutionID:  executionID,
		DefinitionID: definitionID,
	}
}

// ExecutionEvent reports a change of the execution status.
type ExecutionEvent struct {
	BaseEvent

	Status models.ExecutionStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
	DryRun bool                   `json:"dry_run,omitempty"`
}

func NewExecutionEvent(eventType EventType, execution *models.Execution) *ExecutionEvent {
	return &ExecutionEvent{
		BaseEvent: NewBaseEvent(eventType, execution.ID, execution.DefinitionID),
		Status:    execution.Status,
		Error:     execution.Error,
		DryRun:    execution.DryRun,
	}
}

// NodeEvent reports a node transition. Attempt events also carry the attempt record.
type NodeEvent struct {
	BaseEvent

	NodeID     string            `json:"node_id"`
	Status     models.NodeStatus `json:"status"`
	RetryCount int               `json:"retry_count"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	SkipKind   models.SkipKind   `json:"skip_kind,omitempty"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Attempt    *models.Attempt   `json:"attempt,omitempty"`
}

func NewNodeEvent(eventType EventType, execution *models.Execution, state *models.NodeState) *NodeEvent {
	return &NodeEvent{
		BaseEvent:  NewBaseEvent(eventType, execution.ID, execution.DefinitionID),
		NodeID:     state.NodeID,
		Status:     state.Status,
		RetryCount: state.RetryCount,
		Error:      state.LastError,
		ErrorKind:  state.ErrorKind,
		SkipKind:   state.SkipKind,
		SkipReason: state.SkipReason,
	}
}

// NodeEventType maps a terminal or running node status to its event type.
func NodeEventType(status models.NodeStatus) EventType {
	switch status {
	case models.NodeStatusRunning:
		return NodeStartedEvent
	case models.NodeStatusCompleted:
		return NodeCompletedEvent
	case models.NodeStatusFailed:
		return NodeFailedEvent
	case models.NodeStatusBlocked:
		return NodeBlockedEvent
	case models.NodeStatusSkipped:
		return NodeSkippedEvent
	default:
		return NodeResetEvent
	}
}

// ExecutionEventType maps an execution status to its event type.
func ExecutionEventType(status models.ExecutionStatus) EventType {
	switch status {
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent
	case models.ExecutionStatusStopped:
		return ExecutionStoppedEvent
	default:
		return ExecutionStartedEvent
	}
}

// New returns an empty event value for decoding a payload of the given type.
func New(eventType EventType) (Event, bool) {
	switch eventType {
	case ExecutionStartedEvent, ExecutionCompletedEvent, ExecutionFailedEvent,
		ExecutionStoppedEvent, ExecutionReopenedEvent:
		return &ExecutionEvent{}, true
	case NodeStartedEvent, NodeAttemptEvent, NodeCompletedEvent, NodeFailedEvent,
		NodeBlockedEvent, NodeSkippedEvent, NodeResetEvent:
		return &NodeEvent{}, true
	default:
		return nil, false
	}
}
