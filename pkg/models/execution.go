package models

import "time"

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusStopped   ExecutionStatus = "STOPPED"
)

// IsTerminal reports whether no further scheduling happens without operator input.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// NodeStatus is the state of one step within an Execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "PENDING"
	NodeStatusRunning   NodeStatus = "RUNNING"
	NodeStatusCompleted NodeStatus = "COMPLETED"
	NodeStatusFailed    NodeStatus = "FAILED"
	NodeStatusBlocked   NodeStatus = "BLOCKED"
	NodeStatusSkipped   NodeStatus = "SKIPPED"
)

// NodeStatuses lists every node status in reporting order.
func NodeStatuses() []NodeStatus {
	return []NodeStatus{
		NodeStatusPending,
		NodeStatusRunning,
		NodeStatusCompleted,
		NodeStatusFailed,
		NodeStatusBlocked,
		NodeStatusSkipped,
	}
}

// IsTerminal reports whether the node has reached an outcome.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusBlocked, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// SkipKind records why a node ended up SKIPPED.
type SkipKind string

const (
	// SkipKindOperator is an explicit operator skip.
	SkipKindOperator SkipKind = "operator"
	// SkipKindBranch marks a node whose incoming edges were all not taken.
	SkipKindBranch SkipKind = "branch"
	// SkipKindCondition marks a node whose own condition evaluated to false.
	SkipKindCondition SkipKind = "condition"
)

// Execution is one run of a WorkflowDefinition.
type Execution struct {
	ID           string          `json:"id"`
	DefinitionID string          `json:"definition_id"`
	Status       ExecutionStatus `json:"status"`
	Context      map[string]any  `json:"context"`
	Parallelism  int             `json:"parallelism"`
	DryRun       bool            `json:"dry_run"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NodeState is the live state of one step in one execution.
type NodeState struct {
	NodeID     string     `json:"node_id"`
	Status     NodeStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Warning    string     `json:"warning,omitempty"`
	SkipKind   SkipKind   `json:"skip_kind,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Forced     bool       `json:"forced,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// AttemptStatus is the outcome of a single attempt.
type AttemptStatus string

const (
	AttemptStatusCompleted AttemptStatus = "COMPLETED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
)

// Attempt is an immutable record of one timed try at a step.
type Attempt struct {
	ID            string         `json:"id"`
	ExecutionID   string         `json:"execution_id"`
	NodeID        string         `json:"node_id"`
	AttemptNumber int            `json:"attempt_number"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMs    int64          `json:"duration_ms"`
	BackoffMs     int64          `json:"backoff_ms,omitempty"`
	Status        AttemptStatus  `json:"status"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	DryRun        bool           `json:"dry_run,omitempty"`
}

// ExecutionSnapshot is everything persisted about one execution.
type ExecutionSnapshot struct {
	Execution *Execution   `json:"execution"`
	Nodes     []*NodeState `json:"nodes"`
	Attempts  []*Attempt   `json:"attempts"`
}

// Node returns the state of the given node, or nil.
func (s *ExecutionSnapshot) Node(id string) *NodeState {
	for _, n := range s.Nodes {
		if n.NodeID == id {
			return n
		}
	}

	return nil
}
