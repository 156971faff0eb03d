package models

// NodeSummary aggregates the attempt log of one node.
type NodeSummary struct {
	NodeID          string     `json:"node_id"`
	Status          NodeStatus `json:"status"`
	TotalAttempts   int        `json:"total_attempts"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	LastError       string     `json:"last_error,omitempty"`
	Warning         string     `json:"warning,omitempty"`
}

// ExecutionSummary is derived from node states and attempts, never stored.
type ExecutionSummary struct {
	ExecutionID string                 `json:"execution_id"`
	Status      ExecutionStatus        `json:"status"`
	TotalNodes  int                    `json:"total_nodes"`
	Counts      map[NodeStatus]int     `json:"counts"`
	Progress    float64                `json:"progress"`
	IsComplete  bool                   `json:"is_complete"`
	Nodes       map[string]NodeSummary `json:"nodes"`
	Timeline    []*Attempt             `json:"timeline"`
}

// Count returns the number of nodes in the given status.
func (s *ExecutionSummary) Count(status NodeStatus) int {
	return s.Counts[status]
}

// GraphExecutionStatus is the externally polled view of an execution.
type GraphExecutionStatus struct {
	Execution *Execution   `json:"execution"`
	Nodes     []*NodeState `json:"nodes"`
	Ready     []string     `json:"ready"`
	Running   []string     `json:"running"`
	Stalled   bool         `json:"stalled"`
}

// HealthReport diagnoses whether an execution can make progress on its own.
type HealthReport struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Healthy     bool            `json:"healthy"`
	Stalled     bool            `json:"stalled"`
	Reason      string          `json:"reason,omitempty"`
	Pending     []string        `json:"pending,omitempty"`
	Blocked     []string        `json:"blocked,omitempty"`
	Failed      []string        `json:"failed,omitempty"`
}
