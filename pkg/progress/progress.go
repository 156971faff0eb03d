// Package progress derives read-only views of an execution from its node states and attempt log.
package progress

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/playbook/pkg/models"
)

// Summarize counts node states and aggregates the attempt log per node.
// The sum of Counts always equals TotalNodes.
func Summarize(execution *models.Execution, nodes []*models.NodeState, attempts []*models.Attempt) *models.ExecutionSummary {
	summary := &models.ExecutionSummary{
		TotalNodes: len(nodes),
		Counts:     make(map[models.NodeStatus]int, len(models.NodeStatuses())),
		Nodes:      make(map[string]models.NodeSummary, len(nodes)),
		Timeline:   Timeline(attempts),
	}

	if execution != nil {
		summary.ExecutionID = execution.ID
		summary.Status = execution.Status
	}

	for _, status := range models.NodeStatuses() {
		summary.Counts[status] = 0
	}

	allTerminal := true

	for _, node := range nodes {
		summary.Counts[node.Status]++

		if !node.Status.IsTerminal() {
			allTerminal = false
		}

		summary.Nodes[node.NodeID] = models.NodeSummary{
			NodeID:    node.NodeID,
			Status:    node.Status,
			LastError: node.LastError,
			Warning:   node.Warning,
		}
	}

	for _, attempt := range attempts {
		ns, ok := summary.Nodes[attempt.NodeID]
		if !ok {
			continue
		}

		ns.TotalAttempts++
		ns.TotalDurationMs += attempt.DurationMs
		summary.Nodes[attempt.NodeID] = ns
	}

	if summary.TotalNodes > 0 {
		summary.Progress = float64(summary.Counts[models.NodeStatusCompleted]) / float64(summary.TotalNodes)
	}

	summary.IsComplete = allTerminal || (execution != nil && execution.Status.IsTerminal())

	return summary
}

// Timeline flattens the attempt log across nodes, sorted by start time.
func Timeline(attempts []*models.Attempt) []*models.Attempt {
	out := slices.Clone(attempts)

	slices.SortStableFunc(out, func(a, b *models.Attempt) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}

		if c := strings.Compare(a.NodeID, b.NodeID); c != 0 {
			return c
		}

		return a.AttemptNumber - b.AttemptNumber
	})

	return out
}

// GroupByNode returns the attempts of every node ordered by attempt number.
func GroupByNode(attempts []*models.Attempt) map[string][]*models.Attempt {
	grouped := map[string][]*models.Attempt{}

	for _, attempt := range attempts {
		grouped[attempt.NodeID] = append(grouped[attempt.NodeID], attempt)
	}

	for _, list := range grouped {
		slices.SortStableFunc(list, func(a, b *models.Attempt) int {
			return a.AttemptNumber - b.AttemptNumber
		})
	}

	return grouped
}

// Health diagnoses a running execution. ready lists the nodes the scheduler could launch now.
// An execution is stalled when it is RUNNING, nothing runs, nothing is ready and some node
// is still not terminal: only an operator retry or skip can move it forward.
func Health(execution *models.Execution, nodes []*models.NodeState, ready []string) *models.HealthReport {
	report := &models.HealthReport{Healthy: true}
	if execution != nil {
		report.ExecutionID = execution.ID
		report.Status = execution.Status
	}

	running := 0

	for _, node := range nodes {
		switch node.Status {
		case models.NodeStatusRunning:
			running++
		case models.NodeStatusPending:
			report.Pending = append(report.Pending, node.NodeID)
		case models.NodeStatusBlocked:
			report.Blocked = append(report.Blocked, node.NodeID)
		case models.NodeStatusFailed:
			report.Failed = append(report.Failed, node.NodeID)
		case models.NodeStatusCompleted, models.NodeStatusSkipped:
		}
	}

	if execution == nil || execution.Status != models.ExecutionStatusRunning {
		if execution != nil && execution.Status == models.ExecutionStatusFailed {
			report.Healthy = false
			report.Reason = terminalReason(report)
		}

		return report
	}

	if running == 0 && len(ready) == 0 && len(report.Pending) > 0 {
		report.Healthy = false
		report.Stalled = true
		report.Reason = fmt.Sprintf("stalled: %d pending node(s) cannot become ready; retry or skip %s",
			len(report.Pending), strings.Join(append(slices.Clone(report.Failed), report.Blocked...), ", "))
	}

	return report
}

func terminalReason(report *models.HealthReport) string {
	parts := []string{}
	if len(report.Failed) > 0 {
		parts = append(parts, "failed: "+strings.Join(report.Failed, ", "))
	}

	if len(report.Blocked) > 0 {
		parts = append(parts, "blocked: "+strings.Join(report.Blocked, ", "))
	}

	if len(parts) == 0 {
		return "execution failed"
	}

	return strings.Join(parts, "; ")
}
