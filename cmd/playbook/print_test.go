package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/services"
	"github.com/stretchr/testify/assert"
)

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	now := time.Now()
	summary := &models.ExecutionSummary{
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusFailed,
		TotalNodes:  4,
		Progress:    0.5,
		Counts: map[models.NodeStatus]int{
			models.NodeStatusCompleted: 1,
			models.NodeStatusFailed:    1,
			models.NodeStatusBlocked:   2,
		},
		Timeline: []*models.Attempt{
			{NodeID: "fetch", AttemptNumber: 1, Status: models.AttemptStatusCompleted, DurationMs: 12, StartedAt: now},
			{
				NodeID:        "notify",
				AttemptNumber: 2,
				Status:        models.AttemptStatusFailed,
				DurationMs:    40,
				ErrorKind:     "TRANSIENT",
				ErrorDetail:   "connection reset",
				StartedAt:     now,
			},
		},
	}

	var out bytes.Buffer
	printSummary(&out, summary)

	text := out.String()
	assert.Contains(t, text, "Execution exec-1 FAILED")
	assert.Contains(t, text, "progress: 50% of 4 steps")
	assert.Contains(t, text, "BLOCKED    2")
	assert.NotContains(t, text, "SKIPPED")
	assert.Contains(t, text, "Timeline")
	assert.Contains(t, text, "TRANSIENT: connection reset")
}

func TestPrintValidation(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printValidation(&out, "campaign.yaml", &services.ValidationResult{
		Valid:     true,
		Warnings:  []string{"step wait: no handler registered for kind \"delay\""},
		Order:     []string{"send", "wait"},
		Roots:     []string{"send"},
		BackEdges: []graph.Edge{},
	})

	text := out.String()
	assert.Contains(t, text, "campaign.yaml is valid")
	assert.Contains(t, text, "warning: step wait")
	assert.Contains(t, text, "steps: send wait")
	assert.Contains(t, text, "roots: send")
}
