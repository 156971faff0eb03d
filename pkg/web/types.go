// Package web provides HTTP request and response types for the playbook API.
package web

import (
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/workflow"
)

// DefinitionRequest is the body for creating, updating or validating a definition.
type DefinitionRequest struct {
	Name        string             `json:"name"                  validate:"required,min=3"`
	Description string             `json:"description,omitempty"`
	Steps       []*models.StepSpec `json:"steps"                 validate:"required,min=1"`
	Variables   map[string]any     `json:"variables,omitempty"`
	Schedule    string             `json:"schedule,omitempty"`
}

// Definition converts the request into a definition model.
func (r *DefinitionRequest) Definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:        r.Name,
		Description: r.Description,
		Steps:       r.Steps,
		Variables:   r.Variables,
		Schedule:    r.Schedule,
	}
}

// StartExecutionRequest starts either a stored definition or an inline one.
type StartExecutionRequest struct {
	DefinitionID string             `json:"definition_id,omitempty" validate:"required_without=Definition"`
	Definition   *DefinitionRequest `json:"definition,omitempty"    validate:"required_without=DefinitionID"`
	Input        map[string]any     `json:"input,omitempty"`
	Parallelism  int                `json:"parallelism,omitempty"   validate:"gte=0,lte=256"`
	DryRun       bool               `json:"dry_run,omitempty"`
}

// Options returns the per-execution options of the request.
func (r *StartExecutionRequest) Options() workflow.StartOptions {
	return workflow.StartOptions{Parallelism: r.Parallelism, DryRun: r.DryRun}
}

type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	DryRun      bool   `json:"dry_run"`
}

type SkipTaskRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=512"`
}

// CommandResponse acknowledges an operator command.
type CommandResponse struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id,omitempty"`
	Command     string    `json:"command"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// LogsResponse groups attempts by node, each group ordered by attempt number.
type LogsResponse struct {
	ExecutionID string                       `json:"execution_id"`
	Nodes       map[string][]*models.Attempt `json:"nodes"`
}
