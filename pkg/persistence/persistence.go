// Package persistence provides the storage gateway for definitions, executions, node states and attempts.
package persistence

import (
	"context"

	"github.com/dukex/playbook/pkg/models"
)

// Persistence is the storage gateway used by the executor and the API.
//
// Implementations must offer read-your-writes consistency within one process.
// Attempts are append-only: AppendAttempt never overwrites an existing record.
type Persistence interface {
	Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error
	LoadDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	SaveExecution(ctx context.Context, execution *models.Execution) error
	SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error
	AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error
	LoadExecutionSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error)
	Executions(ctx context.Context, definitionID string) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
