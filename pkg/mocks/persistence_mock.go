package mocks

import (
	"context"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

var _ persistence.Persistence = (*MockPersistence)(nil)

// MockPersistence is a testify mock of the storage gateway.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockPersistence) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockPersistence) LoadDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockPersistence) DeleteDefinition(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error {
	args := m.Called(ctx, executionID, state)

	return args.Error(0)
}

func (m *MockPersistence) AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error {
	args := m.Called(ctx, executionID, attempt)

	return args.Error(0)
}

func (m *MockPersistence) LoadExecutionSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionSnapshot), args.Error(1)
}

func (m *MockPersistence) Executions(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	args := m.Called(ctx, definitionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
