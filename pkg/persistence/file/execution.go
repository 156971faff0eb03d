package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
)

// ExecutionRepository stores executions, node states and attempts as one directory per execution.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir(executionID string) string {
	return filepath.Join(er.root, "executions", executionID)
}

// nodeFile escapes node ids, which are author-supplied and may contain separators.
func nodeFile(nodeID string) string {
	return url.PathEscape(nodeID) + ".json"
}

// SaveExecution writes the execution record.
func (er *ExecutionRepository) SaveExecution(_ context.Context, execution *models.Execution) error {
	if err := persistence.ValidateID(execution.ID); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	if err := writeJSON(filepath.Join(er.dir(execution.ID), "execution.json"), execution); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

// SaveNodeState overwrites the state of one node.
func (er *ExecutionRepository) SaveNodeState(_ context.Context, executionID string, state *models.NodeState) error {
	if err := er.exists(executionID); err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	path := filepath.Join(er.dir(executionID), "nodes", nodeFile(state.NodeID))
	if err := writeJSON(path, state); err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, err)
	}

	return nil
}

// AppendAttempt writes a new attempt file and refuses to overwrite an existing one.
func (er *ExecutionRepository) AppendAttempt(_ context.Context, executionID string, attempt *models.Attempt) error {
	if err := er.exists(executionID); err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	if err := persistence.ValidateID(attempt.ID); err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	path := filepath.Join(er.dir(executionID), "attempts", attempt.ID+".json")
	if _, err := os.Stat(path); err == nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, persistence.ErrAttemptExists)
	}

	if err := writeJSON(path, attempt); err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, err)
	}

	return nil
}

// LoadSnapshot reads the execution with all node states and attempts.
func (er *ExecutionRepository) LoadSnapshot(_ context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	if err := persistence.ValidateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	var execution models.Execution

	err := readJSON(filepath.Join(er.dir(executionID), "execution.json"), &execution)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	snapshot := &models.ExecutionSnapshot{Execution: &execution}

	nodeFiles, err := filepath.Glob(filepath.Join(er.dir(executionID), "nodes", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list node states: %w", err)
	}

	for _, file := range nodeFiles {
		var state models.NodeState
		if err := readJSON(file, &state); err != nil {
			return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
		}

		snapshot.Nodes = append(snapshot.Nodes, &state)
	}

	attemptFiles, err := filepath.Glob(filepath.Join(er.dir(executionID), "attempts", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	for _, file := range attemptFiles {
		var attempt models.Attempt
		if err := readJSON(file, &attempt); err != nil {
			return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
		}

		snapshot.Attempts = append(snapshot.Attempts, &attempt)
	}

	sort.SliceStable(snapshot.Nodes, func(i, j int) bool { return snapshot.Nodes[i].NodeID < snapshot.Nodes[j].NodeID })
	// Attempt ids are ULIDs, so file order is creation order already.
	sort.SliceStable(snapshot.Attempts, func(i, j int) bool { return snapshot.Attempts[i].ID < snapshot.Attempts[j].ID })

	return snapshot, nil
}

// GetByDefinition lists executions of one definition, newest first. An empty id lists all.
func (er *ExecutionRepository) GetByDefinition(_ context.Context, definitionID string) ([]*models.Execution, error) {
	files, err := filepath.Glob(filepath.Join(er.root, "executions", "*", "execution.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(files))

	for _, file := range files {
		var execution models.Execution
		if err := readJSON(file, &execution); err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", filepath.Base(filepath.Dir(file)), err)
		}

		if definitionID != "" && execution.DefinitionID != definitionID {
			continue
		}

		executions = append(executions, &execution)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) exists(executionID string) error {
	if err := persistence.ValidateID(executionID); err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(er.dir(executionID), "execution.json")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.ErrExecutionNotFound
		}

		return err
	}

	return nil
}

// SaveExecution saves the execution record.
func (fp *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	return fp.executionRepo.SaveExecution(ctx, execution)
}

// SaveNodeState saves one node state.
func (fp *Persistence) SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error {
	return fp.executionRepo.SaveNodeState(ctx, executionID, state)
}

// AppendAttempt appends an attempt record.
func (fp *Persistence) AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error {
	return fp.executionRepo.AppendAttempt(ctx, executionID, attempt)
}

// LoadExecutionSnapshot loads an execution with its node states and attempts.
func (fp *Persistence) LoadExecutionSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	return fp.executionRepo.LoadSnapshot(ctx, executionID)
}

// Executions lists executions of a definition.
func (fp *Persistence) Executions(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	return fp.executionRepo.GetByDefinition(ctx, definitionID)
}
