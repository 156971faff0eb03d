package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	json "github.com/goccy/go-json"
	"github.com/lib/pq"
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// ExecutionRepository handles execution, node state and attempt database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, definition_id, status, context, parallelism, dry_run, error_message,
	created_at, started_at, completed_at`

// SaveExecution upserts the execution record.
func (er *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			parallelism = EXCLUDED.parallelism,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = er.db.ExecContext(ctx, query,
		execution.ID,
		execution.DefinitionID,
		execution.Status,
		contextJSON,
		execution.Parallelism,
		execution.DryRun,
		execution.Error,
		execution.CreatedAt,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

// SaveNodeState upserts the state of one node.
func (er *ExecutionRepository) SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error {
	query := `
		INSERT INTO node_states (
			execution_id, node_id, status, retry_count, last_error, error_kind,
			warning, skip_kind, skip_reason, forced, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			error_kind = EXCLUDED.error_kind,
			warning = EXCLUDED.warning,
			skip_kind = EXCLUDED.skip_kind,
			skip_reason = EXCLUDED.skip_reason,
			forced = EXCLUDED.forced,
			updated_at = EXCLUDED.updated_at
	`

	_, err := er.db.ExecContext(ctx, query,
		executionID,
		state.NodeID,
		state.Status,
		state.RetryCount,
		state.LastError,
		state.ErrorKind,
		state.Warning,
		state.SkipKind,
		state.SkipReason,
		state.Forced,
		state.UpdatedAt,
	)
	if err != nil {
		return persistence.NewNodeError("SaveNodeState", executionID, state.NodeID, mapError(err))
	}

	return nil
}

// AppendAttempt inserts an attempt. Existing attempts are never updated.
func (er *ExecutionRepository) AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error {
	outputJSON, err := json.Marshal(attempt.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt output: %w", err)
	}

	query := `
		INSERT INTO attempts (
			id, execution_id, node_id, attempt_number, started_at, completed_at,
			duration_ms, backoff_ms, status, error_kind, error_detail, output, dry_run
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = er.db.ExecContext(ctx, query,
		attempt.ID,
		executionID,
		attempt.NodeID,
		attempt.AttemptNumber,
		attempt.StartedAt,
		attempt.CompletedAt,
		attempt.DurationMs,
		attempt.BackoffMs,
		attempt.Status,
		attempt.ErrorKind,
		attempt.ErrorDetail,
		outputJSON,
		attempt.DryRun,
	)
	if err != nil {
		return persistence.NewNodeError("AppendAttempt", executionID, attempt.NodeID, mapError(err))
	}

	return nil
}

// LoadSnapshot reads an execution with its node states and attempts in one read-only transaction.
func (er *ExecutionRepository) LoadSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	tx, err := er.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, executionID)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	snapshot := &models.ExecutionSnapshot{Execution: execution}

	snapshot.Nodes, err = er.nodeStates(ctx, tx, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	snapshot.Attempts, err = er.attempts(ctx, tx, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("LoadExecutionSnapshot", executionID, err)
	}

	return snapshot, nil
}

func (er *ExecutionRepository) nodeStates(ctx context.Context, tx *sql.Tx, executionID string) ([]*models.NodeState, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT node_id, status, retry_count, last_error, error_kind, warning, skip_kind, skip_reason, forced, updated_at
		FROM node_states WHERE execution_id = $1 ORDER BY node_id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node states: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			er.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	var states []*models.NodeState

	for rows.Next() {
		var state models.NodeState

		err := rows.Scan(
			&state.NodeID,
			&state.Status,
			&state.RetryCount,
			&state.LastError,
			&state.ErrorKind,
			&state.Warning,
			&state.SkipKind,
			&state.SkipReason,
			&state.Forced,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node state: %w", err)
		}

		states = append(states, &state)
	}

	return states, rows.Err()
}

func (er *ExecutionRepository) attempts(ctx context.Context, tx *sql.Tx, executionID string) ([]*models.Attempt, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, node_id, attempt_number, started_at, completed_at, duration_ms, backoff_ms,
			status, error_kind, error_detail, output, dry_run
		FROM attempts WHERE execution_id = $1 ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			er.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	var attempts []*models.Attempt

	for rows.Next() {
		var (
			attempt    models.Attempt
			outputJSON []byte
		)

		err := rows.Scan(
			&attempt.ID,
			&attempt.NodeID,
			&attempt.AttemptNumber,
			&attempt.StartedAt,
			&attempt.CompletedAt,
			&attempt.DurationMs,
			&attempt.BackoffMs,
			&attempt.Status,
			&attempt.ErrorKind,
			&attempt.ErrorDetail,
			&outputJSON,
			&attempt.DryRun,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &attempt.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attempt output: %w", err)
			}
		}

		attempt.ExecutionID = executionID
		attempts = append(attempts, &attempt)
	}

	return attempts, rows.Err()
}

// GetByDefinition lists executions of a definition, newest first. An empty id lists all.
func (er *ExecutionRepository) GetByDefinition(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE ($1 = '' OR definition_id = $1) ORDER BY created_at DESC`

	rows, err := er.db.QueryContext(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			er.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		contextJSON []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.DefinitionID,
		&execution.Status,
		&contextJSON,
		&execution.Parallelism,
		&execution.DryRun,
		&execution.Error,
		&execution.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

// mapError turns constraint violations into persistence sentinels.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case foreignKeyViolation:
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, pqErr.Message)
	case uniqueViolation:
		return fmt.Errorf("%w: %s", persistence.ErrAttemptExists, pqErr.Message)
	default:
		return err
	}
}

// SaveExecution saves the execution record.
func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	return p.executionRepo.SaveExecution(ctx, execution)
}

// SaveNodeState saves one node state.
func (p *Persistence) SaveNodeState(ctx context.Context, executionID string, state *models.NodeState) error {
	return p.executionRepo.SaveNodeState(ctx, executionID, state)
}

// AppendAttempt appends an attempt record.
func (p *Persistence) AppendAttempt(ctx context.Context, executionID string, attempt *models.Attempt) error {
	return p.executionRepo.AppendAttempt(ctx, executionID, attempt)
}

// LoadExecutionSnapshot loads an execution with its node states and attempts.
func (p *Persistence) LoadExecutionSnapshot(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	return p.executionRepo.LoadSnapshot(ctx, executionID)
}

// Executions lists executions of a definition.
func (p *Persistence) Executions(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	return p.executionRepo.GetByDefinition(ctx, definitionID)
}
