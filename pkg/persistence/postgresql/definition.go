package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	json "github.com/goccy/go-json"
)

// DefinitionRepository handles definition-related database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `id, name, description, schedule, variables, steps, created_at, updated_at`

// GetAll returns all definitions ordered by creation time.
func (dr *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := dr.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM definitions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			dr.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}

	return definitions, nil
}

// GetByID retrieves a definition by its ID.
func (dr *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := dr.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM definitions WHERE id = $1`, id)

	definition, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	return definition, nil
}

// Save upserts a definition, stamping its timestamps.
func (dr *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	variablesJSON, err := json.Marshal(definition.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	stepsJSON, err := json.Marshal(definition.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			schedule = EXCLUDED.schedule,
			variables = EXCLUDED.variables,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at
	`

	_, err = dr.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		definition.Description,
		definition.Schedule,
		variablesJSON,
		stepsJSON,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// Delete removes a definition.
func (dr *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := dr.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = $1`, id)
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition    models.WorkflowDefinition
		variablesJSON []byte
		stepsJSON     []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.Description,
		&definition.Schedule,
		&variablesJSON,
		&stepsJSON,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variablesJSON, &definition.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &definition.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &definition, nil
}

// Definitions returns all definitions.
func (p *Persistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return p.definitionRepo.GetAll(ctx)
}

// SaveDefinition saves a definition.
func (p *Persistence) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	return p.definitionRepo.Save(ctx, definition)
}

// LoadDefinition loads a definition by id.
func (p *Persistence) LoadDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return p.definitionRepo.GetByID(ctx, id)
}

// DeleteDefinition deletes a definition by id.
func (p *Persistence) DeleteDefinition(ctx context.Context, id string) error {
	return p.definitionRepo.Delete(ctx, id)
}
