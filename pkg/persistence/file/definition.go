package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
)

// DefinitionRepository handles definition-related file operations.
type DefinitionRepository struct {
	root string
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (dr *DefinitionRepository) path(id string) string {
	return filepath.Join(dr.root, "definitions", id+".json")
}

// GetAll returns every definition ordered by creation time.
func (dr *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	files, err := fs.Glob(os.DirFS(dr.root), "definitions/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, file := range files {
		id := strings.TrimSuffix(filepath.Base(file), ".json")

		definition, err := dr.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
		}

		definitions = append(definitions, definition)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// GetByID retrieves a definition by its ID from the file system.
func (dr *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	var definition models.WorkflowDefinition

	err := readJSON(dr.path(id), &definition)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	return &definition, nil
}

// Save saves a definition to the file system, stamping its timestamps.
func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := persistence.ValidateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if err := writeJSON(dr.path(definition.ID), definition); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// Delete removes a definition from the file system.
func (dr *DefinitionRepository) Delete(_ context.Context, id string) error {
	if err := persistence.ValidateID(id); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	err := os.Remove(dr.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

// Definitions returns all stored definitions.
func (fp *Persistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return fp.definitionRepo.GetAll(ctx)
}

// SaveDefinition saves a definition.
func (fp *Persistence) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	return fp.definitionRepo.Save(ctx, definition)
}

// LoadDefinition loads a definition by id.
func (fp *Persistence) LoadDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return fp.definitionRepo.GetByID(ctx, id)
}

// DeleteDefinition deletes a definition by id.
func (fp *Persistence) DeleteDefinition(ctx context.Context, id string) error {
	return fp.definitionRepo.Delete(ctx, id)
}
