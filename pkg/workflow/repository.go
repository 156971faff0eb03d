package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/google/uuid"
)

// Repository stores definitions on top of the persistence gateway.
type Repository struct {
	persistence persistence.Persistence
	now         func() time.Time
}

func NewRepository(persistence persistence.Persistence) *Repository {
	return &Repository{
		persistence: persistence,
		now:         time.Now,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := r.persistence.Definitions(ctx)
	if err != nil {
		return make([]*models.WorkflowDefinition, 0), err
	}

	return definitions, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := r.persistence.LoadDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("load", id, persistence.ErrDefinitionNotFound)
	}

	return definition, nil
}

// Create assigns an id when missing, stamps timestamps and saves the definition.
func (r *Repository) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate definition id: %w", err)
		}

		definition.ID = id.String()
	}

	now := r.now().UTC()
	definition.CreatedAt = now
	definition.UpdatedAt = now
	definition.Normalize()

	if err := r.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *Repository) Update(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	existing, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.ID = id
	definition.CreatedAt = existing.CreatedAt
	definition.UpdatedAt = r.now().UTC()
	definition.Normalize()

	if err := r.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.FetchByID(ctx, id); err != nil {
		return err
	}

	return r.persistence.DeleteDefinition(ctx, id)
}

// FetchScheduled returns the definitions that declare a cron schedule.
func (r *Repository) FetchScheduled(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(definitions, func(d *models.WorkflowDefinition) bool {
		return d.Schedule == ""
	}), nil
}
