package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/playbook/pkg/graph"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ValidationResult is the outcome of checking a definition without running it.
type ValidationResult struct {
	Valid     bool         `json:"valid"`
	Problems  []string     `json:"problems,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	Order     []string     `json:"order,omitempty"`
	Roots     []string     `json:"roots,omitempty"`
	BackEdges []graph.Edge `json:"back_edges,omitempty"`
}

func (r *ValidationResult) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Definitions manages playbook and campaign definitions. Nothing invalid is ever stored.
type Definitions struct {
	repository *workflow.Repository
	registry   *registry.Registry
	validate   *validator.Validate
}

func NewDefinitions(repository *workflow.Repository, registry *registry.Registry, validate *validator.Validate) *Definitions {
	return &Definitions{
		repository: repository,
		registry:   registry,
		validate:   validate,
	}
}

func (d *Definitions) HealthCheck(ctx context.Context) (string, bool) {
	return d.repository.HealthCheck(ctx)
}

// Validate checks struct tags, graph shape, the cron schedule and every step config
// against its handler schema. Kinds without a handler are reported as warnings since
// plugins may register them later.
func (d *Definitions) Validate(definition *models.WorkflowDefinition) *ValidationResult {
	result := &ValidationResult{}

	if definition == nil {
		result.problem("%s", ErrDefinitionNil)

		return result
	}

	def := definition.Clone()
	def.Normalize()

	if err := d.validate.Struct(def); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				result.problem("%s failed on '%s'", fe.Namespace(), fe.Tag())
			}
		} else {
			result.problem("%v", err)
		}
	}

	g, err := graph.Build(def)
	if err != nil {
		var verr *graph.GraphValidationError
		if errors.As(err, &verr) {
			result.Problems = append(result.Problems, verr.Problems...)
		} else {
			result.problem("%v", err)
		}
	} else {
		result.Order = g.Order()
		result.Roots = g.Roots()
		result.BackEdges = g.BackEdges()
	}

	if def.Schedule != "" {
		if _, err := cron.ParseStandard(def.Schedule); err != nil {
			result.problem("schedule %q: %v", def.Schedule, err)
		}
	}

	for _, step := range def.Steps {
		if step == nil || step.Kind == "" {
			continue
		}

		if _, err := d.registry.Resolve(step.Kind); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("step %s: no handler registered for kind %q", step.ID, step.Kind))

			continue
		}

		if err := d.registry.ValidateConfig(step); err != nil {
			result.problem("%v", err)
		}
	}

	result.Valid = len(result.Problems) == 0

	return result
}

func (d *Definitions) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := d.check("create", definition); err != nil {
		return nil, err
	}

	created, err := d.repository.Create(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	return created, nil
}

func (d *Definitions) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.repository.FetchByID(ctx, id)
}

func (d *Definitions) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := d.repository.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

// Update replaces a stored definition. Running executions keep the copy they started with.
func (d *Definitions) Update(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := d.check("update", definition); err != nil {
		return nil, err
	}

	return d.repository.Update(ctx, id, definition)
}

func (d *Definitions) Delete(ctx context.Context, id string) error {
	return d.repository.Delete(ctx, id)
}

func (d *Definitions) check(op string, definition *models.WorkflowDefinition) error {
	if definition == nil {
		return NewValidationError(op, "DEFINITION_NIL", "", ErrDefinitionNil)
	}

	result := d.Validate(definition)
	if !result.Valid {
		return NewValidationError(op, "INVALID_DEFINITION",
			strings.Join(result.Problems, "; "), ErrInvalidDefinition)
	}

	return nil
}
