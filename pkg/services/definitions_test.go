package services

import (
	"io"
	"log/slog"
	"testing"

	loghandler "github.com/dukex/playbook/pkg/handlers/log"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence/file"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDefinitions(t *testing.T) *Definitions {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(loghandler.NewHandler(logger)))

	return NewDefinitions(
		workflow.NewRepository(file.NewPersistence(t.TempDir())),
		reg,
		validator.New(validator.WithRequiredStructEnabled()),
	)
}

func logStep(id, next string) *models.StepSpec {
	return &models.StepSpec{
		ID:              id,
		Kind:            models.StepKindLog,
		Config:          map[string]any{"message": "step " + id},
		OnSuccessStepID: next,
	}
}

func TestDefinitions_CreateAndGet(t *testing.T) {
	t.Parallel()

	service := newTestDefinitions(t)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:  "Onboarding campaign",
		Steps: []*models.StepSpec{logStep("welcome", "follow-up"), logStep("follow-up", "")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	fetched, err := service.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Onboarding campaign", fetched.Name)
	assert.Len(t, fetched.Steps, 2)

	all, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDefinitions_RejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		definition *models.WorkflowDefinition
		problem    string
	}{
		{
			name: "required cycle",
			definition: &models.WorkflowDefinition{
				Name:  "Cyclic playbook",
				Steps: []*models.StepSpec{logStep("a", "b"), logStep("b", "a")},
			},
			problem: "cycle",
		},
		{
			name: "dangling edge",
			definition: &models.WorkflowDefinition{
				Name:  "Dangling playbook",
				Steps: []*models.StepSpec{logStep("a", "missing")},
			},
			problem: "missing",
		},
		{
			name: "config does not match schema",
			definition: &models.WorkflowDefinition{
				Name:  "Silent playbook",
				Steps: []*models.StepSpec{{ID: "a", Kind: models.StepKindLog}},
			},
			problem: "message",
		},
		{
			name: "bad schedule",
			definition: &models.WorkflowDefinition{
				Name:     "Nightly campaign",
				Schedule: "every night",
				Steps:    []*models.StepSpec{logStep("a", "")},
			},
			problem: "schedule",
		},
		{
			name: "name too short",
			definition: &models.WorkflowDefinition{
				Name:  "ab",
				Steps: []*models.StepSpec{logStep("a", "")},
			},
			problem: "Name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := newTestDefinitions(t)

			_, err := service.Create(t.Context(), tt.definition)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.problem)

			all, err := service.List(t.Context())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestDefinitions_ValidateReportsShape(t *testing.T) {
	t.Parallel()

	service := newTestDefinitions(t)

	result := service.Validate(&models.WorkflowDefinition{
		Name: "Incident response",
		Steps: []*models.StepSpec{
			logStep("triage", "wait"),
			{ID: "wait", Kind: models.StepKindDelay, Config: map[string]any{"duration": "1s"}},
		},
	})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Problems)
	assert.Equal(t, []string{"triage", "wait"}, result.Order)
	assert.Equal(t, []string{"triage"}, result.Roots)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "delay")

	nilResult := service.Validate(nil)
	assert.False(t, nilResult.Valid)
}

func TestDefinitions_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	service := newTestDefinitions(t)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:  "Original playbook",
		Steps: []*models.StepSpec{logStep("a", "")},
	})
	require.NoError(t, err)

	_, err = service.Update(t.Context(), created.ID, &models.WorkflowDefinition{
		Name:  "Broken",
		Steps: []*models.StepSpec{logStep("a", "a")},
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	updated, err := service.Update(t.Context(), created.ID, &models.WorkflowDefinition{
		Name:  "Renamed playbook",
		Steps: []*models.StepSpec{logStep("a", "b"), logStep("b", "")},
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.Get(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))

	message, healthy := service.HealthCheck(t.Context())
	assert.True(t, healthy, message)
}
