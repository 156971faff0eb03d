//go:build integration

package web_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/handlers/noop"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence/postgresql"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/services"
	"github.com/dukex/playbook/pkg/web"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_playbook",
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test_user:test_pass@%s:%s/test_playbook?sslmode=disable", host, port.Port())
}

func TestIntegration_ExecutionSurvivesExecutorRestart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	databaseURL := setupTestDB(t)

	store, err := postgresql.NewPersistence(t.Context(), logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(noop.NewHandler()))

	validate := validator.New(validator.WithRequiredStructEnabled())
	definitions := services.NewDefinitions(workflow.NewRepository(store), reg, validate)

	newAPI := func() *testAPI {
		executor := workflow.NewExecutor(store, reg, workflow.WithLogger(logger))
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = executor.Close(ctx)
		})

		app := fiber.New()
		web.NewAPIHandlers(definitions, executor, validate, reg).Mount(app)

		return &testAPI{app: app, executor: executor}
	}

	first := newAPI()
	id := first.start(t, web.StartExecutionRequest{
		Definition: &web.DefinitionRequest{
			Name:  "Postgres playbook",
			Steps: []*models.StepSpec{noopStep("a", "b"), noopStep("b", "")},
		},
	})

	// A fresh executor only has the database to go on.
	second := newAPI()

	status, body := second.do(t, http.MethodGet, "/executions/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var summary models.ExecutionSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, models.ExecutionStatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.Count(models.NodeStatusCompleted))
	assert.Len(t, summary.Timeline, 2)
}
