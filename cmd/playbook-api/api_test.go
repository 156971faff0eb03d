package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/cmd"
	"github.com/dukex/playbook/pkg/persistence/file"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())

	registry, err := cmd.NewRegistry(logger, "")
	require.NoError(t, err)

	executor := workflow.NewExecutor(persistence, registry, workflow.WithLogger(logger))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = executor.Close(ctx)
	})

	return NewAPI(logger, workflow.NewRepository(persistence), registry, executor).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Playbook API", body)
}

func TestAPI_LivenessProbe(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestAPI_ReadinessProbe(t *testing.T) {
	t.Parallel()

	status, _ := get(t, setupTestApp(t), "/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_MountsRoutes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := get(t, app, "/definitions")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"total_count":0`)

	status, _ = get(t, app, "/executions")
	assert.Equal(t, http.StatusOK, status)

	status, body = get(t, app, "/handlers")
	assert.Equal(t, http.StatusOK, status)

	for _, kind := range []string{"log", "transform", "http_request", "conditional", "delay", "noop"} {
		assert.Contains(t, body, kind)
	}
}
