// Package main provides the playbook API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/services"
	"github.com/dukex/playbook/pkg/web"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger     *slog.Logger
	repository *workflow.Repository
	registry   *registry.Registry
	executor   *workflow.Executor
	validate   *validator.Validate
	app        *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	repository *workflow.Repository,
	registry *registry.Registry,
	executor *workflow.Executor,
) *API {
	return &API{
		logger:     logger,
		repository: repository,
		registry:   registry,
		executor:   executor,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	definitions := services.NewDefinitions(a.repository, a.registry, a.validate)
	handlers := web.NewAPIHandlers(definitions, a.executor, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: a.ready,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Playbook API")
	})

	handlers.Mount(app)

	a.app = app

	return app
}

// ready reports whether requests can be served: storage answers and handlers are loaded.
func (a *API) ready(c fiber.Ctx) bool {
	if _, ok := a.registry.HealthCheck(); !ok {
		return false
	}

	message, ok := a.repository.HealthCheck(c.Context())
	if !ok {
		a.logger.WarnContext(c.Context(), "readiness probe failed", "reason", message)
	}

	return ok
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.App().ShutdownWithContext(ctx)
}
