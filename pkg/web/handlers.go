// Package web provides HTTP handlers and REST API endpoints for definitions and executions.
package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/dukex/playbook/pkg/registry"
	"github.com/dukex/playbook/pkg/services"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	definitions *services.Definitions
	executor    *workflow.Executor
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	definitions *services.Definitions,
	executor *workflow.Executor,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		executor:    executor,
		validator:   validator,
		registry:    registry,
	}
}

// Mount registers every route of the API on the router.
func (h *APIHandlers) Mount(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/handlers", h.GetHandlers)

	d := router.Group("/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Post("/validate", h.ValidateDefinition)
	d.Get("/:id", h.GetDefinition)
	d.Put("/:id", h.UpdateDefinition)
	d.Delete("/:id", h.DeleteDefinition)
	d.Post("/:id/validate", h.ValidateStoredDefinition)

	e := router.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Post("/", h.StartExecution)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/summary", h.GetExecutionSummary)
	e.Get("/:id/logs", h.GetExecutionLogs)
	e.Get("/:id/health", h.GetExecutionHealth)
	e.Post("/:id/stop", h.StopExecution)
	e.Post("/:id/nodes/:nodeId/retry", h.RetryTask)
	e.Post("/:id/nodes/:nodeId/skip", h.SkipTask)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.definitions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Playbook API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Playbook API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetHandlers(c fiber.Ctx) error {
	return c.JSON(h.registry.Describe())
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitions.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	req, err := h.bindDefinition(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	created, err := h.definitions.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	req, err := h.bindDefinition(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	updated, err := h.definitions.Update(c.Context(), c.Params("id"), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	if err := h.definitions.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateDefinition checks an inline definition without storing it.
func (h *APIHandlers) ValidateDefinition(c fiber.Ctx) error {
	var req DefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return c.JSON(h.definitions.Validate(req.Definition()))
}

func (h *APIHandlers) ValidateStoredDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.definitions.Validate(definition))
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	executions, err := h.executor.Executions(c.Context(), c.Query("definition_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var (
		executionID string
		err         error
	)

	if req.Definition != nil {
		definition := req.Definition.Definition()

		if result := h.definitions.Validate(definition); !result.Valid {
			return handleServiceError(c, services.NewValidationError("start", "INVALID_DEFINITION",
				strings.Join(result.Problems, "; "), services.ErrInvalidDefinition))
		}

		executionID, err = h.executor.StartDefinition(c.Context(), definition, req.Input, req.Options())
	} else {
		executionID, err = h.executor.Start(c.Context(), req.DefinitionID, req.Input, req.Options())
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: executionID,
		DryRun:      req.DryRun,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	status, err := h.executor.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) GetExecutionSummary(c fiber.Ctx) error {
	summary, err := h.executor.Summary(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")

	logs, err := h.executor.Logs(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(LogsResponse{ExecutionID: id, Nodes: logs})
}

func (h *APIHandlers) GetExecutionHealth(c fiber.Ctx) error {
	report, err := h.executor.Health(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) StopExecution(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.executor.Stop(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CommandResponse{ExecutionID: id, Command: "stop", AcceptedAt: time.Now().UTC()})
}

func (h *APIHandlers) RetryTask(c fiber.Ctx) error {
	id, nodeID := c.Params("id"), c.Params("nodeId")

	if err := h.executor.RetryTask(c.Context(), id, nodeID); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CommandResponse{ExecutionID: id, NodeID: nodeID, Command: "retry", AcceptedAt: time.Now().UTC()})
}

func (h *APIHandlers) SkipTask(c fiber.Ctx) error {
	id, nodeID := c.Params("id"), c.Params("nodeId")

	var req SkipTaskRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.executor.SkipTask(c.Context(), id, nodeID, req.Reason); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CommandResponse{ExecutionID: id, NodeID: nodeID, Command: "skip", AcceptedAt: time.Now().UTC()})
}

// bindDefinition parses and validates a definition body.
func (h *APIHandlers) bindDefinition(c fiber.Ctx) (*DefinitionRequest, error) {
	var req DefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, services.NewValidationError("bind", "INVALID_JSON", "Invalid JSON format", services.ErrInvalidRequest)
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, services.NewValidationError("bind", "INVALID_REQUEST", err.Error(), services.ErrInvalidRequest)
	}

	return &req, nil
}
