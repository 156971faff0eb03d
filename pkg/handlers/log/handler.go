// Package log provides the log step handler.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
)

// Handler writes a rendered message through the structured logger.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new log handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "log_handler")}
}

// Kind returns the step kind served by this handler.
func (*Handler) Kind() models.StepKind {
	return models.StepKindLog
}

// Description returns a brief description of the handler.
func (*Handler) Description() string {
	return "Logs a message at a specified level. Supports templating for dynamic content."
}

// Schema returns the JSON schema for the step configuration.
func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"description": "The message to log. Supports templating for dynamic content.",
				"examples": []string{
					"Workflow step completed successfully",
					"Processing lead: {{lead.name}}",
					"HTTP request returned status {{steps.fetch.output.status_code}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}

// Execute logs the message. Logging has no external side effect, so dry runs execute it too.
func (h *Handler) Execute(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	message := fmt.Sprint(config["message"])
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	logger := h.logger.With("execution_id", input.ExecutionID, "step_id", input.StepID, "attempt", input.Attempt)

	switch strings.ToLower(level) {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn", "warning":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return &protocol.Result{
		Output: map[string]any{
			"message": message,
			"level":   level,
		},
	}, nil
}

// DryRun is Execute: logging is observable only in the engine's own output.
func (h *Handler) DryRun(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	return h.Execute(ctx, config, input)
}
