// Package transform provides a data reshaping step handler.
package transform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
	"github.com/dukex/playbook/pkg/template"
)

// ErrMissingTemplate is returned when neither template nor input is configured.
var ErrMissingTemplate = errors.New("missing required field 'template' or 'input'")

// Handler builds an output object from its rendered template and optionally
// writes it back into the execution context.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "transform_handler")}
}

func (*Handler) Kind() models.StepKind {
	return models.StepKindTransform
}

func (*Handler) Description() string {
	return "Reshapes data from the execution context into a new object."
}

func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"description": "Value to produce. Strings, maps and lists are rendered against the execution context.",
				"examples": []any{
					map[string]any{"full_name": "{{lead.first_name}} {{lead.last_name}}", "score": "{{lead.score}}"},
					"{{steps.fetch.output.body.items}}",
				},
			},
			"input": map[string]any{
				"type":        "string",
				"description": "Dotted path in the execution context used as the value when no template is set.",
				"examples":    []string{"steps.fetch.output.body", "lead"},
			},
			"target": map[string]any{
				"type":        "string",
				"description": "Context key the result is written to. When empty the context is left untouched.",
			},
		},
	}
}

func (h *Handler) Execute(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	value, err := h.extract(config, input)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	h.logger.DebugContext(ctx, "Transform completed", "execution_id", input.ExecutionID, "step_id", input.StepID)

	result := &protocol.Result{Output: map[string]any{"result": value}}

	if target, _ := config["target"].(string); target != "" {
		result.ContextPatch = map[string]any{target: value}
	}

	return result, nil
}

// DryRun computes the same result; a transform only touches the execution context.
func (h *Handler) DryRun(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	return h.Execute(ctx, config, input)
}

func (h *Handler) extract(config map[string]any, input protocol.Input) (any, error) {
	if tmpl, ok := config["template"]; ok {
		return tmpl, nil
	}

	path, _ := config["input"].(string)
	if path == "" {
		return nil, ErrMissingTemplate
	}

	value, _ := template.Lookup(input.Context, path)

	return value, nil
}
