// Package noop provides a handler that returns its configured output unchanged.
// It is useful for grouping and join nodes.
package noop

import (
	"context"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (*Handler) Kind() models.StepKind {
	return models.StepKindNoop
}

func (*Handler) Description() string {
	return "Does nothing and returns the configured output."
}

func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"output": map[string]any{"type": "object"},
		},
	}
}

func (*Handler) Execute(_ context.Context, config map[string]any, _ protocol.Input) (*protocol.Result, error) {
	output, _ := config["output"].(map[string]any)
	if output == nil {
		output = map[string]any{}
	}

	return &protocol.Result{Output: output}, nil
}

func (h *Handler) DryRun(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	return h.Execute(ctx, config, input)
}
