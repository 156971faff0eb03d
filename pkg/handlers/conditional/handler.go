// Package conditional provides a step handler that evaluates conditions into a boolean result.
package conditional

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/playbook/pkg/conditional"
	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
)

var ErrMissingConditions = errors.New("missing required field 'conditions'")

// Handler evaluates a list of conditions with all/any semantics.
// When fail_on_false is set a false result fails the step, which routes along the failure edge.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (*Handler) Kind() models.StepKind {
	return models.StepKindConditional
}

func (*Handler) Description() string {
	return "Evaluates conditions against the execution context and records the boolean result."
}

func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conditions": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field": map[string]any{
							"type":        "string",
							"description": "Bare dotted path into the execution context, without braces.",
						},
						"operator": map[string]any{
							"type": "string",
							"enum": []string{"equals", "notEquals", "greaterThan", "lessThan", "contains"},
						},
						"value": map[string]any{},
					},
					"required": []string{"field", "operator"},
				},
			},
			"mode": map[string]any{
				"type":    "string",
				"enum":    []string{"all", "any"},
				"default": "all",
			},
			"target": map[string]any{
				"type":        "string",
				"description": "Context key that receives the boolean result.",
			},
			"fail_on_false": map[string]any{
				"type":    "boolean",
				"default": false,
			},
		},
		"required": []string{"conditions"},
	}
}

func (h *Handler) Execute(_ context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	conditions, err := parseConditions(config["conditions"])
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	mode, _ := config["mode"].(string)
	matchAny := mode == "any"

	result := !matchAny

	for _, cond := range conditions {
		ok, err := conditional.Evaluate(cond, input.Context)
		if err != nil {
			return nil, protocol.Permanent(err)
		}

		if matchAny && ok {
			result = true

			break
		}

		if !matchAny && !ok {
			result = false

			break
		}
	}

	out := &protocol.Result{Output: map[string]any{"result": result}}

	if target, _ := config["target"].(string); target != "" {
		out.ContextPatch = map[string]any{target: result}
	}

	if failOnFalse, _ := config["fail_on_false"].(bool); failOnFalse && !result {
		return out, protocol.Permanent(errors.New("conditions evaluated to false"))
	}

	return out, nil
}

// DryRun evaluates the conditions; evaluation has no side effects.
func (h *Handler) DryRun(ctx context.Context, config map[string]any, input protocol.Input) (*protocol.Result, error) {
	return h.Execute(ctx, config, input)
}

func parseConditions(raw any) ([]models.Condition, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, ErrMissingConditions
	}

	conditions := make([]models.Condition, 0, len(list))

	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition %d is not an object", i)
		}

		field, _ := m["field"].(string)
		op, _ := m["operator"].(string)

		cond := models.Condition{Field: field, Operator: models.ConditionOperator(op), Value: m["value"]}
		if err := conditional.Validate(cond); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}

		conditions = append(conditions, cond)
	}

	return conditions, nil
}
