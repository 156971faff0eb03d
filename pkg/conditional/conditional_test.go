package conditional

import (
	"testing"

	"github.com/dukex/playbook/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"lead": map[string]any{
			"score":   "42",
			"name":    "acme",
			"segment": "enterprise",
			"tags":    []any{"b2b", "priority", 7.0},
		},
		"threshold": 10.0,
		"version":   "9",
	}

	tests := []struct {
		name     string
		cond     models.Condition
		expected bool
	}{
		{"equals string", models.Condition{Field: "lead.name", Operator: models.OperatorEquals, Value: "acme"}, true},
		{"equals numeric coercion", models.Condition{Field: "lead.score", Operator: models.OperatorEquals, Value: 42}, true},
		{"equals numeric strings", models.Condition{Field: "lead.score", Operator: models.OperatorEquals, Value: "42.0"}, true},
		{"notEquals", models.Condition{Field: "lead.name", Operator: models.OperatorNotEquals, Value: "globex"}, true},
		{"greaterThan numeric", models.Condition{Field: "lead.score", Operator: models.OperatorGreaterThan, Value: "{{threshold}}"}, true},
		{"lessThan numeric not lexical", models.Condition{Field: "version", Operator: models.OperatorLessThan, Value: "10"}, true},
		{"greaterThan lexical", models.Condition{Field: "lead.segment", Operator: models.OperatorGreaterThan, Value: "consumer"}, true},
		{"lessThan lexical", models.Condition{Field: "lead.name", Operator: models.OperatorLessThan, Value: "Acme"}, false},
		{"contains substring", models.Condition{Field: "lead.segment", Operator: models.OperatorContains, Value: "prise"}, true},
		{"contains list member", models.Condition{Field: "lead.tags", Operator: models.OperatorContains, Value: "priority"}, true},
		{"contains list numeric member", models.Condition{Field: "lead.tags", Operator: models.OperatorContains, Value: "7"}, true},
		{"contains list missing", models.Condition{Field: "lead.tags", Operator: models.OperatorContains, Value: "b2c"}, false},
		{"field wrapped in braces", models.Condition{Field: "{{lead.name}}", Operator: models.OperatorEquals, Value: "acme"}, true},
		{"missing field equals empty", models.Condition{Field: "lead.owner", Operator: models.OperatorEquals, Value: ""}, true},
		{"missing field contains", models.Condition{Field: "lead.owner", Operator: models.OperatorContains, Value: "x"}, false},
		{"missing placeholder value", models.Condition{Field: "lead.name", Operator: models.OperatorEquals, Value: "{{nope}}"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := Evaluate(tt.cond, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := Evaluate(models.Condition{Field: "a", Operator: "matches", Value: "x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(models.Condition{Field: "a.b", Operator: models.OperatorContains}))
	require.Error(t, Validate(models.Condition{Field: " ", Operator: models.OperatorEquals}))
	require.Error(t, Validate(models.Condition{Field: "{{ }}", Operator: models.OperatorEquals}))
	require.ErrorIs(t, Validate(models.Condition{Field: "a", Operator: "gte"}), ErrUnknownOperator)
}
