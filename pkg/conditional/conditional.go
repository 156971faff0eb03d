// Package conditional evaluates step conditions against an execution context.
package conditional

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/template"
)

// ErrUnknownOperator is returned for operators outside the supported set.
var ErrUnknownOperator = errors.New("unknown condition operator")

// ValidateOperator checks the operator is one of equals, notEquals, greaterThan, lessThan, contains.
func ValidateOperator(op models.ConditionOperator) error {
	switch op {
	case models.OperatorEquals, models.OperatorNotEquals, models.OperatorGreaterThan,
		models.OperatorLessThan, models.OperatorContains:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

// Validate checks a condition is structurally evaluable.
func Validate(cond models.Condition) error {
	if strings.TrimSpace(fieldPath(cond.Field)) == "" {
		return errors.New("condition field is required")
	}

	return ValidateOperator(cond.Operator)
}

// Evaluate resolves the condition field and value against data and compares them.
func Evaluate(cond models.Condition, data map[string]any) (bool, error) {
	if err := ValidateOperator(cond.Operator); err != nil {
		return false, err
	}

	left, _ := template.Lookup(data, fieldPath(cond.Field))
	right := cond.Value

	if s, ok := right.(string); ok && template.NeedsTemplating(s) {
		right = template.Render(s, data)
	}

	return Compare(left, cond.Operator, right)
}

// Compare applies the operator to two already resolved operands.
//
// Both operands are compared as numbers when both parse as numbers, lexically otherwise.
// contains tests substring membership for strings and element membership for lists.
func Compare(left any, op models.ConditionOperator, right any) (bool, error) {
	switch op {
	case models.OperatorEquals:
		return compare(left, right) == 0, nil
	case models.OperatorNotEquals:
		return compare(left, right) != 0, nil
	case models.OperatorGreaterThan:
		return compare(left, right) > 0, nil
	case models.OperatorLessThan:
		return compare(left, right) < 0, nil
	case models.OperatorContains:
		return contains(left, right), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

func fieldPath(field string) string {
	f := strings.TrimSpace(field)
	if strings.HasPrefix(f, "{{") && strings.HasSuffix(f, "}}") {
		f = strings.TrimSpace(f[2 : len(f)-2])
	}

	return f
}

func compare(left, right any) int {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)

	if lok && rok {
		switch {
		case ln < rn:
			return -1
		case ln > rn:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(toString(left), toString(right))
}

func contains(container, item any) bool {
	if container == nil {
		return false
	}

	if s, ok := container.(string); ok {
		return strings.Contains(s, toString(item))
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := range rv.Len() {
			if compare(rv.Index(i).Interface(), item) == 0 {
				return true
			}
		}

		return false
	}

	if m, ok := container.(map[string]any); ok {
		_, exists := m[toString(item)]

		return exists
	}

	return strings.Contains(toString(container), toString(item))
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return template.Stringify(v)
}
