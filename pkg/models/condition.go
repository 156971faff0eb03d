package models

// ConditionOperator is a comparison supported by step conditions.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "notEquals"
	OperatorGreaterThan ConditionOperator = "greaterThan"
	OperatorLessThan    ConditionOperator = "lessThan"
	OperatorContains    ConditionOperator = "contains"
)

// Condition gates a step on a comparison against the execution context.
// Field is a dotted path; Value may contain {{placeholders}}.
type Condition struct {
	Field    string            `json:"field"    yaml:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" yaml:"operator" validate:"required"`
	Value    any               `json:"value"    yaml:"value"`
}
