// Package models defines the core domain models for task-graph playbook execution
package models

import (
	"time"
)

// DefaultStepTimeoutSeconds is applied to steps declared without a timeout.
const DefaultStepTimeoutSeconds = 300

// StepKind discriminates the handler a step is dispatched to.
type StepKind string

const (
	StepKindLog         StepKind = "log"
	StepKindTransform   StepKind = "transform"
	StepKindHTTPRequest StepKind = "http_request"
	StepKindConditional StepKind = "conditional"
	StepKindDelay       StepKind = "delay"
	StepKindNoop        StepKind = "noop"
)

// StepKinds lists every kind a definition may declare.
func StepKinds() []StepKind {
	return []StepKind{
		StepKindLog,
		StepKindTransform,
		StepKindHTTPRequest,
		StepKindConditional,
		StepKindDelay,
		StepKindNoop,
	}
}

// Valid reports whether the kind is one of the known step kinds.
func (k StepKind) Valid() bool {
	for _, known := range StepKinds() {
		if k == known {
			return true
		}
	}

	return false
}

// WorkflowDefinition is the immutable description of a playbook or campaign graph.
type WorkflowDefinition struct {
	ID          string         `json:"id"                    yaml:"id"`
	Name        string         `json:"name"                  yaml:"name"                  validate:"required,min=3"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*StepSpec    `json:"steps"                 yaml:"steps"                 validate:"required,min=1,dive"`
	Variables   map[string]any `json:"variables,omitempty"   yaml:"variables,omitempty"`
	Schedule    string         `json:"schedule,omitempty"    yaml:"schedule,omitempty"`
	CreatedAt   time.Time      `json:"created_at"            yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at"            yaml:"-"`
}

// StepSpec is one node of a definition.
type StepSpec struct {
	ID              string         `json:"id"                          yaml:"id"                          validate:"required"`
	Name            string         `json:"name,omitempty"              yaml:"name,omitempty"`
	Kind            StepKind       `json:"kind"                        yaml:"kind"                        validate:"required"`
	Config          map[string]any `json:"config,omitempty"            yaml:"config,omitempty"`
	Condition       *Condition     `json:"condition,omitempty"         yaml:"condition,omitempty"`
	TimeoutSeconds  float64        `json:"timeout_seconds"             yaml:"timeout_seconds"             validate:"gt=0"`
	MaxRetries      int            `json:"max_retries"                 yaml:"max_retries"                 validate:"gte=0"`
	IsOptional      bool           `json:"is_optional"                 yaml:"is_optional"`
	OnSuccessStepID string         `json:"on_success_step_id,omitempty" yaml:"on_success_step_id,omitempty"`
	OnFailureStepID string         `json:"on_failure_step_id,omitempty" yaml:"on_failure_step_id,omitempty"`
}

// Timeout returns the per-attempt deadline of the step.
func (s *StepSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Step returns the step with the given id, or nil.
func (d *WorkflowDefinition) Step(id string) *StepSpec {
	for _, step := range d.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// Normalize fills defaults that a definition author may leave out.
func (d *WorkflowDefinition) Normalize() {
	if d.Variables == nil {
		d.Variables = make(map[string]any)
	}

	for _, step := range d.Steps {
		if step == nil {
			continue
		}

		if step.TimeoutSeconds == 0 {
			step.TimeoutSeconds = DefaultStepTimeoutSeconds
		}

		if step.Config == nil {
			step.Config = make(map[string]any)
		}

		if step.Name == "" {
			step.Name = step.ID
		}
	}
}

// Clone returns a deep copy so an execution never observes later edits to the definition.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	clone := *d
	clone.Variables = CloneMap(d.Variables)
	clone.Steps = make([]*StepSpec, 0, len(d.Steps))

	for _, step := range d.Steps {
		if step == nil {
			clone.Steps = append(clone.Steps, nil)

			continue
		}

		s := *step
		s.Config = CloneMap(step.Config)

		if step.Condition != nil {
			c := *step.Condition
			s.Condition = &c
		}

		clone.Steps = append(clone.Steps, &s)
	}

	return &clone
}

// CloneMap deep-copies nested maps and slices. Leaf values are shared.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}

	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
