// Package delay provides a step handler that waits for a fixed duration.
package delay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
)

var ErrInvalidDuration = errors.New("invalid delay duration")

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (*Handler) Kind() models.StepKind {
	return models.StepKindDelay
}

func (*Handler) Description() string {
	return "Waits for the configured number of seconds before completing."
}

func (*Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Seconds to wait. Fractions are allowed.",
			},
		},
		"required": []string{"seconds"},
	}
}

// Execute waits, returning early with the context error when cancelled or timed out.
func (h *Handler) Execute(ctx context.Context, config map[string]any, _ protocol.Input) (*protocol.Result, error) {
	d, err := duration(config["seconds"])
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return &protocol.Result{Output: map[string]any{"waited_ms": d.Milliseconds()}}, nil
}

// DryRun validates the duration without waiting.
func (h *Handler) DryRun(_ context.Context, config map[string]any, _ protocol.Input) (*protocol.Result, error) {
	d, err := duration(config["seconds"])
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	return &protocol.Result{Output: map[string]any{"waited_ms": int64(0), "would_wait_ms": d.Milliseconds()}}, nil
}

func duration(raw any) (time.Duration, error) {
	var seconds float64

	switch v := raw.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, v)
		}

		seconds = parsed
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidDuration, raw)
	}

	if seconds < 0 {
		return 0, fmt.Errorf("%w: %v is negative", ErrInvalidDuration, seconds)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
