package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGraphValidation is matched by every GraphValidationError.
var ErrGraphValidation = errors.New("graph validation failed")

// GraphValidationError lists every problem found in a definition.
type GraphValidationError struct {
	DefinitionID string
	Problems     []string
}

func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("invalid definition %s: %s", e.DefinitionID, strings.Join(e.Problems, "; "))
}

func (e *GraphValidationError) Is(target error) bool {
	return target == ErrGraphValidation
}

func (e *GraphValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// IsGraphValidation checks if an error is a graph validation failure.
func IsGraphValidation(err error) bool {
	return errors.Is(err, ErrGraphValidation)
}
