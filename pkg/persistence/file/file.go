// Package file provides file-based persistence for definitions and executions.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/playbook/pkg/persistence"
	json "github.com/goccy/go-json"
)

// Persistence implements persistence.Persistence on top of the file system.
//
// Layout:
//
//	<root>/definitions/<id>.json
//	<root>/executions/<id>/execution.json
//	<root>/executions/<id>/nodes/<escaped node id>.json
//	<root>/executions/<id>/attempts/<attempt id>.json
type Persistence struct {
	root           string
	definitionRepo *DefinitionRepository
	executionRepo  *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		definitionRepo: NewDefinitionRepository(cleanRoot),
		executionRepo:  NewExecutionRepository(cleanRoot),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// writeJSON writes through a temporary file and a rename so readers never see a partial document.
func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}

	return nil
}

// readJSON returns os.ErrNotExist unchanged so callers can map it to their sentinel.
func readJSON(path string, target any) error {
	body, err := os.ReadFile(path) // #nosec G304 -- path components are validated by the callers
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}
