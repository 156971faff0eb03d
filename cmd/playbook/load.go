package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/playbook/pkg/models"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// loadDefinition reads a definition from a .json, .yaml or .yml file.
func loadDefinition(path string) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{}
	if err := decodeFile(path, definition); err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", path, err)
	}

	return definition, nil
}

// loadInput reads the execution input. An empty path means no input.
func loadInput(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}

	input := map[string]any{}
	if err := decodeFile(path, &input); err != nil {
		return nil, fmt.Errorf("failed to load input %s: %w", path, err)
	}

	return input, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, out)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported file extension %q, expected .json, .yaml or .yml", filepath.Ext(path))
	}
}

// parseSets turns key=value pairs into input entries. Dotted keys nest.
func parseSets(pairs []string) (map[string]any, error) {
	input := map[string]any{}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}

		parts := strings.Split(key, ".")
		node := input

		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}

			node = next
		}

		node[parts[len(parts)-1]] = value
	}

	return input, nil
}
