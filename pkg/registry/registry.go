// Package registry maps step kinds to the handlers that execute them.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownStepKind is returned when no handler serves a step kind.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrInvalidConfig is returned when a step configuration does not match its handler schema.
	ErrInvalidConfig = errors.New("invalid step configuration")
)

// Registry is an explicit handler table. Build one per executor; there is no global instance.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.StepKind]protocol.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "registry"),
		handlers: make(map[models.StepKind]protocol.Handler),
	}
}

// Register installs a handler, replacing any previous handler for the same kind.
func (r *Registry) Register(handler protocol.Handler) error {
	kind := handler.Kind()
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStepKind, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		r.logger.Info("Replacing handler", "kind", kind)
	}

	r.handlers[kind] = handler

	return nil
}

// Resolve returns the handler for a kind or ErrUnknownStepKind.
//
//nolint:ireturn
func (r *Registry) Resolve(kind models.StepKind) (protocol.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, kind)
	}

	return handler, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []models.StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.StepKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	return kinds
}

// Describe returns the description and schema of every registered handler.
func (r *Registry) Describe() map[models.StepKind]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.StepKind]map[string]any, len(r.handlers))
	for kind, h := range r.handlers {
		out[kind] = map[string]any{
			"description": h.Description(),
			"schema":      h.Schema(),
		}
	}

	return out
}

// HealthCheck reports whether any handler is registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.handlers) == 0 {
		return "No step handlers registered", false
	}

	return fmt.Sprintf("%d step handlers registered", len(r.handlers)), true
}

// ValidateConfig checks a step configuration against its handler schema.
// Steps whose kind has no handler are left for the executor to fail at run time.
func (r *Registry) ValidateConfig(step *models.StepSpec) error {
	handler, err := r.Resolve(step.Kind)
	if err != nil {
		return nil //nolint:nilerr
	}

	schema := handler.Schema()
	if len(schema) == 0 {
		return nil
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: step %s: %s", ErrInvalidConfig, step.ID, strings.Join(problems, "; "))
	}

	return nil
}

// ValidateDefinition validates every step configuration of a definition.
func (r *Registry) ValidateDefinition(def *models.WorkflowDefinition) error {
	var errs []error

	for _, step := range def.Steps {
		if err := r.ValidateConfig(step); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LoadHandlerPlugins opens every *.so under pluginsPath/handlers and looks up the
// exported Handler symbol.
func (r *Registry) LoadHandlerPlugins(pluginsPath string) ([]protocol.Handler, error) {
	return loadPlugin[protocol.Handler](r.logger, pluginsPath, "Handler")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			if ptr, isPtr := v.(*T); isPtr {
				castV = *ptr
			} else {
				return nil, fmt.Errorf("plugin %s: %s has unexpected type %T", p, symbolName, v)
			}
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
