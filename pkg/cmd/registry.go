// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/playbook/pkg/handlers/conditional"
	"github.com/dukex/playbook/pkg/handlers/delay"
	"github.com/dukex/playbook/pkg/handlers/httprequest"
	loghandler "github.com/dukex/playbook/pkg/handlers/log"
	"github.com/dukex/playbook/pkg/handlers/noop"
	"github.com/dukex/playbook/pkg/handlers/transform"
	"github.com/dukex/playbook/pkg/protocol"
	"github.com/dukex/playbook/pkg/registry"
)

const httpClientTimeout = 60 * time.Second

func registerNativeHandlers(reg *registry.Registry, log *slog.Logger) error {
	handlers := []protocol.Handler{
		loghandler.NewHandler(log),
		transform.NewHandler(log),
		httprequest.NewHandler(&http.Client{Timeout: httpClientTimeout}, log),
		conditional.NewHandler(),
		delay.NewHandler(),
		noop.NewHandler(),
	}

	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}

	return nil
}

func registerHandlerPlugins(reg *registry.Registry, pluginsPath string) error {
	if pluginsPath == "" {
		return nil
	}

	plugins, err := reg.LoadHandlerPlugins(pluginsPath)
	if err != nil {
		return fmt.Errorf("failed to load handler plugins: %w", err)
	}

	for _, plugin := range plugins {
		if err := reg.Register(plugin); err != nil {
			return err
		}
	}

	return nil
}

// NewRegistry registers the built-in handlers, then plugins from pluginsPath, which
// replace built-ins of the same kind.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if err := registerNativeHandlers(reg, log); err != nil {
		return nil, err
	}

	if err := registerHandlerPlugins(reg, pluginsPath); err != nil {
		return nil, err
	}

	return reg, nil
}
