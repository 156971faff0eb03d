package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/persistence/badger"
	"github.com/dukex/playbook/pkg/persistence/file"
	"github.com/dukex/playbook/pkg/persistence/postgresql"
	"github.com/dukex/playbook/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "redis", "rediss", "badger"}

// NewPersistence picks a backend from the URL scheme. A URL without a known scheme is a
// directory for the file backend.
//
//nolint:ireturn
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Initializing persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres persistence: %w", err)
		}

		return p, nil
	case "redis", "rediss":
		p, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis persistence: %w", err)
		}

		return p, nil
	case "badger":
		p, err := badger.NewPersistence(logger, location)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize badger persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(location), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, location, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, location
		}
	}

	return "file", location
}
