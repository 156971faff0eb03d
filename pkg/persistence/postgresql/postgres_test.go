package postgresql_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/persistence/persistencetest"
	"github.com/dukex/playbook/pkg/persistence/postgresql"
	"github.com/dukex/playbook/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	postgresContainer *postgres.PostgresContainer
	containerMu       sync.Mutex
)

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last
	for _, table := range []string{"attempts", "node_states", "executions", "definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func databaseURL(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	containerMu.Lock()
	defer containerMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("playbook_test"),
			postgres.WithUsername("playbook"),
			postgres.WithPassword("playbook"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return url
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, string) {
	t.Helper()

	url := databaseURL(t)
	ctx := context.Background()

	dropDb(ctx, t, url)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := postgresql.NewPersistence(ctx, logger, url)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close(ctx))
		dropDb(ctx, t, url)
	})

	return store, url
}

func TestPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		store, _ := setupTestDB(t)

		return store
	})
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, url := setupTestDB(t)

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"definitions", "executions", "node_states", "attempts"} {
		var exists bool

		err := db.QueryRowContext(t.Context(), `
			SELECT EXISTS (
				SELECT FROM information_schema.tables WHERE table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	manager := sqlbase.NewMigrationManager(slog.New(slog.NewTextHandler(io.Discard, nil)), db, map[int]string{1: "", 2: ""})

	version, err := manager.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// A second run is a no-op.
	require.NoError(t, manager.RunMigrations(t.Context()))
}
