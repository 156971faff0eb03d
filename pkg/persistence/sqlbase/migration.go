// Package sqlbase holds the schema migration runner shared by SQL backends.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockKey is the advisory lock taken while a migration is applied, so
// several API replicas starting together apply each version once.
const migrationLockKey int64 = 0x706c6179626f6f6b

const createMigrationsTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
`

// MigrationManager applies numbered schema migrations in ascending order.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger.With("module", "migrations"),
		migrations: migrations,
	}
}

// LatestVersion returns the highest migration version known to the manager.
func (m *MigrationManager) LatestVersion() int {
	latest := 0
	for version := range m.migrations {
		latest = max(latest, version)
	}

	return latest
}

// Pending lists, in ascending order, the versions newer than current.
func (m *MigrationManager) Pending(current int) []int {
	return slices.DeleteFunc(slices.Sorted(maps.Keys(m.migrations)), func(version int) bool {
		return version <= current
	})
}

// RunMigrations creates the bookkeeping table and applies every pending migration.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	pending := m.Pending(current)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema is up to date", "version", current)

		return nil
	}

	m.logger.InfoContext(ctx, "migrating schema", "from", current, "to", m.LatestVersion())

	for _, version := range pending {
		if err := m.apply(ctx, version); err != nil {
			return err
		}
	}

	return nil
}

// CurrentVersion returns the highest applied schema version.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int

	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

// apply runs one migration in its own transaction. Another replica may have applied
// it while this one waited on the lock, in which case nothing is done.
func (m *MigrationManager) apply(ctx context.Context, version int) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", version, err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to lock migration %d: %w", version, err)
	}

	var applied bool
	if err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&applied); err != nil {
		return fmt.Errorf("failed to check migration %d: %w", version, err)
	}

	if applied {
		return tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, m.migrations[version]); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}

	if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}

	m.logger.InfoContext(ctx, "applied migration", "version", version)

	return nil
}
