package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"golang-reconciliation-engine/pkg/logger"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Migrate applies every pending embedded migration for dialect.
// It is idempotent: already applied versions are skipped.
func Migrate(ctx context.Context, db *sql.DB, dialect database.Dialect, log logger.Logger) error {
	dir := "migrations/sqlite"
	if dialect == database.DialectPostgres {
		dir = "migrations/postgres"
	}

	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log = logger.OrNop(log).WithComponent("migrations")
	for _, r := range results {
		log.WithFields(logger.Fields{
			"version":  r.Source.Version,
			"duration": r.Duration.String(),
			"dialect":  string(dialect),
		}).Info("Applied migration")
	}
	return nil
}
