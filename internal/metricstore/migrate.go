package metricstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const metricsMigrationsPath = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateMetricsDB applies metrics.db migrations.
func MigrateMetricsDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate %s: nil db", metricsMigrationsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, metricsMigrationsPath)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", metricsMigrationsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", metricsMigrationsPath, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", metricsMigrationsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", metricsMigrationsPath, err)
	}
	return nil
}
