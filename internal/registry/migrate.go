package registry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const registryMigrationsPath = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateRegistryDB applies registry.db migrations.
func MigrateRegistryDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate %s: nil db", registryMigrationsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, registryMigrationsPath)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", registryMigrationsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", registryMigrationsPath, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", registryMigrationsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", registryMigrationsPath, err)
	}
	return nil
}
