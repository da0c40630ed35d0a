package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists the applied delta log to registry.db so the projection
// can rebuild without replaying the full remote stream on restart.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) registry.db under dir, applies pragmas
// and migrations, and returns a ready Store.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir %s: %w", dir, err)
	}
	db, err := openDB(filepath.Join(dir, "registry.db"))
	if err != nil {
		return nil, err
	}
	if err := MigrateRegistryDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. Test constructor.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if err := MigrateRegistryDB(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// openDB opens a SQLite database with the recommended pragmas: WAL
// journal mode, synchronous=NORMAL, busy_timeout=5000.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// AppendDeltas writes new deltas in one transaction. Re-inserting an
// already-stored (version, key) pair is ignored so idempotent re-syncs
// stay cheap.
func (s *Store) AppendDeltas(deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append deltas: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO registry_deltas (version, key, value, tombstone) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("append deltas: prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		tombstone := 0
		value := d.Value
		if d.Tombstone() {
			tombstone = 1
			value = []byte{}
		}
		if _, err := stmt.Exec(d.Version, d.Key, value, tombstone); err != nil {
			return fmt.Errorf("append delta v%d %q: %w", d.Version, d.Key, err)
		}
	}
	return tx.Commit()
}

// LoadDeltas returns the full persisted log ordered by version, then key.
func (s *Store) LoadDeltas() ([]Delta, error) {
	rows, err := s.db.Query(`SELECT version, key, value, tombstone FROM registry_deltas ORDER BY version, key`)
	if err != nil {
		return nil, fmt.Errorf("load deltas: %w", err)
	}
	defer rows.Close()

	var out []Delta
	for rows.Next() {
		var (
			d         Delta
			value     []byte
			tombstone int
		)
		if err := rows.Scan(&d.Version, &d.Key, &value, &tombstone); err != nil {
			return nil, fmt.Errorf("load deltas: scan: %w", err)
		}
		if tombstone == 0 {
			d.Value = value
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MaxVersion returns the highest persisted version, zero when empty.
func (s *Store) MaxVersion() (uint64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM registry_deltas`).Scan(&v); err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return uint64(v.Int64), nil
}
