// Package metricstore persists per-node per-day block-production
// metrics: one row per (node, day, subnet). The rewards pipeline reads
// whole reward periods out of it.
package metricstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// ErrDuplicate is returned when a (node, day, subnet) row already exists.
var ErrDuplicate = errors.New("metricstore: duplicate metric")

// Store is the sqlite-backed metric repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) metrics.db under dir and applies migrations.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir %s: %w", dir, err)
	}
	db, err := openDB(filepath.Join(dir, "metrics.db"))
	if err != nil {
		return nil, err
	}
	if err := MigrateMetricsDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Test constructor.
func NewWithDB(db *sql.DB) (*Store, error) {
	if err := MigrateMetricsDB(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
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

// Insert stores one daily metric. A second record for the same
// (node, day, subnet) fails with ErrDuplicate; a node that moved subnets
// within a day legitimately produces one row per subnet.
func (s *Store) Insert(node principal.NodeID, m model.DailyNodeMetric) error {
	_, err := s.db.Exec(
		`INSERT INTO daily_node_metrics (node_id, day_end_unix, subnet_id, proposed, failed) VALUES (?, ?, ?, ?, ?)`,
		node.String(), m.DayEnd.UTC().Unix(), m.SubnetID.String(), m.Proposed, m.Failed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: node %s day %s subnet %s", ErrDuplicate, node.Short(), m.DayEnd.UTC().Format("2006-01-02"), m.SubnetID.Short())
		}
		return fmt.Errorf("metricstore: insert: %w", err)
	}
	return nil
}

// InsertBatch stores many metrics in one transaction, failing on the
// first duplicate.
func (s *Store) InsertBatch(metrics map[principal.NodeID][]model.DailyNodeMetric) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("metricstore: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO daily_node_metrics (node_id, day_end_unix, subnet_id, proposed, failed) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metricstore: prepare: %w", err)
	}
	defer stmt.Close()

	for node, list := range metrics {
		for _, m := range list {
			if _, err := stmt.Exec(node.String(), m.DayEnd.UTC().Unix(), m.SubnetID.String(), m.Proposed, m.Failed); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: node %s day %s", ErrDuplicate, node.Short(), m.DayEnd.UTC().Format("2006-01-02"))
				}
				return fmt.Errorf("metricstore: insert batch: %w", err)
			}
		}
	}
	return tx.Commit()
}

// QueryNode returns one node's metrics inside [from, to], ordered by day
// then subnet.
func (s *Store) QueryNode(node principal.NodeID, from, to time.Time) ([]model.DailyNodeMetric, error) {
	rows, err := s.db.Query(
		`SELECT day_end_unix, subnet_id, proposed, failed FROM daily_node_metrics
		 WHERE node_id = ? AND day_end_unix BETWEEN ? AND ?
		 ORDER BY day_end_unix, subnet_id`,
		node.String(), from.UTC().Unix(), to.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("metricstore: query node: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows, nil)
}

// QueryPeriod returns every node's metrics inside [from, to].
func (s *Store) QueryPeriod(from, to time.Time) (map[principal.NodeID][]model.DailyNodeMetric, error) {
	rows, err := s.db.Query(
		`SELECT node_id, day_end_unix, subnet_id, proposed, failed FROM daily_node_metrics
		 WHERE day_end_unix BETWEEN ? AND ?
		 ORDER BY node_id, day_end_unix, subnet_id`,
		from.UTC().Unix(), to.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("metricstore: query period: %w", err)
	}
	defer rows.Close()

	out := make(map[principal.NodeID][]model.DailyNodeMetric)
	for rows.Next() {
		var (
			nodeStr string
			m       model.DailyNodeMetric
			dayUnix int64
			subStr  string
		)
		if err := rows.Scan(&nodeStr, &dayUnix, &subStr, &m.Proposed, &m.Failed); err != nil {
			return nil, fmt.Errorf("metricstore: scan: %w", err)
		}
		nodeP, err := principal.Parse(nodeStr)
		if err != nil {
			return nil, fmt.Errorf("metricstore: stored node id: %w", err)
		}
		subP, err := principal.Parse(subStr)
		if err != nil {
			return nil, fmt.Errorf("metricstore: stored subnet id: %w", err)
		}
		m.DayEnd = time.Unix(dayUnix, 0).UTC()
		m.SubnetID = principal.SubnetID{Principal: subP}
		node := principal.NodeID{Principal: nodeP}
		out[node] = append(out[node], m)
	}
	return out, rows.Err()
}

func scanMetrics(rows *sql.Rows, out []model.DailyNodeMetric) ([]model.DailyNodeMetric, error) {
	for rows.Next() {
		var (
			m       model.DailyNodeMetric
			dayUnix int64
			subStr  string
		)
		if err := rows.Scan(&dayUnix, &subStr, &m.Proposed, &m.Failed); err != nil {
			return nil, fmt.Errorf("metricstore: scan: %w", err)
		}
		p, err := principal.Parse(subStr)
		if err != nil {
			return nil, fmt.Errorf("metricstore: stored subnet id: %w", err)
		}
		m.DayEnd = time.Unix(dayUnix, 0).UTC()
		m.SubnetID = principal.SubnetID{Principal: p}
		out = append(out, m)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
