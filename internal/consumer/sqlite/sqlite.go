// Package sqlite implements a consumer that persists collected events to a
// local SQLite database, one row per event and one row per property.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id               TEXT PRIMARY KEY,
	collection_start INTEGER NOT NULL,
	collection_end   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS readings (
	event_id TEXT    NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	address  TEXT    NOT NULL,
	name     TEXT    NOT NULL,
	type     TEXT    NOT NULL,
	value    TEXT    NOT NULL,
	PRIMARY KEY (event_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(collection_start);
CREATE INDEX IF NOT EXISTS idx_readings_name ON readings(address, name);
`

// Reading is one stored property row.
type Reading struct {
	EventID string
	Address string
	Name    string
	Type    string
	Value   string
}

// Store is a consumer.Handler writing to SQLite.
type Store struct {
	db        *sql.DB
	path      string
	retention time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the database at path and applies the schema.
// A retention > 0 deletes events older than that after every insert.
func Open(path string, retention time.Duration, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite consumer: empty database path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return &Store{db: db, path: path, retention: retention, logger: logger}, nil
}

// Name implements consumer.Handler.
func (s *Store) Name() string {
	return "sqlite:" + s.path
}

// Handle stores ev in a single transaction.
func (s *Store) Handle(ctx context.Context, ev *event.MultiSourceReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("write to closed consumer %s", s.Name())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, collection_start, collection_end) VALUES (?, ?, ?)`,
		ev.ID(), ev.CollectionStart().UnixNano(), ev.CollectionEnd().UnixNano()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (event_id, seq, address, name, type, value) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reading insert: %w", err)
	}
	defer stmt.Close()

	seq := 0
	for _, a := range ev.SourceAddresses() {
		for _, p := range ev.PropertiesFor(a) {
			if _, err := stmt.ExecContext(ctx, ev.ID(), seq, a.Literal(), p.Name, p.Type.String(), p.FormatValue()); err != nil {
				return fmt.Errorf("insert reading %s: %w", p.Name, err)
			}
			seq++
		}
	}

	if s.retention > 0 {
		cutoff := ev.CollectionStart().Add(-s.retention).UnixNano()
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE collection_start < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune events: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("Pruned expired events", zap.Int64("events", n))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// EventCount returns the number of stored events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Readings returns the stored properties of one event in collection order.
func (s *Store) Readings(ctx context.Context, eventID string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, address, name, type, value FROM readings WHERE event_id = ? ORDER BY seq`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.EventID, &r.Address, &r.Name, &r.Type, &r.Value); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
