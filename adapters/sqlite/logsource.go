// Package sqlite provides a sqlite-backed LogSource for local and
// development environments where gateway access logs are mirrored into a
// local database instead of a remote log store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/source"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
	dsn string
}

// Open opens (or creates) the sqlite database at dsn.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &DB{DB: db, dsn: dsn}, nil
}

// Migrate creates the access-log table if missing.
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS access_logs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			message     TEXT    NOT NULL,
			ingest_time INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_access_logs_ingest_time
			ON access_logs(ingest_time);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// LogSource reads raw access-log records from sqlite.
type LogSource struct {
	db *DB
}

// NewLogSource creates a sqlite log source.
func NewLogSource(db *DB) *LogSource {
	return &LogSource{db: db}
}

// Name identifies this source and its database for cache keying.
func (s *LogSource) Name() string {
	return "sqlite:" + s.db.dsn
}

// Insert stores one raw record (used by dev seeding and tests).
func (s *LogSource) Insert(ctx context.Context, r logrec.Raw) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_logs (message, ingest_time) VALUES (?, ?)`,
		r.Message, r.IngestTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

// Fetch returns up to limit records whose ingest time falls inside w.
func (s *LogSource) Fetch(ctx context.Context, w usage.Window, limit int) ([]logrec.Raw, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message, ingest_time FROM access_logs
		 WHERE ingest_time >= ? AND ingest_time < ?
		 LIMIT ?`,
		w.Start.UnixMilli(), w.End.UnixMilli(), limit)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()

	var records []logrec.Raw
	for rows.Next() {
		var message string
		var ingestMs int64
		if err := rows.Scan(&message, &ingestMs); err != nil {
			return nil, wrapQueryErr(err)
		}
		records = append(records, logrec.Raw{
			Message:    message,
			IngestTime: time.UnixMilli(ingestMs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		// A failure mid-scan fails the whole fetch; no partial success.
		return nil, wrapQueryErr(err)
	}
	return records, nil
}

func wrapQueryErr(err error) error {
	kind := source.Permanent
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = source.Transient
	}
	return source.NewError(kind, "query access_logs", err)
}

// Ensure interface compliance.
var _ ports.LogSource = (*LogSource)(nil)
