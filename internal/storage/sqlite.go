package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gembalance-go/internal/gberrors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix seconds so records scan identically across
// sqlite drivers.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    enabled INTEGER NOT NULL DEFAULT 1,
    failure_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_api_keys_enabled ON api_keys (enabled);
`

// SQLiteBackend stores credential records in an embedded SQLite database.
// This is the default backend for single-node deployments.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates, if needed) the database at path and
// applies the schema.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent failure reports.
	db.SetMaxOpenConns(1)

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	log.WithField("path", path).Info("connected to SQLite storage backend")
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) LoadAll(ctx context.Context) ([]Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, enabled, failure_count, created_at, updated_at FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, value string) (*Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT key, enabled, failure_count, created_at, updated_at FROM api_keys WHERE key = ?`, value)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	return rec, err
}

func (s *SQLiteBackend) UpsertIfAbsent(ctx context.Context, value string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO api_keys (key, enabled, failure_count, created_at, updated_at)
		 VALUES (?, 1, 0, ?, ?)`, value, now, now)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) UpdateFailure(ctx context.Context, value string, newCount int, enabled bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET failure_count = ?, enabled = ?, updated_at = ? WHERE key = ?`,
		newCount, boolToInt(enabled), time.Now().Unix(), value)
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	return nil
}

func (s *SQLiteBackend) BulkReset(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET failure_count = 0, enabled = 1, updated_at = ?`, time.Now().Unix()); err != nil {
		return fmt.Errorf("bulk reset: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		enabled int
		created int64
		updated int64
	)
	if err := row.Scan(&rec.Value, &enabled, &rec.FailureCount, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	rec.Enabled = enabled != 0
	rec.CreatedAt = time.Unix(created, 0)
	rec.UpdatedAt = time.Unix(updated, 0)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
