package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gembalance-go/internal/gberrors"
	"gembalance-go/internal/migrations"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// PostgresBackend stores credential records in PostgreSQL. Schema management
// goes through embedded golang-migrate migrations.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects to the database and applies pending migrations.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrations.PostgresUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("connected to PostgreSQL storage backend")
	return &PostgresBackend{db: db}, nil
}

func (p *PostgresBackend) LoadAll(ctx context.Context) ([]Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, enabled, failure_count, created_at, updated_at FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Value, &rec.Enabled, &rec.FailureCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (p *PostgresBackend) Get(ctx context.Context, value string) (*Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var rec Record
	err := p.db.QueryRowContext(ctx,
		`SELECT key, enabled, failure_count, created_at, updated_at FROM api_keys WHERE key = $1`, value).
		Scan(&rec.Value, &rec.Enabled, &rec.FailureCount, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &rec, nil
}

func (p *PostgresBackend) UpsertIfAbsent(ctx context.Context, value string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	// ON CONFLICT DO NOTHING makes a duplicate insert from a concurrent
	// seeder indistinguishable from success, which is the contract.
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO api_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, value)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (p *PostgresBackend) UpdateFailure(ctx context.Context, value string, newCount int, enabled bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := p.db.ExecContext(ctx,
		`UPDATE api_keys SET failure_count = $1, enabled = $2, updated_at = NOW() WHERE key = $3`,
		newCount, enabled, value)
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	return nil
}

func (p *PostgresBackend) BulkReset(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	if _, err := p.db.ExecContext(ctx,
		`UPDATE api_keys SET failure_count = 0, enabled = TRUE, updated_at = NOW()`); err != nil {
		return fmt.Errorf("bulk reset: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Close() error { return p.db.Close() }
