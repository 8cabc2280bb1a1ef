package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"leadflow/internal/platform/config"
)

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection. Returns nil if no URL is configured (postgres not in use).
func Open(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies the engine's schema. Idempotent; safe to run at every
// startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS treatments (
		id            TEXT PRIMARY KEY,
		label         TEXT NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		success_count BIGINT NOT NULL,
		failure_count BIGINT NOT NULL,
		assigned      BIGINT NOT NULL DEFAULT 0,
		dispatched    BIGINT NOT NULL DEFAULT 0,
		converted     BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		lead_id             TEXT PRIMARY KEY,
		treatment_id        TEXT NOT NULL REFERENCES treatments (id),
		assigned_at         TIMESTAMPTZ NOT NULL,
		dispatch_status     TEXT NOT NULL DEFAULT 'PENDING',
		outcome_status      TEXT NOT NULL DEFAULT 'UNRESOLVED',
		external_message_id TEXT,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS assignments_external_message_id_idx
		ON assignments (external_message_id) WHERE external_message_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS leads (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		score      DOUBLE PRECISION NOT NULL DEFAULT 0,
		category   TEXT NOT NULL DEFAULT '',
		treatment_id TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
