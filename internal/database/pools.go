package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datacure/livejobs/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	seq                   BIGSERIAL,
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	filename              TEXT NOT NULL,
	status                TEXT NOT NULL,
	progress              INT NOT NULL DEFAULT 0,
	completed_records     INT NOT NULL DEFAULT 0,
	total_records         INT NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	auto_approved_percent DOUBLE PRECISION,
	manual_review_percent DOUBLE PRECISION,
	rejected_percent      DOUBLE PRECISION,
	eta_remaining         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS provider_records (
	job_id              TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	id                  TEXT NOT NULL,
	seq                 INT NOT NULL,
	name                TEXT NOT NULL,
	npi                 TEXT NOT NULL,
	address             TEXT NOT NULL,
	phone               TEXT NOT NULL,
	specialty           TEXT NOT NULL,
	license_status      TEXT NOT NULL,
	original_confidence DOUBLE PRECISION,
	overall_confidence  DOUBLE PRECISION NOT NULL,
	npi_confidence      DOUBLE PRECISION NOT NULL,
	address_confidence  DOUBLE PRECISION NOT NULL,
	license_confidence  DOUBLE PRECISION NOT NULL,
	recommendation      TEXT NOT NULL,
	severity            TEXT NOT NULL,
	validated_at        TEXT NOT NULL,
	agents_involved     TEXT[] NOT NULL DEFAULT '{}',
	enriched_data       JSONB,
	PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS provider_records_job_seq ON provider_records (job_id, seq);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
