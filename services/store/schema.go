package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tokens (
		address TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'monitored',
		created_at TIMESTAMPTZ NOT NULL,
		status_changed_at TIMESTAMPTZ NOT NULL,
		activated_at TIMESTAMPTZ,
		archived_at TIMESTAMPTZ,
		last_raw_score DOUBLE PRECISION,
		last_smoothed_score DOUBLE PRECISION,
		last_scored_at TIMESTAMPTZ,
		low_score_streak INTEGER NOT NULL DEFAULT 0,
		low_activity_streak INTEGER NOT NULL DEFAULT 0,
		low_score_since TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_status ON tokens (status)`,

	`CREATE TABLE IF NOT EXISTS pools (
		address TEXT PRIMARY KEY,
		token_address TEXT NOT NULL REFERENCES tokens(address) ON DELETE CASCADE,
		dex TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pools_token ON pools (token_address)`,

	`CREATE TABLE IF NOT EXISTS token_snapshots (
		id BIGSERIAL PRIMARY KEY,
		token_address TEXT NOT NULL REFERENCES tokens(address) ON DELETE CASCADE,
		ts TIMESTAMPTZ NOT NULL,
		tx_count_5m INTEGER NOT NULL DEFAULT 0,
		tx_count_1h INTEGER NOT NULL DEFAULT 0,
		volume_5m DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_1h DOUBLE PRECISION NOT NULL DEFAULT 0,
		buys_volume_5m DOUBLE PRECISION NOT NULL DEFAULT 0,
		sells_volume_5m DOUBLE PRECISION NOT NULL DEFAULT 0,
		holders_now INTEGER NOT NULL DEFAULT 0,
		holders_1h_ago INTEGER,
		liquidity DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_token_ts ON token_snapshots (token_address, ts DESC)`,

	`CREATE TABLE IF NOT EXISTS token_scores (
		id TEXT PRIMARY KEY,
		token_address TEXT NOT NULL REFERENCES tokens(address) ON DELETE CASCADE,
		ts TIMESTAMPTZ NOT NULL,
		model_name TEXT NOT NULL,
		raw DOUBLE PRECISION NOT NULL,
		smoothed DOUBLE PRECISION NOT NULL,
		components_json TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_token_ts ON token_scores (token_address, ts DESC)`,

	`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
