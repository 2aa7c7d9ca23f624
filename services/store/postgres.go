package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/solpulse/solpulse/domain"
	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
)

// Postgres implements Repository on PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

// Open connects to the database, verifies connectivity and ensures the schema.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection. The schema is not touched.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) UpsertMonitored(ctx context.Context, address string) (*domain.Token, error) {
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tokens (address, status, created_at, status_changed_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO NOTHING
	`, address, domain.StatusMonitored, now)
	if err != nil {
		return nil, apperrors.Store("upsert_monitored", err)
	}

	return p.GetToken(ctx, address)
}

func (p *Postgres) GetToken(ctx context.Context, address string) (*domain.Token, error) {
	var token domain.Token
	err := p.db.GetContext(ctx, &token, `
		SELECT address, status, created_at, status_changed_at, activated_at, archived_at,
			last_raw_score, last_smoothed_score, last_scored_at,
			low_score_streak, low_activity_streak, low_score_since
		FROM tokens WHERE address = $1
	`, address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store("get_token", err)
	}
	return &token, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status domain.TokenStatus, limit, offset int) ([]*domain.Token, error) {
	var tokens []*domain.Token
	err := p.db.SelectContext(ctx, &tokens, `
		SELECT address, status, created_at, status_changed_at, activated_at, archived_at,
			last_raw_score, last_smoothed_score, last_scored_at,
			low_score_streak, low_activity_streak, low_score_since
		FROM tokens WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apperrors.Store("list_by_status", err)
	}
	return tokens, nil
}

func (p *Postgres) CountByStatus(ctx context.Context, status domain.TokenStatus) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tokens WHERE status = $1`, status)
	if err != nil {
		return 0, apperrors.Store("count_by_status", err)
	}
	return count, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, address string, from, to domain.TokenStatus, reason domain.StatusChangeReason) error {
	if !domain.ValidTransition(from, to) {
		return apperrors.New(apperrors.KindInternal,
			fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	now := time.Now().UTC()
	res, err := p.db.ExecContext(ctx, `
		UPDATE tokens SET
			status = $1,
			status_changed_at = $2,
			activated_at = CASE WHEN $1 = 'active' THEN $2 ELSE activated_at END,
			archived_at = CASE WHEN $1 = 'archived' THEN $2 ELSE archived_at END,
			low_score_streak = 0,
			low_activity_streak = 0,
			low_score_since = NULL
		WHERE address = $3 AND status = $4
	`, to, now, address, from)
	if err != nil {
		return apperrors.Store("update_status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Store("update_status", err)
	}
	if affected == 0 {
		return apperrors.NotFound("token", address).
			WithDetails("expected_status", string(from))
	}
	return nil
}

func (p *Postgres) DeleteToken(ctx context.Context, address string) error {
	// Pools, snapshots and scores go with the token via ON DELETE CASCADE.
	if _, err := p.db.ExecContext(ctx, `DELETE FROM tokens WHERE address = $1`, address); err != nil {
		return apperrors.Store("delete_token", err)
	}
	return nil
}

func (p *Postgres) AppendSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO token_snapshots (
			token_address, ts, tx_count_5m, tx_count_1h, volume_5m, volume_1h,
			buys_volume_5m, sells_volume_5m, holders_now, liquidity, holders_1h_ago
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, (
			SELECT holders_now FROM token_snapshots
			WHERE token_address = $1 AND ts <= $2 - INTERVAL '1 hour'
			ORDER BY ts DESC LIMIT 1
		))
	`, snap.TokenAddress, snap.TS, snap.TxCount5m, snap.TxCount1h,
		snap.Volume5m, snap.Volume1h, snap.BuysVolume5m, snap.SellsVolume5m,
		snap.HoldersNow, snap.Liquidity)
	if err != nil {
		return apperrors.Store("append_snapshot", err)
	}
	return nil
}

func (p *Postgres) LatestSnapshot(ctx context.Context, address string) (*domain.MetricSnapshot, error) {
	var snap domain.MetricSnapshot
	err := p.db.GetContext(ctx, &snap, `
		SELECT token_address, ts, tx_count_5m, tx_count_1h, volume_5m, volume_1h,
			buys_volume_5m, sells_volume_5m, holders_now, holders_1h_ago, liquidity
		FROM token_snapshots
		WHERE token_address = $1
		ORDER BY ts DESC LIMIT 1
	`, address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store("latest_snapshot", err)
	}
	return &snap, nil
}

func (p *Postgres) AppendScore(ctx context.Context, record *domain.ScoreRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	componentsJSON, err := json.Marshal(record.Components)
	if err != nil {
		return apperrors.Store("append_score", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO token_scores (id, token_address, ts, model_name, raw, smoothed, components_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.ID, record.TokenAddress, record.TS, record.ModelName,
		record.Raw, record.Smoothed, string(componentsJSON))
	if err != nil {
		return apperrors.Store("append_score", err)
	}
	return nil
}

type scoreRow struct {
	ID             string    `db:"id"`
	TokenAddress   string    `db:"token_address"`
	TS             time.Time `db:"ts"`
	ModelName      string    `db:"model_name"`
	Raw            float64   `db:"raw"`
	Smoothed       float64   `db:"smoothed"`
	ComponentsJSON string    `db:"components_json"`
}

func (p *Postgres) LatestScore(ctx context.Context, address string) (*domain.ScoreRecord, error) {
	var row scoreRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, token_address, ts, model_name, raw, smoothed, components_json
		FROM token_scores
		WHERE token_address = $1
		ORDER BY ts DESC LIMIT 1
	`, address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store("latest_score", err)
	}

	record := &domain.ScoreRecord{
		ID:           row.ID,
		TokenAddress: row.TokenAddress,
		TS:           row.TS,
		ModelName:    row.ModelName,
		Raw:          row.Raw,
		Smoothed:     row.Smoothed,
	}
	_ = json.Unmarshal([]byte(row.ComponentsJSON), &record.Components)
	return record, nil
}

func (p *Postgres) SetLastScore(ctx context.Context, address string, raw, smoothed float64, ts time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tokens SET last_raw_score = $1, last_smoothed_score = $2, last_scored_at = $3
		WHERE address = $4
	`, raw, smoothed, ts, address)
	if err != nil {
		return apperrors.Store("set_last_score", err)
	}
	return nil
}

func (p *Postgres) SetLowScoreState(ctx context.Context, address string, since *time.Time, streak int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tokens SET low_score_since = $1, low_score_streak = $2 WHERE address = $3
	`, since, streak, address)
	if err != nil {
		return apperrors.Store("set_low_score_state", err)
	}
	return nil
}

func (p *Postgres) SetLowActivityStreak(ctx context.Context, address string, streak int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tokens SET low_activity_streak = $1 WHERE address = $2
	`, streak, address)
	if err != nil {
		return apperrors.Store("set_low_activity_streak", err)
	}
	return nil
}

func (p *Postgres) ListPools(ctx context.Context, tokenAddress string, onlyActive bool) ([]*domain.Pool, error) {
	query := `
		SELECT address, token_address, dex, active, created_at
		FROM pools WHERE token_address = $1
	`
	if onlyActive {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY address ASC`

	var pools []*domain.Pool
	if err := p.db.SelectContext(ctx, &pools, query, tokenAddress); err != nil {
		return nil, apperrors.Store("list_pools", err)
	}
	return pools, nil
}

func (p *Postgres) UpsertPool(ctx context.Context, tokenAddress, poolAddress, dex string, active bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pools (address, token_address, dex, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			dex = EXCLUDED.dex,
			active = EXCLUDED.active
	`, poolAddress, tokenAddress, dex, active, time.Now().UTC())
	if err != nil {
		return apperrors.Store("upsert_pool", err)
	}
	return nil
}

func (p *Postgres) CompactBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	res, err := p.db.ExecContext(ctx, `DELETE FROM token_snapshots WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Store("compact_snapshots", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = p.db.ExecContext(ctx, `DELETE FROM token_scores WHERE ts < $1`, cutoff)
	if err != nil {
		return total, apperrors.Store("compact_scores", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

func (p *Postgres) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, apperrors.Store("get_settings", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apperrors.Store("get_settings", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (p *Postgres) PutSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return apperrors.Store("put_setting", err)
	}
	return nil
}

var _ Repository = (*Postgres)(nil)
