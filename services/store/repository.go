// Package store persists tokens, pools, metric snapshots, score records and
// settings rows behind a narrow repository interface.
package store

import (
	"context"
	"time"

	"github.com/solpulse/solpulse/domain"
)

// Repository is the persistence contract consumed by the feed subscriber,
// lifecycle controller, scheduler and publication generator.
type Repository interface {
	// UpsertMonitored creates the token as Monitored, or returns the
	// existing row unchanged on address collision.
	UpsertMonitored(ctx context.Context, address string) (*domain.Token, error)

	GetToken(ctx context.Context, address string) (*domain.Token, error)
	ListByStatus(ctx context.Context, status domain.TokenStatus, limit, offset int) ([]*domain.Token, error)
	CountByStatus(ctx context.Context, status domain.TokenStatus) (int, error)

	// UpdateStatus performs a validated lifecycle transition. It sets
	// status_changed_at, the matching activated_at/archived_at field, and
	// resets the low-score/low-activity tracking fields. The update is
	// conditional on the expected current status.
	UpdateStatus(ctx context.Context, address string, from, to domain.TokenStatus, reason domain.StatusChangeReason) error

	// DeleteToken removes the token and, by cascade, its pools and histories.
	DeleteToken(ctx context.Context, address string) error

	// AppendSnapshot stores a metric snapshot. The holders_1h_ago field is
	// filled by joining against the nearest prior snapshot at least one
	// hour older than the new one.
	AppendSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error
	LatestSnapshot(ctx context.Context, address string) (*domain.MetricSnapshot, error)

	AppendScore(ctx context.Context, record *domain.ScoreRecord) error
	LatestScore(ctx context.Context, address string) (*domain.ScoreRecord, error)
	SetLastScore(ctx context.Context, address string, raw, smoothed float64, ts time.Time) error

	// Low-score window and low-activity streak bookkeeping.
	SetLowScoreState(ctx context.Context, address string, since *time.Time, streak int) error
	SetLowActivityStreak(ctx context.Context, address string, streak int) error

	ListPools(ctx context.Context, tokenAddress string, onlyActive bool) ([]*domain.Pool, error)
	UpsertPool(ctx context.Context, tokenAddress, poolAddress, dex string, active bool) error

	// CompactBefore deletes snapshots and scores older than cutoff and
	// returns the number of rows removed.
	CompactBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Settings persistence (see services/settings.Persistence).
	GetSettings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error
}
