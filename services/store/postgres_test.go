package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpulse/solpulse/domain"
	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
)

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "sqlmock")), mock
}

func tokenColumns() []string {
	return []string{
		"address", "status", "created_at", "status_changed_at", "activated_at", "archived_at",
		"last_raw_score", "last_smoothed_score", "last_scored_at",
		"low_score_streak", "low_activity_streak", "low_score_since",
	}
}

func TestPostgres_UpsertMonitored(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO tokens").
		WithArgs("tokenA", string(domain.StatusMonitored), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE address").
		WithArgs("tokenA").
		WillReturnRows(sqlmock.NewRows(tokenColumns()).
			AddRow("tokenA", "monitored", now, now, nil, nil, nil, nil, nil, 0, 0, nil))

	token, err := repo.UpsertMonitored(context.Background(), "tokenA")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMonitored, token.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetToken_Absent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE address").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tokenColumns()))

	token, err := repo.GetToken(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestPostgres_UpdateStatus_ValidEdge(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE tokens SET").
		WithArgs(string(domain.StatusActive), sqlmock.AnyArg(), "tokenA", string(domain.StatusMonitored)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "tokenA",
		domain.StatusMonitored, domain.StatusActive, domain.ReasonActivation)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateStatus_IllegalEdgeShortCircuits(t *testing.T) {
	repo, mock := newMockRepo(t)

	// no SQL expected: the transition is rejected before touching the db
	err := repo.UpdateStatus(context.Background(), "tokenA",
		domain.StatusArchived, domain.StatusActive, domain.ReasonActivation)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateStatus_StaleStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE tokens SET").
		WithArgs(string(domain.StatusActive), sqlmock.AnyArg(), "tokenA", string(domain.StatusMonitored)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "tokenA",
		domain.StatusMonitored, domain.StatusActive, domain.ReasonActivation)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestPostgres_AppendSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO token_snapshots").
		WithArgs("tokenA", now, 10, 120, 500.0, 4000.0, 300.0, 200.0, 42, 1500.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AppendSnapshot(context.Background(), &domain.MetricSnapshot{
		TokenAddress: "tokenA", TS: now,
		TxCount5m: 10, TxCount1h: 120,
		Volume5m: 500, Volume1h: 4000,
		BuysVolume5m: 300, SellsVolume5m: 200,
		HoldersNow: 42, Liquidity: 1500,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendScore_AssignsID(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO token_scores").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &domain.ScoreRecord{TokenAddress: "tokenA", TS: now, ModelName: "hybrid_momentum", Raw: 0.4, Smoothed: 0.35}
	err := repo.AppendScore(context.Background(), record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
}

func TestPostgres_CompactBefore(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().Add(-2 * time.Hour)

	mock.ExpectExec("DELETE FROM token_snapshots").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("DELETE FROM token_scores").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	removed, err := repo.CompactBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(17), removed)
}

func TestPostgres_Settings(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT key, value FROM app_settings").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("ewma_alpha", "0.5").
			AddRow("min_tx_count", "300"))

	rows, err := repo.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5", rows["ewma_alpha"])

	mock.ExpectExec("INSERT INTO app_settings").
		WithArgs("min_tx_count", "400", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.PutSetting(context.Background(), "min_tx_count", "400"))
}

func TestPostgres_ListPools_ActiveFilter(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM pools WHERE token_address (.+) AND active = TRUE").
		WithArgs("tokenA").
		WillReturnRows(sqlmock.NewRows([]string{"address", "token_address", "dex", "active", "created_at"}).
			AddRow("pool1", "tokenA", "raydium", true, now))

	pools, err := repo.ListPools(context.Background(), "tokenA", true)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "raydium", pools[0].Dex)
}
