package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/services/settings"
	"github.com/solpulse/solpulse/services/store"
)

func testLogger() *logging.Logger {
	return logging.New("test", "error", "text")
}

// seedActive creates an Active token with the given smoothed score, scored
// at `scoredAt` and activated at `activatedAt`.
func seedActive(t *testing.T, repo *store.Memory, address string, score float64, scoredAt, activatedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	repo.SetClock(func() time.Time { return activatedAt })
	_, err := repo.UpsertMonitored(ctx, address)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, address, domain.StatusMonitored, domain.StatusActive, domain.ReasonActivation))
	repo.SetClock(time.Now)

	require.NoError(t, repo.SetLastScore(ctx, address, score, score, scoredAt))
}

func newGenerator(t *testing.T) (*Generator, *store.Memory, *settings.Store) {
	t.Helper()
	repo := store.NewMemory()
	cfg := settings.NewStore(nil, testLogger())
	g := NewGenerator(repo, cfg, testLogger())
	return g, repo, cfg
}

func TestGenerate_OrderingAndTieBreaks(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))

	// A and C tie at 0.9; A activated earlier and must come first
	seedActive(t, repo, "A-token", 0.9, now.Add(-10*time.Minute), now.Add(-3*time.Hour))
	seedActive(t, repo, "B-token", 0.7, now.Add(-10*time.Minute), now.Add(-time.Hour))
	seedActive(t, repo, "C-token", 0.9, now.Add(-10*time.Minute), now.Add(-2*time.Hour))
	seedActive(t, repo, "D-token", 0.4, now.Add(-10*time.Minute), now.Add(-time.Hour))

	for _, address := range []string{"A-token", "B-token", "C-token", "D-token"} {
		require.NoError(t, repo.UpsertPool(ctx, address, "pool-"+address, "raydium", true))
	}

	rendered, err := g.Generate(ctx)
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))

	require.Len(t, doc.Tokens, 3)
	assert.Equal(t, "A-token", doc.Tokens[0].Address)
	assert.Equal(t, "C-token", doc.Tokens[1].Address)
	assert.Equal(t, "B-token", doc.Tokens[2].Address)
	assert.Equal(t, 3, doc.Strategy.TokensCount)
	assert.Empty(t, doc.Strategy.Warning)
}

func TestGenerate_AddressTieBreak(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))

	activated := now.Add(-time.Hour)
	seedActive(t, repo, "bbb", 0.8, now, activated)
	seedActive(t, repo, "aaa", 0.8, now, activated)

	rendered, err := g.Generate(ctx)
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))
	require.Len(t, doc.Tokens, 2)
	assert.Equal(t, "aaa", doc.Tokens[0].Address)
}

func TestGenerate_FiltersStaleAndLowScores(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))

	seedActive(t, repo, "fresh", 0.9, now.Add(-time.Hour), now.Add(-3*time.Hour))
	seedActive(t, repo, "stale", 0.9, now.Add(-3*time.Hour), now.Add(-4*time.Hour))
	seedActive(t, repo, "weak", 0.2, now.Add(-time.Hour), now.Add(-3*time.Hour))

	rendered, err := g.Generate(ctx)
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))
	require.Len(t, doc.Tokens, 1)
	assert.Equal(t, "fresh", doc.Tokens[0].Address)
}

func TestGenerate_OnlyActivePoolsGroupedByDex(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))

	seedActive(t, repo, "tokenA", 0.9, now, now.Add(-time.Hour))
	require.NoError(t, repo.UpsertPool(ctx, "tokenA", "ray1", "raydium", true))
	require.NoError(t, repo.UpsertPool(ctx, "tokenA", "ray2", "raydium", true))
	require.NoError(t, repo.UpsertPool(ctx, "tokenA", "orca1", "orca", true))
	require.NoError(t, repo.UpsertPool(ctx, "tokenA", "dead1", "raydium", false))

	rendered, err := g.Generate(ctx)
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))
	require.Len(t, doc.Tokens, 1)

	pools := doc.Tokens[0].Pools
	assert.ElementsMatch(t, []string{"ray1", "ray2"}, pools["raydium"])
	assert.ElementsMatch(t, []string{"orca1"}, pools["orca"])
	assert.Equal(t, 3, doc.Tokens[0].PoolsCount)
}

func TestGenerate_EmptySelectionEmitsSkeleton(t *testing.T) {
	g, _, _ := newGenerator(t)

	rendered, err := g.Generate(context.Background())
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))
	assert.Zero(t, doc.Strategy.TokensCount)
	assert.NotEmpty(t, doc.Strategy.Warning)
	assert.Empty(t, doc.Tokens)
	assert.Equal(t, "active", doc.Metadata.SelectionCriteria.Status)
}

func TestGenerate_DeterministicForEqualState(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))

	seedActive(t, repo, "tokenA", 0.9, now, now.Add(-time.Hour))
	require.NoError(t, repo.UpsertPool(ctx, "tokenA", "pool1", "raydium", true))

	first, err := g.Generate(ctx)
	require.NoError(t, err)
	second, err := g.Generate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerate_VersionField(t *testing.T) {
	g, _, _ := newGenerator(t)

	rendered, err := g.Generate(context.Background())
	require.NoError(t, err)

	var doc document
	require.NoError(t, toml.Unmarshal([]byte(rendered), &doc))
	assert.Equal(t, strategyVersion, doc.Strategy.Version)
}

func TestRouter_ServesArtifact(t *testing.T) {
	g, repo, cfg := newGenerator(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, cfg.Set(ctx, settings.KeyMinScoreForConfig, []byte(`0.5`)))
	seedActive(t, repo, "tokenA", 0.9, now, now.Add(-time.Hour))

	srv := httptest.NewServer(Router(g, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/export/strategy.toml")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=60", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "toml")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	prom, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	prom.Body.Close()
	assert.Equal(t, http.StatusOK, prom.StatusCode)
}
