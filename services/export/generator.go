// Package export selects the top scoring active tokens and publishes them
// as a TOML strategy document for the external arbitrage executor.
package export

import (
	"context"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/services/settings"
	"github.com/solpulse/solpulse/services/store"
)

const (
	strategyName        = "dynamic_strategy"
	strategyDescription = "solpulse dynamic arbitrage strategy"
	strategyVersion     = "1.0.0"
	documentSource      = "solpulse"

	// scoreFreshness bounds how stale a token's last score may be and still
	// qualify for publication.
	scoreFreshness = 2 * time.Hour

	// selectionLimit caps how many active tokens one generation reads.
	selectionLimit = 1000
)

type strategySection struct {
	Name              string  `toml:"name"`
	Description       string  `toml:"description"`
	Version           string  `toml:"version"`
	GeneratedAt       string  `toml:"generated_at"`
	ModelName         string  `toml:"model_name"`
	MinScoreThreshold float64 `toml:"min_score_threshold"`
	TokensCount       int     `toml:"tokens_count"`
	Warning           string  `toml:"warning,omitempty"`
}

type tokenSection struct {
	Address      string              `toml:"address"`
	Score        float64             `toml:"score"`
	CalculatedAt string              `toml:"calculated_at"`
	ActivatedAt  string              `toml:"activated_at,omitempty"`
	PoolsCount   int                 `toml:"pools_count"`
	Pools        map[string][]string `toml:"pools"`
}

type selectionCriteria struct {
	Status   string  `toml:"status"`
	MinScore float64 `toml:"min_score"`
	TopCount int     `toml:"top_count"`
	Model    string  `toml:"model"`
}

type metadataSection struct {
	Source            string            `toml:"source"`
	TokensSelected    int               `toml:"tokens_selected"`
	TotalPools        int               `toml:"total_pools"`
	SelectionCriteria selectionCriteria `toml:"selection_criteria"`
}

type document struct {
	Strategy strategySection `toml:"strategy"`
	Tokens   []tokenSection  `toml:"tokens"`
	Metadata metadataSection `toml:"metadata"`
}

// Generator builds the publication artifact. Stateless between calls:
// equal store state, configuration and clock produce identical output.
type Generator struct {
	repo store.Repository
	cfg  *settings.Store
	log  *logging.Logger
	now  func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(repo store.Repository, cfg *settings.Store, log *logging.Logger) *Generator {
	return &Generator{
		repo: repo,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate renders the current strategy document.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	snap := g.cfg.Current()
	now := g.now().UTC()

	selected, err := g.selectTokens(ctx, snap, now)
	if err != nil {
		return "", err
	}

	doc := document{
		Strategy: strategySection{
			Name:              strategyName,
			Description:       strategyDescription,
			Version:           strategyVersion,
			GeneratedAt:       now.Format(time.RFC3339),
			ModelName:         snap.ScoringModel,
			MinScoreThreshold: snap.MinScoreForConfig,
			TokensCount:       len(selected),
		},
		Metadata: metadataSection{
			Source:         documentSource,
			TokensSelected: len(selected),
			SelectionCriteria: selectionCriteria{
				Status:   string(domain.StatusActive),
				MinScore: snap.MinScoreForConfig,
				TopCount: snap.ConfigTopCount,
				Model:    snap.ScoringModel,
			},
		},
	}

	if len(selected) == 0 {
		doc.Strategy.Warning = "no tokens meet the export criteria"
		doc.Tokens = []tokenSection{}
	}

	totalPools := 0
	for _, token := range selected {
		section, poolCount, err := g.tokenSection(ctx, token)
		if err != nil {
			return "", err
		}
		doc.Tokens = append(doc.Tokens, section)
		totalPools += poolCount
	}
	doc.Metadata.TotalPools = totalPools

	rendered, err := toml.Marshal(doc)
	if err != nil {
		return "", err
	}

	g.log.WithFields(map[string]interface{}{
		"tokens": len(selected),
		"pools":  totalPools,
	}).Debug("strategy document generated")

	return string(rendered), nil
}

// selectTokens applies the publication filter and ordering: active tokens
// with a fresh smoothed score at or above the threshold, sorted by score
// descending, then activation time ascending, then address.
func (g *Generator) selectTokens(ctx context.Context, snap settings.Snapshot, now time.Time) ([]*domain.Token, error) {
	active, err := g.repo.ListByStatus(ctx, domain.StatusActive, selectionLimit, 0)
	if err != nil {
		return nil, err
	}

	var qualified []*domain.Token
	for _, token := range active {
		if token.LastSmoothedScore == nil || token.LastScoredAt == nil {
			continue
		}
		if *token.LastSmoothedScore < snap.MinScoreForConfig {
			continue
		}
		if now.Sub(*token.LastScoredAt) > scoreFreshness {
			continue
		}
		qualified = append(qualified, token)
	}

	sort.Slice(qualified, func(i, j int) bool {
		a, b := qualified[i], qualified[j]
		if *a.LastSmoothedScore != *b.LastSmoothedScore {
			return *a.LastSmoothedScore > *b.LastSmoothedScore
		}
		at, bt := activationTime(a), activationTime(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.Address < b.Address
	})

	if len(qualified) > snap.ConfigTopCount {
		qualified = qualified[:snap.ConfigTopCount]
	}
	return qualified, nil
}

func activationTime(token *domain.Token) time.Time {
	if token.ActivatedAt != nil {
		return *token.ActivatedAt
	}
	return token.StatusChangedAt
}

func (g *Generator) tokenSection(ctx context.Context, token *domain.Token) (tokenSection, int, error) {
	pools, err := g.repo.ListPools(ctx, token.Address, true)
	if err != nil {
		return tokenSection{}, 0, err
	}

	byDex := make(map[string][]string)
	for _, pool := range pools {
		byDex[pool.Dex] = append(byDex[pool.Dex], pool.Address)
	}
	for dex := range byDex {
		sort.Strings(byDex[dex])
	}

	section := tokenSection{
		Address:      token.Address,
		Score:        *token.LastSmoothedScore,
		CalculatedAt: token.LastScoredAt.UTC().Format(time.RFC3339),
		PoolsCount:   len(pools),
		Pools:        byDex,
	}
	if token.ActivatedAt != nil {
		section.ActivatedAt = token.ActivatedAt.UTC().Format(time.RFC3339)
	}
	return section, len(pools), nil
}
