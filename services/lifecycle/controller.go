// Package lifecycle drives the token state machine: activation of monitored
// tokens, archival by age, and demotion of active tokens on sustained low
// score or low activity.
package lifecycle

import (
	"context"
	"time"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/infrastructure/metrics"
	"github.com/solpulse/solpulse/services/scoring"
	"github.com/solpulse/solpulse/services/settings"
	"github.com/solpulse/solpulse/services/store"
)

// MetricsSource fetches fresh per-token market metrics. Satisfied by the
// provider gateway.
type MetricsSource interface {
	Metrics(ctx context.Context, address string) (*domain.MetricSnapshot, error)
}

// TickResult summarizes one batch run.
type TickResult struct {
	Processed int
	Promoted  int
	Demoted   int
	Archived  int
	Scored    int
	Errors    int
}

// Controller applies lifecycle rules to batches of tokens. Per-token
// failures are logged and skipped; a tick never aborts mid-batch.
type Controller struct {
	repo    store.Repository
	source  MetricsSource
	log     *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a controller.
func New(repo store.Repository, source MetricsSource, log *logging.Logger, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Controller{
		repo:    repo,
		source:  source,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// MonitoredTick processes one batch of Monitored tokens: archival by age
// first, then activation checks.
func (c *Controller) MonitoredTick(ctx context.Context, cfg settings.Snapshot) (TickResult, error) {
	var result TickResult

	tokens, err := c.repo.ListByStatus(ctx, domain.StatusMonitored, cfg.BatchMonitored, 0)
	if err != nil {
		return result, err
	}

	for _, token := range tokens {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++
		if err := c.processMonitored(ctx, token, cfg, &result); err != nil {
			result.Errors++
			c.log.WithError(err).WithFields(map[string]interface{}{
				"address": token.Address,
			}).Warn("monitored token check failed")
		}
	}

	return result, nil
}

func (c *Controller) processMonitored(ctx context.Context, token *domain.Token, cfg settings.Snapshot, result *TickResult) error {
	now := c.now().UTC()

	// Age archival dominates every other rule.
	timeout := time.Duration(cfg.ArchivalTimeoutHours) * time.Hour
	if now.Sub(token.CreatedAt) >= timeout {
		if err := c.repo.UpdateStatus(ctx, token.Address,
			domain.StatusMonitored, domain.StatusArchived, domain.ReasonArchivalTimeout); err != nil {
			return err
		}
		result.Archived++
		c.metrics.RecordTransition(string(domain.StatusMonitored), string(domain.StatusArchived), string(domain.ReasonArchivalTimeout))
		c.log.WithFields(map[string]interface{}{
			"address": token.Address,
			"age":     now.Sub(token.CreatedAt).String(),
		}).Info("token archived by timeout")
		return nil
	}

	// Fresh metrics are best effort here; a stored snapshot still allows the
	// activation decision.
	snap, err := c.source.Metrics(ctx, token.Address)
	if err == nil {
		if err := c.repo.AppendSnapshot(ctx, snap); err != nil {
			return err
		}
	} else {
		c.log.WithError(err).WithFields(map[string]interface{}{
			"address": token.Address,
		}).Debug("metrics fetch failed, using stored snapshot")
		snap, err = c.repo.LatestSnapshot(ctx, token.Address)
		if err != nil {
			return err
		}
	}
	if snap == nil {
		return nil
	}

	if snap.Liquidity < cfg.MinLiquidityUSD || snap.TxCount1h < cfg.MinTxCount {
		return nil
	}

	pools, err := c.repo.ListPools(ctx, token.Address, false)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return nil
	}

	if err := c.repo.UpdateStatus(ctx, token.Address,
		domain.StatusMonitored, domain.StatusActive, domain.ReasonActivation); err != nil {
		return err
	}
	result.Promoted++
	c.metrics.RecordTransition(string(domain.StatusMonitored), string(domain.StatusActive), string(domain.ReasonActivation))
	c.log.WithFields(map[string]interface{}{
		"address":   token.Address,
		"liquidity": snap.Liquidity,
		"tx_1h":     snap.TxCount1h,
	}).Info("token activated")
	return nil
}

// ActiveTick processes one batch of Active tokens: fetch metrics, score,
// persist, then apply the demotion rules. Low score is evaluated before low
// activity; at most one transition per token per tick.
func (c *Controller) ActiveTick(ctx context.Context, cfg settings.Snapshot) (TickResult, error) {
	var result TickResult

	tokens, err := c.repo.ListByStatus(ctx, domain.StatusActive, cfg.BatchActive, 0)
	if err != nil {
		return result, err
	}

	for _, token := range tokens {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++
		if err := c.processActive(ctx, token, cfg, &result); err != nil {
			result.Errors++
			c.log.WithError(err).WithFields(map[string]interface{}{
				"address": token.Address,
			}).Warn("active token check failed")
		}
	}

	return result, nil
}

func (c *Controller) processActive(ctx context.Context, token *domain.Token, cfg settings.Snapshot, result *TickResult) error {
	snap, err := c.source.Metrics(ctx, token.Address)
	if err != nil {
		return err
	}
	if err := c.repo.AppendSnapshot(ctx, snap); err != nil {
		return err
	}

	prev, err := c.repo.LatestScore(ctx, token.Address)
	if err != nil {
		return err
	}

	model, err := scoring.ForName(cfg.ScoringModel)
	if err != nil {
		return err
	}
	record, err := model.Score(snap, prev, cfg)
	if err != nil {
		c.metrics.RecordScore(cfg.ScoringModel, "error")
		return err
	}
	if err := c.repo.AppendScore(ctx, record); err != nil {
		return err
	}
	if err := c.repo.SetLastScore(ctx, token.Address, record.Raw, record.Smoothed, record.TS); err != nil {
		return err
	}
	result.Scored++
	c.metrics.RecordScore(cfg.ScoringModel, "ok")

	demoted, err := c.checkLowScore(ctx, token, record.Smoothed, cfg, result)
	if err != nil || demoted {
		return err
	}

	return c.checkLowActivity(ctx, token, snap, cfg, result)
}

// checkLowScore tracks how long the smoothed score has been continuously
// below the keep-active threshold and demotes once the window has elapsed.
func (c *Controller) checkLowScore(ctx context.Context, token *domain.Token, smoothed float64, cfg settings.Snapshot, result *TickResult) (bool, error) {
	now := c.now().UTC()

	if smoothed >= cfg.MinScoreKeepActive {
		if token.LowScoreSince != nil || token.LowScoreStreak != 0 {
			if err := c.repo.SetLowScoreState(ctx, token.Address, nil, 0); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if token.LowScoreSince == nil {
		return false, c.repo.SetLowScoreState(ctx, token.Address, &now, 1)
	}

	window := time.Duration(cfg.LowScoreWindowHours) * time.Hour
	if now.Sub(*token.LowScoreSince) < window {
		return false, c.repo.SetLowScoreState(ctx, token.Address, token.LowScoreSince, token.LowScoreStreak+1)
	}

	if err := c.repo.UpdateStatus(ctx, token.Address,
		domain.StatusActive, domain.StatusMonitored, domain.ReasonLowScore); err != nil {
		return false, err
	}
	result.Demoted++
	c.metrics.RecordTransition(string(domain.StatusActive), string(domain.StatusMonitored), string(domain.ReasonLowScore))
	c.log.WithFields(map[string]interface{}{
		"address":   token.Address,
		"smoothed":  smoothed,
		"below_for": now.Sub(*token.LowScoreSince).String(),
	}).Info("token demoted on low score")
	return true, nil
}

// checkLowActivity counts consecutive snapshots below the transaction floor
// and demotes once the configured number of checks is reached. Any passing
// snapshot resets the streak.
func (c *Controller) checkLowActivity(ctx context.Context, token *domain.Token, snap *domain.MetricSnapshot, cfg settings.Snapshot, result *TickResult) error {
	if snap.TxCount1h >= cfg.MinTxCount {
		if token.LowActivityStreak != 0 {
			return c.repo.SetLowActivityStreak(ctx, token.Address, 0)
		}
		return nil
	}

	streak := token.LowActivityStreak + 1
	if streak < cfg.LowActivityChecks {
		return c.repo.SetLowActivityStreak(ctx, token.Address, streak)
	}

	// UpdateStatus resets the streak fields along with the transition.
	if err := c.repo.UpdateStatus(ctx, token.Address,
		domain.StatusActive, domain.StatusMonitored, domain.ReasonLowActivity); err != nil {
		return err
	}
	result.Demoted++
	c.metrics.RecordTransition(string(domain.StatusActive), string(domain.StatusMonitored), string(domain.ReasonLowActivity))
	c.log.WithFields(map[string]interface{}{
		"address": token.Address,
		"tx_1h":   snap.TxCount1h,
		"checks":  streak,
	}).Info("token demoted on low activity")
	return nil
}
