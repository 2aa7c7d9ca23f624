// Package scheduler drives the periodic monitored and active batches and
// the hourly history compaction.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/infrastructure/metrics"
	"github.com/solpulse/solpulse/services/lifecycle"
	"github.com/solpulse/solpulse/services/settings"
	"github.com/solpulse/solpulse/services/store"
)

// retentionWindow is how much snapshot and score history the hourly
// compaction keeps.
const retentionWindow = 2 * time.Hour

// LimitUpdater receives runtime concurrency and cache TTL changes.
// Satisfied by the provider gateway.
type LimitUpdater interface {
	UpdateLimits(maxConcurrency int, cacheTTL time.Duration)
}

// Scheduler runs one cooperative loop alternating the monitored and active
// batches, plus an hourly compaction job. At most one tick of each kind
// runs at a time.
type Scheduler struct {
	repo       store.Repository
	controller *lifecycle.Controller
	settings   *settings.Store
	limits     LimitUpdater
	log        *logging.Logger
	metrics    *metrics.Metrics

	monitoredMu sync.Mutex
	activeMu    sync.Mutex
	compactMu   sync.Mutex
}

// New creates a scheduler. limits may be nil.
func New(repo store.Repository, controller *lifecycle.Controller, cfg *settings.Store, limits LimitUpdater, log *logging.Logger, m *metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		repo:       repo,
		controller: controller,
		settings:   cfg,
		limits:     limits,
		log:        log,
		metrics:    m,
	}
}

// Run loops until ctx is cancelled. Each iteration runs the monitored batch,
// sleeps the monitored cadence, runs the active batch and sleeps the active
// cadence. Ticks started before cancellation finish; none start after.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := cron.New()
	_, err := jobs.AddFunc("@every 1h", func() { s.Compact(ctx) })
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	s.log.WithComponent("scheduler").Info("scheduler started")

	for {
		snap := s.settings.Current()
		s.applyLimits(snap)
		s.updateStatusGauges(ctx)
		s.RunMonitoredOnce(ctx, snap)

		if !sleep(ctx, time.Duration(snap.CadenceMonitoredSec)*time.Second) {
			return ctx.Err()
		}

		snap = s.settings.Current()
		s.applyLimits(snap)
		s.RunActiveOnce(ctx, snap)

		if !sleep(ctx, time.Duration(snap.CadenceActiveSec)*time.Second) {
			return ctx.Err()
		}
	}
}

func (s *Scheduler) applyLimits(snap settings.Snapshot) {
	if s.limits != nil {
		s.limits.UpdateLimits(snap.ExtMaxConcurrency,
			time.Duration(snap.ProviderCacheTTLSec)*time.Second)
	}
}

// RunMonitoredOnce executes one monitored tick under its mutex.
func (s *Scheduler) RunMonitoredOnce(ctx context.Context, snap settings.Snapshot) {
	s.monitoredMu.Lock()
	defer s.monitoredMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	tickCtx := logging.WithTraceID(ctx, logging.NewTraceID())
	start := time.Now()
	result, err := s.controller.MonitoredTick(tickCtx, snap)
	s.finishTick(tickCtx, "monitored", result, err, time.Since(start))
}

// RunActiveOnce executes one active tick under its mutex.
func (s *Scheduler) RunActiveOnce(ctx context.Context, snap settings.Snapshot) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	tickCtx := logging.WithTraceID(ctx, logging.NewTraceID())
	start := time.Now()
	result, err := s.controller.ActiveTick(tickCtx, snap)
	s.finishTick(tickCtx, "active", result, err, time.Since(start))
}

func (s *Scheduler) finishTick(ctx context.Context, kind string, result lifecycle.TickResult, err error, elapsed time.Duration) {
	if err != nil {
		s.metrics.RecordTick(kind, "error", elapsed)
		s.log.WithContext(ctx).WithError(err).WithField("kind", kind).Error("tick failed")
		return
	}

	s.metrics.RecordTick(kind, "ok", elapsed)
	if result.Processed > 0 {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"kind":      kind,
			"processed": result.Processed,
			"promoted":  result.Promoted,
			"demoted":   result.Demoted,
			"archived":  result.Archived,
			"scored":    result.Scored,
			"errors":    result.Errors,
			"elapsed":   elapsed.String(),
		}).Info("tick completed")
	}
}

func (s *Scheduler) updateStatusGauges(ctx context.Context) {
	statuses := []domain.TokenStatus{domain.StatusMonitored, domain.StatusActive, domain.StatusArchived}
	for _, status := range statuses {
		count, err := s.repo.CountByStatus(ctx, status)
		if err != nil {
			return
		}
		s.metrics.TokensByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}

// Compact removes snapshot and score history beyond the retention window.
func (s *Scheduler) Compact(ctx context.Context) {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	cutoff := time.Now().UTC().Add(-retentionWindow)
	removed, err := s.repo.CompactBefore(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("history compaction failed")
		return
	}
	if removed > 0 {
		s.log.WithFields(map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("history compacted")
	}
}

// sleep waits for d or until ctx ends; false means the context ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
