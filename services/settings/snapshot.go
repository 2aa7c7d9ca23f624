// Package settings holds the runtime configuration store. Components read a
// consistent snapshot per scheduler tick; updates validate the whole
// candidate atomically and swap it in only on success.
package settings

import (
	"fmt"
	"math"
)

// Weights are the scoring component weights. They must sum to 1 within a
// 1e-3 tolerance.
type Weights struct {
	WTx  float64 `json:"w_tx" yaml:"w_tx"`
	WVol float64 `json:"w_vol" yaml:"w_vol"`
	WHld float64 `json:"w_hld" yaml:"w_hld"`
	WOI  float64 `json:"w_oi" yaml:"w_oi"`
}

// Sum returns the weight total.
func (w Weights) Sum() float64 {
	return w.WTx + w.WVol + w.WHld + w.WOI
}

const weightSumTolerance = 1e-3

// Snapshot is one consistent view of the runtime configuration. Values are
// plain so a Snapshot can be copied and handed to a tick by value.
type Snapshot struct {
	Weights              Weights `json:"weights" yaml:"weights"`
	EWMAAlpha            float64 `json:"ewma_alpha" yaml:"ewma_alpha"`
	MinScoreKeepActive   float64 `json:"min_score_keep_active" yaml:"min_score_keep_active"`
	LowScoreWindowHours  int     `json:"low_score_window_hours" yaml:"low_score_window_hours"`
	LowActivityChecks    int     `json:"low_activity_checks" yaml:"low_activity_checks"`
	MinLiquidityUSD      float64 `json:"min_liquidity_usd" yaml:"min_liquidity_usd"`
	MinTxCount           int     `json:"min_tx_count" yaml:"min_tx_count"`
	ArchivalTimeoutHours int     `json:"archival_timeout_hours" yaml:"archival_timeout_hours"`
	CadenceMonitoredSec  int     `json:"cadence_monitored_sec" yaml:"cadence_monitored_sec"`
	CadenceActiveSec     int     `json:"cadence_active_sec" yaml:"cadence_active_sec"`
	BatchMonitored       int     `json:"batch_monitored" yaml:"batch_monitored"`
	BatchActive          int     `json:"batch_active" yaml:"batch_active"`
	ExtMaxConcurrency    int     `json:"ext_max_concurrency" yaml:"ext_max_concurrency"`
	ProviderCacheTTLSec  int     `json:"provider_cache_ttl_sec" yaml:"provider_cache_ttl_sec"`
	MinScoreForConfig    float64 `json:"min_score_for_config" yaml:"min_score_for_config"`
	ConfigTopCount       int     `json:"config_top_count" yaml:"config_top_count"`
	ScoringModel         string  `json:"scoring_model" yaml:"scoring_model"`
}

// Defaults returns the built-in configuration.
func Defaults() Snapshot {
	return Snapshot{
		Weights:              Weights{WTx: 0.25, WVol: 0.35, WHld: 0.20, WOI: 0.20},
		EWMAAlpha:            0.3,
		MinScoreKeepActive:   0.5,
		LowScoreWindowHours:  6,
		LowActivityChecks:    10,
		MinLiquidityUSD:      500,
		MinTxCount:           300,
		ArchivalTimeoutHours: 24,
		CadenceMonitoredSec:  30,
		CadenceActiveSec:     30,
		BatchMonitored:       50,
		BatchActive:          50,
		ExtMaxConcurrency:    5,
		ProviderCacheTTLSec:  30,
		MinScoreForConfig:    0.7,
		ConfigTopCount:       3,
		ScoringModel:         "hybrid_momentum",
	}
}

// Validate checks every field against its allowed range. A snapshot that
// fails validation must never be installed.
func (s Snapshot) Validate() error {
	if s.Weights.WTx < 0 || s.Weights.WVol < 0 || s.Weights.WHld < 0 || s.Weights.WOI < 0 {
		return fmt.Errorf("weights: components must be >= 0")
	}
	if math.Abs(s.Weights.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("weights: sum %.4f outside 1±%.0e", s.Weights.Sum(), weightSumTolerance)
	}
	if s.EWMAAlpha < 0 || s.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha: %v outside [0,1]", s.EWMAAlpha)
	}
	if s.MinScoreKeepActive < 0 {
		return fmt.Errorf("min_score_keep_active: %v must be >= 0", s.MinScoreKeepActive)
	}
	if s.LowScoreWindowHours < 1 {
		return fmt.Errorf("low_score_window_hours: %d must be >= 1", s.LowScoreWindowHours)
	}
	if s.LowActivityChecks < 3 {
		return fmt.Errorf("low_activity_checks: %d must be >= 3", s.LowActivityChecks)
	}
	if s.MinLiquidityUSD < 0 {
		return fmt.Errorf("min_liquidity_usd: %v must be >= 0", s.MinLiquidityUSD)
	}
	if s.MinTxCount < 0 {
		return fmt.Errorf("min_tx_count: %d must be >= 0", s.MinTxCount)
	}
	if s.ArchivalTimeoutHours < 1 {
		return fmt.Errorf("archival_timeout_hours: %d must be >= 1", s.ArchivalTimeoutHours)
	}
	if s.CadenceMonitoredSec < 5 {
		return fmt.Errorf("cadence_monitored_sec: %d must be >= 5", s.CadenceMonitoredSec)
	}
	if s.CadenceActiveSec < 5 {
		return fmt.Errorf("cadence_active_sec: %d must be >= 5", s.CadenceActiveSec)
	}
	if s.BatchMonitored < 1 {
		return fmt.Errorf("batch_monitored: %d must be >= 1", s.BatchMonitored)
	}
	if s.BatchActive < 1 {
		return fmt.Errorf("batch_active: %d must be >= 1", s.BatchActive)
	}
	if s.ExtMaxConcurrency < 1 {
		return fmt.Errorf("ext_max_concurrency: %d must be >= 1", s.ExtMaxConcurrency)
	}
	if s.ProviderCacheTTLSec < 1 {
		return fmt.Errorf("provider_cache_ttl_sec: %d must be >= 1", s.ProviderCacheTTLSec)
	}
	if s.MinScoreForConfig < 0 || s.MinScoreForConfig > 1 {
		return fmt.Errorf("min_score_for_config: %v outside [0,1]", s.MinScoreForConfig)
	}
	if s.ConfigTopCount < 1 {
		return fmt.Errorf("config_top_count: %d must be >= 1", s.ConfigTopCount)
	}
	if s.ScoringModel == "" {
		return fmt.Errorf("scoring_model: must not be empty")
	}
	return nil
}
