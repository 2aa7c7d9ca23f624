package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
	"github.com/solpulse/solpulse/infrastructure/logging"
)

// Persistence stores settings rows so runtime updates survive restarts.
// Values are JSON-encoded.
type Persistence interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store holds the current configuration snapshot. Reads are lock-free
// against an atomically swapped pointer; writes validate the full candidate
// before swapping.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers
	repo    Persistence
	log     *logging.Logger
}

// NewStore creates a store seeded with defaults. repo may be nil, in which
// case updates are kept in memory only.
func NewStore(repo Persistence, log *logging.Logger) *Store {
	s := &Store{repo: repo, log: log}
	snap := Defaults()
	s.current.Store(&snap)
	return s
}

// Current returns the active snapshot by value.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Bootstrap layers configuration in priority order: defaults, then the
// optional YAML file, then environment overrides, then persisted rows.
// The resulting snapshot must validate; a broken layer aborts startup.
func (s *Store) Bootstrap(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Defaults()

	if filePath != "" {
		raw, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("parse settings file: %w", err)
		}
	}

	applyEnv(&snap)

	if s.repo != nil {
		rows, err := s.repo.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load persisted settings: %w", err)
		}
		for key, value := range rows {
			if err := applyKey(&snap, key, json.RawMessage(value)); err != nil {
				// A bad persisted row must not block startup.
				s.log.WithError(err).WithFields(map[string]interface{}{"key": key}).
					Warn("ignoring invalid persisted setting")
			}
		}
	}

	if err := snap.Validate(); err != nil {
		return apperrors.ConfigInvalid("bootstrap", err.Error())
	}

	s.current.Store(&snap)
	return nil
}

// Set updates a single key. The candidate snapshot is validated as a whole;
// on failure the prior snapshot stays installed and the error is returned.
// value is JSON (a number, string or object depending on the key).
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := *s.current.Load()
	if err := applyKey(&candidate, key, value); err != nil {
		return err
	}
	if err := candidate.Validate(); err != nil {
		return apperrors.ConfigInvalid(key, err.Error())
	}

	if s.repo != nil {
		if err := s.repo.PutSetting(ctx, key, string(value)); err != nil {
			return apperrors.Store("put_setting", err)
		}
	}

	s.current.Store(&candidate)
	s.log.WithFields(map[string]interface{}{"key": key}).Info("setting updated")
	return nil
}

// Keys recognized by Set and by persisted rows.
const (
	KeyWeights              = "weights"
	KeyEWMAAlpha            = "ewma_alpha"
	KeyMinScoreKeepActive   = "min_score_keep_active"
	KeyLowScoreWindowHours  = "low_score_window_hours"
	KeyLowActivityChecks    = "low_activity_checks"
	KeyMinLiquidityUSD      = "min_liquidity_usd"
	KeyMinTxCount           = "min_tx_count"
	KeyArchivalTimeoutHours = "archival_timeout_hours"
	KeyCadenceMonitoredSec  = "cadence_monitored_sec"
	KeyCadenceActiveSec     = "cadence_active_sec"
	KeyBatchMonitored       = "batch_monitored"
	KeyBatchActive          = "batch_active"
	KeyExtMaxConcurrency    = "ext_max_concurrency"
	KeyProviderCacheTTLSec  = "provider_cache_ttl_sec"
	KeyMinScoreForConfig    = "min_score_for_config"
	KeyConfigTopCount       = "config_top_count"
	KeyScoringModel         = "scoring_model"
)

func applyKey(snap *Snapshot, key string, value json.RawMessage) error {
	unmarshal := func(dst interface{}) error {
		if err := json.Unmarshal(value, dst); err != nil {
			return apperrors.ConfigInvalid(key, fmt.Sprintf("decode: %v", err))
		}
		return nil
	}

	switch key {
	case KeyWeights:
		return unmarshal(&snap.Weights)
	case KeyEWMAAlpha:
		return unmarshal(&snap.EWMAAlpha)
	case KeyMinScoreKeepActive:
		return unmarshal(&snap.MinScoreKeepActive)
	case KeyLowScoreWindowHours:
		return unmarshal(&snap.LowScoreWindowHours)
	case KeyLowActivityChecks:
		return unmarshal(&snap.LowActivityChecks)
	case KeyMinLiquidityUSD:
		return unmarshal(&snap.MinLiquidityUSD)
	case KeyMinTxCount:
		return unmarshal(&snap.MinTxCount)
	case KeyArchivalTimeoutHours:
		return unmarshal(&snap.ArchivalTimeoutHours)
	case KeyCadenceMonitoredSec:
		return unmarshal(&snap.CadenceMonitoredSec)
	case KeyCadenceActiveSec:
		return unmarshal(&snap.CadenceActiveSec)
	case KeyBatchMonitored:
		return unmarshal(&snap.BatchMonitored)
	case KeyBatchActive:
		return unmarshal(&snap.BatchActive)
	case KeyExtMaxConcurrency:
		return unmarshal(&snap.ExtMaxConcurrency)
	case KeyProviderCacheTTLSec:
		return unmarshal(&snap.ProviderCacheTTLSec)
	case KeyMinScoreForConfig:
		return unmarshal(&snap.MinScoreForConfig)
	case KeyConfigTopCount:
		return unmarshal(&snap.ConfigTopCount)
	case KeyScoringModel:
		return unmarshal(&snap.ScoringModel)
	default:
		return apperrors.ConfigInvalid(key, "unrecognized key")
	}
}

// applyEnv overlays SP_-prefixed environment variables onto snap. Unset or
// malformed values leave the current field untouched.
func applyEnv(snap *Snapshot) {
	envJSON := func(envKey, key string) {
		raw := os.Getenv(envKey)
		if raw == "" {
			return
		}
		_ = applyKey(snap, key, json.RawMessage(raw))
	}

	envJSON("SP_WEIGHTS", KeyWeights)
	envJSON("SP_EWMA_ALPHA", KeyEWMAAlpha)
	envJSON("SP_MIN_SCORE_KEEP_ACTIVE", KeyMinScoreKeepActive)
	envJSON("SP_LOW_SCORE_WINDOW_HOURS", KeyLowScoreWindowHours)
	envJSON("SP_LOW_ACTIVITY_CHECKS", KeyLowActivityChecks)
	envJSON("SP_MIN_LIQUIDITY_USD", KeyMinLiquidityUSD)
	envJSON("SP_MIN_TX_COUNT", KeyMinTxCount)
	envJSON("SP_ARCHIVAL_TIMEOUT_HOURS", KeyArchivalTimeoutHours)
	envJSON("SP_CADENCE_MONITORED_SEC", KeyCadenceMonitoredSec)
	envJSON("SP_CADENCE_ACTIVE_SEC", KeyCadenceActiveSec)
	envJSON("SP_BATCH_MONITORED", KeyBatchMonitored)
	envJSON("SP_BATCH_ACTIVE", KeyBatchActive)
	envJSON("SP_EXT_MAX_CONCURRENCY", KeyExtMaxConcurrency)
	envJSON("SP_PROVIDER_CACHE_TTL_SEC", KeyProviderCacheTTLSec)
	envJSON("SP_MIN_SCORE_FOR_CONFIG", KeyMinScoreForConfig)
	envJSON("SP_CONFIG_TOP_COUNT", KeyConfigTopCount)

	if model := os.Getenv("SP_SCORING_MODEL"); model != "" {
		snap.ScoringModel = model
	}
}
