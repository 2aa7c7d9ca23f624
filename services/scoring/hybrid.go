package scoring

import (
	"math"
	"time"

	"github.com/solpulse/solpulse/domain"
	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
	"github.com/solpulse/solpulse/services/settings"
)

// ModelHybridMomentum is the default composite momentum model.
const ModelHybridMomentum = "hybrid_momentum"

// Normalization caps mapping each raw component into [0, 1].
const (
	txAccelMax      = 10.0
	volMomentumMax  = 5.0
	holderGrowthMax = 2.0
)

func init() {
	Register(&hybridMomentum{})
}

// hybridMomentum weighs transaction acceleration, volume momentum, holder
// growth and orderflow imbalance into one [0, 1] score, smoothed by EWMA
// against the previous record.
type hybridMomentum struct{}

func (h *hybridMomentum) Name() string { return ModelHybridMomentum }

func (h *hybridMomentum) Score(snap *domain.MetricSnapshot, prev *domain.ScoreRecord, cfg settings.Snapshot) (*domain.ScoreRecord, error) {
	if math.Abs(cfg.Weights.Sum()-1.0) > 1e-3 {
		return nil, apperrors.ConfigInvalid("weights", "components must sum to 1 within 1e-3")
	}

	components := domain.ScoreComponents{
		TxAccel:            txAccel(snap),
		VolMomentum:        volMomentum(snap),
		HolderGrowth:       holderGrowth(snap),
		OrderflowImbalance: orderflowImbalance(snap),
	}

	normalized := domain.ScoreComponents{
		TxAccel:            math.Min(components.TxAccel/txAccelMax, 1.0),
		VolMomentum:        math.Min(components.VolMomentum/volMomentumMax, 1.0),
		HolderGrowth:       math.Min(components.HolderGrowth/holderGrowthMax, 1.0),
		OrderflowImbalance: (components.OrderflowImbalance + 1.0) / 2.0,
	}

	raw := cfg.Weights.WTx*normalized.TxAccel +
		cfg.Weights.WVol*normalized.VolMomentum +
		cfg.Weights.WHld*normalized.HolderGrowth +
		cfg.Weights.WOI*normalized.OrderflowImbalance
	raw = clamp01(raw)

	smoothed := raw
	if prev != nil {
		smoothed = cfg.EWMAAlpha*raw + (1-cfg.EWMAAlpha)*prev.Smoothed
	}

	return &domain.ScoreRecord{
		TokenAddress: snap.TokenAddress,
		TS:           time.Now().UTC(),
		ModelName:    ModelHybridMomentum,
		Raw:          raw,
		Smoothed:     smoothed,
		Components:   normalized,
	}, nil
}

// txAccel compares the 5 minute transaction pace with the hourly average:
// (tx_5m / 5) / (tx_1h / 60). Zero when the hour count is zero.
func txAccel(snap *domain.MetricSnapshot) float64 {
	if snap.TxCount1h == 0 {
		return 0
	}
	return (float64(snap.TxCount5m) / 5.0) / (float64(snap.TxCount1h) / 60.0)
}

// volMomentum compares the 5 minute volume with the average 5 minute slice
// of the hour: volume_5m / (volume_1h / 12). Zero when hourly volume is zero.
func volMomentum(snap *domain.MetricSnapshot) float64 {
	if snap.Volume1h == 0 {
		return 0
	}
	return snap.Volume5m / (snap.Volume1h / 12.0)
}

// holderGrowth is ln(1 + Δholders/holders_1h_ago), floored at zero. Without
// a usable baseline the component is zero.
func holderGrowth(snap *domain.MetricSnapshot) float64 {
	if snap.HoldersOneHourAgo == nil || *snap.HoldersOneHourAgo <= 0 {
		return 0
	}
	delta := math.Max(float64(snap.HoldersNow-*snap.HoldersOneHourAgo), 0)
	return math.Log(1 + delta/float64(*snap.HoldersOneHourAgo))
}

// orderflowImbalance is (buys - sells) / (buys + sells) over the 5 minute
// window, in [-1, 1]. Zero when there was no volume.
func orderflowImbalance(snap *domain.MetricSnapshot) float64 {
	total := snap.BuysVolume5m + snap.SellsVolume5m
	if total <= 0 {
		return 0
	}
	return (snap.BuysVolume5m - snap.SellsVolume5m) / total
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
