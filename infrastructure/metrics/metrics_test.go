package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("radar", reg)

	m.TokensIngested.Inc()
	m.RecordProviderRequest("overview", "ok", 100*time.Millisecond)
	m.RecordTransition("monitored", "active", "activation")
	m.RecordTick("monitored", "ok", time.Second)
	m.RecordScore("hybrid_momentum", "ok")
	m.RecordStoreQuery("upsert_monitored", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestCounters_Increment(t *testing.T) {
	m := NewNop()

	m.TokensIngested.Inc()
	m.TokensIngested.Inc()

	if got := testutil.ToFloat64(m.TokensIngested); got != 2 {
		t.Errorf("expected 2 ingested, got %v", got)
	}

	m.ProviderCacheHits.Inc()
	if got := testutil.ToFloat64(m.ProviderCacheHits); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
}

func TestTransitionLabels(t *testing.T) {
	m := NewNop()
	m.RecordTransition("active", "monitored", "low_score")

	got := testutil.ToFloat64(m.StatusTransitions.WithLabelValues("active", "monitored", "low_score"))
	if got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
}
