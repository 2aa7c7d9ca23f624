// Package scoring computes composite momentum scores from metric snapshots.
package scoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/services/settings"
)

// Model scores one snapshot. Implementations are pure apart from the
// configuration passed in: same inputs produce the same record.
type Model interface {
	Name() string
	Score(snap *domain.MetricSnapshot, prev *domain.ScoreRecord, cfg settings.Snapshot) (*domain.ScoreRecord, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Model)
)

// Register adds a model to the dispatch table. Later registrations under the
// same name win.
func Register(m Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// ForName returns the model registered under name.
func ForName(name string) (Model, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scoring model %q (have %v)", name, names())
	}
	return m, nil
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
