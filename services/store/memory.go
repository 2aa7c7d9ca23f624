package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solpulse/solpulse/domain"
	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
)

// Memory is an in-memory Repository with the same semantics as the Postgres
// implementation. It backs tests and small single-process deployments.
type Memory struct {
	mu        sync.RWMutex
	tokens    map[string]*domain.Token
	pools     map[string]*domain.Pool // keyed by pool address
	snapshots map[string][]*domain.MetricSnapshot
	scores    map[string][]*domain.ScoreRecord
	settings  map[string]string

	now func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tokens:    make(map[string]*domain.Token),
		pools:     make(map[string]*domain.Pool),
		snapshots: make(map[string][]*domain.MetricSnapshot),
		scores:    make(map[string][]*domain.ScoreRecord),
		settings:  make(map[string]string),
		now:       time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) UpsertMonitored(ctx context.Context, address string) (*domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tokens[address]; ok {
		copied := *existing
		return &copied, nil
	}

	now := m.now().UTC()
	token := &domain.Token{
		Address:         address,
		Status:          domain.StatusMonitored,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	m.tokens[address] = token

	copied := *token
	return &copied, nil
}

func (m *Memory) GetToken(ctx context.Context, address string) (*domain.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.tokens[address]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (m *Memory) ListByStatus(ctx context.Context, status domain.TokenStatus, limit, offset int) ([]*domain.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Token
	for _, token := range m.tokens {
		if token.Status == status {
			copied := *token
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Address < matched[j].Address
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) CountByStatus(ctx context.Context, status domain.TokenStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, token := range m.tokens {
		if token.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, address string, from, to domain.TokenStatus, reason domain.StatusChangeReason) error {
	if !domain.ValidTransition(from, to) {
		return apperrors.New(apperrors.KindInternal,
			fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[address]
	if !ok || token.Status != from {
		return apperrors.NotFound("token", address).
			WithDetails("expected_status", string(from))
	}

	now := m.now().UTC()
	token.Status = to
	token.StatusChangedAt = now
	switch to {
	case domain.StatusActive:
		ts := now
		token.ActivatedAt = &ts
	case domain.StatusArchived:
		ts := now
		token.ArchivedAt = &ts
	}
	token.LowScoreStreak = 0
	token.LowActivityStreak = 0
	token.LowScoreSince = nil
	return nil
}

func (m *Memory) DeleteToken(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, address)
	delete(m.snapshots, address)
	delete(m.scores, address)
	for poolAddress, pool := range m.pools {
		if pool.TokenAddress == address {
			delete(m.pools, poolAddress)
		}
	}
	return nil
}

func (m *Memory) AppendSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *snap

	// Join holders_1h_ago from the nearest prior snapshot at least 1h older.
	cutoff := copied.TS.Add(-time.Hour)
	history := m.snapshots[snap.TokenAddress]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].TS.After(cutoff) {
			holders := history[i].HoldersNow
			copied.HoldersOneHourAgo = &holders
			break
		}
	}

	m.snapshots[snap.TokenAddress] = append(history, &copied)
	snap.HoldersOneHourAgo = copied.HoldersOneHourAgo
	return nil
}

func (m *Memory) LatestSnapshot(ctx context.Context, address string) (*domain.MetricSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.snapshots[address]
	if len(history) == 0 {
		return nil, nil
	}
	copied := *history[len(history)-1]
	return &copied, nil
}

func (m *Memory) AppendScore(ctx context.Context, record *domain.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	copied := *record
	m.scores[record.TokenAddress] = append(m.scores[record.TokenAddress], &copied)
	return nil
}

func (m *Memory) LatestScore(ctx context.Context, address string) (*domain.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.scores[address]
	if len(history) == 0 {
		return nil, nil
	}
	copied := *history[len(history)-1]
	return &copied, nil
}

func (m *Memory) SetLastScore(ctx context.Context, address string, raw, smoothed float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[address]
	if !ok {
		return apperrors.NotFound("token", address)
	}
	token.LastRawScore = &raw
	token.LastSmoothedScore = &smoothed
	token.LastScoredAt = &ts
	return nil
}

func (m *Memory) SetLowScoreState(ctx context.Context, address string, since *time.Time, streak int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[address]
	if !ok {
		return apperrors.NotFound("token", address)
	}
	if since == nil {
		token.LowScoreSince = nil
	} else {
		ts := *since
		token.LowScoreSince = &ts
	}
	token.LowScoreStreak = streak
	return nil
}

func (m *Memory) SetLowActivityStreak(ctx context.Context, address string, streak int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[address]
	if !ok {
		return apperrors.NotFound("token", address)
	}
	token.LowActivityStreak = streak
	return nil
}

func (m *Memory) ListPools(ctx context.Context, tokenAddress string, onlyActive bool) ([]*domain.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pools []*domain.Pool
	for _, pool := range m.pools {
		if pool.TokenAddress != tokenAddress {
			continue
		}
		if onlyActive && !pool.Active {
			continue
		}
		copied := *pool
		pools = append(pools, &copied)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Address < pools[j].Address })
	return pools, nil
}

func (m *Memory) UpsertPool(ctx context.Context, tokenAddress, poolAddress, dex string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pools[poolAddress]; ok {
		existing.Dex = dex
		existing.Active = active
		return nil
	}
	m.pools[poolAddress] = &domain.Pool{
		Address:      poolAddress,
		TokenAddress: tokenAddress,
		Dex:          dex,
		Active:       active,
		CreatedAt:    m.now().UTC(),
	}
	return nil
}

func (m *Memory) CompactBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for address, history := range m.snapshots {
		kept := history[:0]
		for _, snap := range history {
			if snap.TS.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, snap)
			}
		}
		m.snapshots[address] = kept
	}
	for address, history := range m.scores {
		kept := history[:0]
		for _, record := range history {
			if record.TS.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, record)
			}
		}
		m.scores[address] = kept
	}
	return removed, nil
}

func (m *Memory) GetSettings(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make(map[string]string, len(m.settings))
	for key, value := range m.settings {
		copied[key] = value
	}
	return copied, nil
}

func (m *Memory) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

var _ Repository = (*Memory)(nil)
