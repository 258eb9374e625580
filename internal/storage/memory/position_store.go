package memory

import (
	"context"
	"sort"
	"sync"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by strategy_id|asset
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Upsert inserts the position or replaces the existing row for (strategy_id, asset).
func (s *PositionStore) Upsert(_ context.Context, p *domain.Position) error {
	if p == nil || p.StrategyID == "" || p.Asset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.data[positionKey(p.StrategyID, p.Asset)] = &copy
	return nil
}

// Delete removes the position for (strategy_id, asset). Returns ErrNotFound if nothing is open.
func (s *PositionStore) Delete(_ context.Context, strategyID, asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(strategyID, asset)
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, key)
	return nil
}

// GetOpen retrieves all open positions for a strategy, ordered by asset ASC.
func (s *PositionStore) GetOpen(_ context.Context, strategyID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.StrategyID == strategyID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Asset < result[j].Asset
	})

	return result, nil
}

// GetAll retrieves every open position, ordered by (strategy_id, asset) ASC.
func (s *PositionStore) GetAll(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		copy := *p
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StrategyID != result[j].StrategyID {
			return result[i].StrategyID < result[j].StrategyID
		}
		return result[i].Asset < result[j].Asset
	})

	return result, nil
}

func positionKey(strategyID, asset string) string {
	return strategyID + "|" + asset
}

var _ storage.PositionStore = (*PositionStore)(nil)
