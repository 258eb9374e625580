package memory

import (
	"context"
	"sort"
	"sync"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DecisionRecord // keyed by decision_id
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		data: make(map[string]*domain.DecisionRecord),
	}
}

// Insert adds a new decision. Returns ErrDuplicateKey if decision_id exists.
func (s *DecisionStore) Insert(_ context.Context, d *domain.DecisionRecord) error {
	if d == nil || d.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *d
	s.data[d.ID] = &copy
	return nil
}

// InsertBulk adds multiple decisions atomically. Fails entire batch on any duplicate.
func (s *DecisionStore) InsertBulk(_ context.Context, decisions []*domain.DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(decisions))

	for _, d := range decisions {
		if d == nil || d.ID == "" {
			return storage.ErrInvalidInput
		}

		if _, exists := s.data[d.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[d.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[d.ID] = struct{}{}
	}

	for _, d := range decisions {
		copy := *d
		s.data[d.ID] = &copy
	}

	return nil
}

// GetByStrategy retrieves all decisions for a strategy, ordered by timestamp ASC.
func (s *DecisionStore) GetByStrategy(_ context.Context, strategyID string) ([]*domain.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DecisionRecord
	for _, d := range s.data {
		if d.StrategyID == strategyID {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetByTimeRange retrieves a strategy's decisions within [start, end] (inclusive).
func (s *DecisionStore) GetByTimeRange(_ context.Context, strategyID string, start, end int64) ([]*domain.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DecisionRecord
	for _, d := range s.data {
		if d.StrategyID == strategyID && d.TimestampMs >= start && d.TimestampMs <= end {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.DecisionStore = (*DecisionStore)(nil)
