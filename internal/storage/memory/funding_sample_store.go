package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// FundingSampleStore is an in-memory implementation of storage.FundingSampleStore.
type FundingSampleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FundingSample // keyed by asset|timestamp_ms
}

// NewFundingSampleStore creates a new in-memory funding sample store.
func NewFundingSampleStore() *FundingSampleStore {
	return &FundingSampleStore{
		data: make(map[string]*domain.FundingSample),
	}
}

// InsertBulk adds multiple samples. Fails entire batch on duplicate (asset, timestamp_ms).
func (s *FundingSampleStore) InsertBulk(_ context.Context, samples []*domain.FundingSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(samples))

	for _, sample := range samples {
		if sample == nil || sample.Asset == "" {
			return storage.ErrInvalidInput
		}

		key := sampleKey(sample.Asset, sample.TimestampMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, sample := range samples {
		copy := *sample
		s.data[sampleKey(sample.Asset, sample.TimestampMs)] = &copy
	}

	return nil
}

// GetByTimeRange retrieves an asset's samples within [start, end] (inclusive),
// ordered by timestamp ASC.
func (s *FundingSampleStore) GetByTimeRange(_ context.Context, asset string, start, end int64) ([]*domain.FundingSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FundingSample
	for _, sample := range s.data {
		if sample.Asset == asset && sample.TimestampMs >= start && sample.TimestampMs <= end {
			copy := *sample
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// Latest retrieves the most recent sample for an asset. Returns ErrNotFound
// if none exists.
func (s *FundingSampleStore) Latest(_ context.Context, asset string) (*domain.FundingSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.FundingSample
	for _, sample := range s.data {
		if sample.Asset != asset {
			continue
		}
		if latest == nil || sample.TimestampMs > latest.TimestampMs {
			latest = sample
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}

	copy := *latest
	return &copy, nil
}

func sampleKey(asset string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", asset, timestampMs)
}

var _ storage.FundingSampleStore = (*FundingSampleStore)(nil)
