package memory

import (
	"context"
	"sync"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Entries never expire; the cache holds one snapshot per asset.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketSnapshot // keyed by asset
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.MarketSnapshot),
	}
}

// Put stores the snapshot as the latest for its asset.
func (s *SnapshotStore) Put(_ context.Context, snap *domain.MarketSnapshot) error {
	if snap == nil || snap.Asset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	s.data[snap.Asset] = &copy
	return nil
}

// Latest retrieves the most recent snapshot for an asset. Returns
// ErrNotFound if none exists.
func (s *SnapshotStore) Latest(_ context.Context, asset string) (*domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[asset]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *snap
	return &copy, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
