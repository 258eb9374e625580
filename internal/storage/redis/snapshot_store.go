// Package redis holds the hot-path snapshot cache: the latest market
// snapshot per asset, shared between the feed writer and strategy
// reads. Entries carry a TTL so a stalled feed surfaces as a cache
// miss rather than a silently stale price.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// DefaultSnapshotTTL bounds how stale a cached snapshot may get before
// reads start returning ErrNotFound.
const DefaultSnapshotTTL = 2 * time.Minute

// SnapshotStoreOptions configures a SnapshotStore.
type SnapshotStoreOptions struct {
	Client *goredis.Client

	// TTL is the expiry applied on every Put. Zero means
	// DefaultSnapshotTTL; a negative TTL stores entries without expiry.
	TTL time.Duration

	// KeyPrefix namespaces the cache keys. Defaults to "snapshot".
	KeyPrefix string
}

// SnapshotStore is a Redis-backed implementation of storage.SnapshotStore.
type SnapshotStore struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewSnapshotStore creates a Redis-backed snapshot store.
func NewSnapshotStore(opts SnapshotStoreOptions) (*SnapshotStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis snapshot store: nil client")
	}

	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = DefaultSnapshotTTL
	case ttl < 0:
		ttl = 0 // no expiry
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "snapshot"
	}

	return &SnapshotStore{
		client: opts.Client,
		ttl:    ttl,
		prefix: prefix,
	}, nil
}

// Put stores the snapshot as the latest for its asset, refreshing the TTL.
func (s *SnapshotStore) Put(ctx context.Context, snap *domain.MarketSnapshot) error {
	if snap == nil || snap.Asset == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key(snap.Asset), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot %s: %w", snap.Asset, err)
	}
	return nil
}

// Latest retrieves the most recent snapshot for an asset. Returns
// ErrNotFound when the key is missing or has expired.
func (s *SnapshotStore) Latest(ctx context.Context, asset string) (*domain.MarketSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(asset)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot %s: %w", asset, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", asset, err)
	}
	return &snap, nil
}

func (s *SnapshotStore) key(asset string) string {
	return s.prefix + ":" + asset
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
