package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// DefaultMaxAge is the staleness cutoff applied when none is configured.
const DefaultMaxAge = 30 * time.Second

// StoreProviderConfig tunes snapshot reads.
type StoreProviderConfig struct {
	// MaxAge is the staleness cutoff. Zero means DefaultMaxAge; negative
	// disables the check.
	MaxAge time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// StoreProvider serves snapshots from the cache the feed writes into,
// refusing data older than the staleness cutoff. It also answers
// funding queries from the same snapshot.
type StoreProvider struct {
	store  storage.SnapshotStore
	maxAge time.Duration
	clock  func() time.Time
}

// NewStoreProvider creates a provider over the given snapshot cache.
func NewStoreProvider(store storage.SnapshotStore, cfg StoreProviderConfig) *StoreProvider {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &StoreProvider{
		store:  store,
		maxAge: cfg.MaxAge,
		clock:  cfg.Clock,
	}
}

// Snapshot returns the latest validated snapshot for the asset.
func (p *StoreProvider) Snapshot(ctx context.Context, asset string) (domain.MarketSnapshot, error) {
	snap, err := p.store.Latest(ctx, asset)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrNoData, asset)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("load snapshot for %s: %w", asset, err)
	}

	if p.maxAge > 0 {
		age := p.clock().Sub(time.UnixMilli(snap.TimestampMs))
		if age > p.maxAge {
			return domain.MarketSnapshot{}, fmt.Errorf("%w: %s is %s old (cutoff %s)", ErrStale, asset, age, p.maxAge)
		}
	}

	if err := Validate(snap); err != nil {
		return domain.MarketSnapshot{}, err
	}
	return *snap, nil
}

// Funding projects the funding view out of the latest snapshot.
func (p *StoreProvider) Funding(ctx context.Context, asset string) (domain.FundingInfo, error) {
	snap, err := p.Snapshot(ctx, asset)
	if err != nil {
		return domain.FundingInfo{}, err
	}
	return domain.FundingInfo{
		Asset:         snap.Asset,
		Rate:          snap.FundingRate,
		PredictedRate: snap.PredictedFundingRate,
		OpenInterest:  snap.OpenInterest,
		TimestampMs:   snap.TimestampMs,
	}, nil
}

var (
	_ Provider        = (*StoreProvider)(nil)
	_ FundingProvider = (*StoreProvider)(nil)
)
