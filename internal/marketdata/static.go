package marketdata

import (
	"context"
	"fmt"
	"sync"

	"delta-keeper/internal/domain"
)

// Static serves fixed snapshots and funding views, for tests and
// simulations. The zero value is ready to use; data set through the
// setters is served as-is without validation.
type Static struct {
	mu      sync.RWMutex
	snaps   map[string]domain.MarketSnapshot
	funding map[string]domain.FundingInfo
}

// SetSnapshot installs the snapshot served for its asset.
func (s *Static) SetSnapshot(snap domain.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps == nil {
		s.snaps = make(map[string]domain.MarketSnapshot)
	}
	s.snaps[snap.Asset] = snap
}

// SetFunding installs the funding view served for its asset.
func (s *Static) SetFunding(info domain.FundingInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.funding == nil {
		s.funding = make(map[string]domain.FundingInfo)
	}
	s.funding[info.Asset] = info
}

// Snapshot returns the installed snapshot, or ErrNoData.
func (s *Static) Snapshot(_ context.Context, asset string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[asset]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrNoData, asset)
	}
	return snap, nil
}

// Funding returns the installed funding view. If only a snapshot was
// installed, the funding fields are projected from it.
func (s *Static) Funding(_ context.Context, asset string) (domain.FundingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.funding[asset]; ok {
		return info, nil
	}
	if snap, ok := s.snaps[asset]; ok {
		return domain.FundingInfo{
			Asset:         snap.Asset,
			Rate:          snap.FundingRate,
			PredictedRate: snap.PredictedFundingRate,
			OpenInterest:  snap.OpenInterest,
			TimestampMs:   snap.TimestampMs,
		}, nil
	}
	return domain.FundingInfo{}, fmt.Errorf("%w: %s", ErrNoData, asset)
}

var (
	_ Provider        = (*Static)(nil)
	_ FundingProvider = (*Static)(nil)
)
