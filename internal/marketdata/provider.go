// Package marketdata supplies strategies with point-in-time market
// state: prices, volatility, pool yields and funding rates. Providers
// hide where the data comes from; the keeper only sees snapshots.
package marketdata

import (
	"context"
	"errors"

	"delta-keeper/internal/domain"
)

// Provider errors.
var (
	// ErrNoData is returned when no snapshot exists for the asset.
	ErrNoData = errors.New("no market data for asset")

	// ErrStale is returned when the latest snapshot is older than the
	// provider's staleness cutoff. Strategies treat stale data as
	// missing rather than trading on it.
	ErrStale = errors.New("market snapshot is stale")
)

// Provider supplies the latest market snapshot for an asset.
type Provider interface {
	Snapshot(ctx context.Context, asset string) (domain.MarketSnapshot, error)
}

// FundingProvider supplies the latest funding view for an asset.
type FundingProvider interface {
	Funding(ctx context.Context, asset string) (domain.FundingInfo, error)
}
