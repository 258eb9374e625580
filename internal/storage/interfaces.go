package storage

import (
	"context"

	"delta-keeper/internal/domain"
)

// PositionStore persists open positions so the keeper can recover live
// state after a restart. Positions mutate in place; this is the one
// store that allows updates.
type PositionStore interface {
	// Upsert inserts the position or replaces the existing row for
	// (strategy_id, asset).
	Upsert(ctx context.Context, p *domain.Position) error

	// Delete removes the position for (strategy_id, asset). Returns
	// ErrNotFound if nothing is open.
	Delete(ctx context.Context, strategyID, asset string) error

	// GetOpen retrieves all open positions for a strategy, ordered by asset ASC.
	GetOpen(ctx context.Context, strategyID string) ([]*domain.Position, error)

	// GetAll retrieves every open position, ordered by (strategy_id, asset) ASC.
	GetAll(ctx context.Context) ([]*domain.Position, error)
}

// TradeStore provides access to the executed-fill journal.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByStrategy retrieves all trades for a strategy, ordered by timestamp ASC.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.Trade, error)

	// GetByTimeRange retrieves a strategy's trades within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, strategyID string, start, end int64) ([]*domain.Trade, error)
}

// DecisionStore provides access to the decision journal: every keeper
// tick records what the strategy decided and why.
type DecisionStore interface {
	// Insert adds a new decision. Returns ErrDuplicateKey if decision_id exists.
	Insert(ctx context.Context, d *domain.DecisionRecord) error

	// InsertBulk adds multiple decisions atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, decisions []*domain.DecisionRecord) error

	// GetByStrategy retrieves all decisions for a strategy, ordered by timestamp ASC.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.DecisionRecord, error)

	// GetByTimeRange retrieves a strategy's decisions within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, strategyID string, start, end int64) ([]*domain.DecisionRecord, error)
}

// FundingSampleStore provides access to the funding-rate time series.
type FundingSampleStore interface {
	// InsertBulk adds multiple samples. Fails entire batch on duplicate (asset, timestamp_ms).
	InsertBulk(ctx context.Context, samples []*domain.FundingSample) error

	// GetByTimeRange retrieves an asset's samples within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]*domain.FundingSample, error)

	// Latest retrieves the most recent sample for an asset. Returns ErrNotFound
	// if none exists.
	Latest(ctx context.Context, asset string) (*domain.FundingSample, error)
}

// SnapshotStore caches the latest market snapshot per asset for
// strategy reads. Implementations may expire entries.
type SnapshotStore interface {
	// Put stores the snapshot as the latest for its asset.
	Put(ctx context.Context, snap *domain.MarketSnapshot) error

	// Latest retrieves the most recent snapshot for an asset. Returns
	// ErrNotFound if none exists or the entry has expired.
	Latest(ctx context.Context, asset string) (*domain.MarketSnapshot, error)
}
