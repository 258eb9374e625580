package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, strategy_id, asset, side, amount, price, timestamp_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	_, err := s.pool.Exec(ctx, insertTradeQuery,
		t.ID, t.StrategyID, t.Asset, string(t.Side),
		t.Amount.String(), t.Price.String(), t.TimestampMs,
	)
	if err != nil {
		if uniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any
// duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx, insertTradeQuery,
			t.ID, t.StrategyID, t.Asset, string(t.Side),
			t.Amount.String(), t.Price.String(), t.TimestampMs,
		)
		if err != nil {
			if uniqueViolation(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByStrategy retrieves all trades for a strategy, oldest first.
func (s *TradeStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, strategy_id, asset, side, amount::text, price::text, timestamp_ms
		FROM trades
		WHERE strategy_id = $1
		ORDER BY timestamp_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get trades by strategy: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByTimeRange retrieves trades for a strategy within [start, end]
// (inclusive).
func (s *TradeStore) GetByTimeRange(ctx context.Context, strategyID string, start, end int64) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, strategy_id, asset, side, amount::text, price::text, timestamp_ms
		FROM trades
		WHERE strategy_id = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trades by time range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var side, amountStr, priceStr string

		err := rows.Scan(
			&t.ID, &t.StrategyID, &t.Asset, &side,
			&amountStr, &priceStr, &t.TimestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = domain.Side(side)

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse trade amount %q: %w", amountStr, err)
		}
		if t.Amount, err = domain.NewAmount(amount); err != nil {
			return nil, fmt.Errorf("stored trade amount: %w", err)
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse trade price %q: %w", priceStr, err)
		}
		if t.Price, err = domain.NewPrice(price); err != nil {
			return nil, fmt.Errorf("stored trade price: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
