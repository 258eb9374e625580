package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Upsert inserts the position or replaces the row for its
// (strategy_id, asset) key.
func (s *PositionStore) Upsert(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO positions (
			position_id, strategy_id, asset,
			amount, entry_price, current_price,
			opened_at_ms, updated_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (strategy_id, asset) DO UPDATE
		SET position_id   = EXCLUDED.position_id,
		    amount        = EXCLUDED.amount,
		    entry_price   = EXCLUDED.entry_price,
		    current_price = EXCLUDED.current_price,
		    opened_at_ms  = EXCLUDED.opened_at_ms,
		    updated_at_ms = EXCLUDED.updated_at_ms
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.StrategyID, p.Asset,
		p.Amount.String(), p.EntryPrice.String(), p.CurrentPrice.String(),
		p.OpenedAtMs, p.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Delete removes the position row. Returns ErrNotFound if nothing was
// stored for the key.
func (s *PositionStore) Delete(ctx context.Context, strategyID, asset string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE strategy_id = $1 AND asset = $2`,
		strategyID, asset,
	)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetOpen retrieves all open positions for a strategy, ordered by asset.
func (s *PositionStore) GetOpen(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	query := `
		SELECT
			position_id, strategy_id, asset,
			amount::text, entry_price::text, current_price::text,
			opened_at_ms, updated_at_ms
		FROM positions
		WHERE strategy_id = $1
		ORDER BY asset ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetAll retrieves every stored position.
func (s *PositionStore) GetAll(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT
			position_id, strategy_id, asset,
			amount::text, entry_price::text, current_price::text,
			opened_at_ms, updated_at_ms
		FROM positions
		ORDER BY strategy_id ASC, asset ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var p domain.Position
		var amountStr, entryStr, currentStr string

		err := rows.Scan(
			&p.ID, &p.StrategyID, &p.Asset,
			&amountStr, &entryStr, &currentStr,
			&p.OpenedAtMs, &p.UpdatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		if err := hydratePosition(&p, amountStr, entryStr, currentStr); err != nil {
			return nil, err
		}
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}

// hydratePosition parses the NUMERIC columns back into domain values.
func hydratePosition(p *domain.Position, amountStr, entryStr, currentStr string) error {
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return fmt.Errorf("parse position amount %q: %w", amountStr, err)
	}
	p.Amount = amount

	entry, err := decimal.NewFromString(entryStr)
	if err != nil {
		return fmt.Errorf("parse entry price %q: %w", entryStr, err)
	}
	if p.EntryPrice, err = domain.NewPrice(entry); err != nil {
		return fmt.Errorf("stored entry price: %w", err)
	}

	current, err := decimal.NewFromString(currentStr)
	if err != nil {
		return fmt.Errorf("parse current price %q: %w", currentStr, err)
	}
	if p.CurrentPrice, err = domain.NewPrice(current); err != nil {
		return fmt.Errorf("stored current price: %w", err)
	}

	return nil
}
