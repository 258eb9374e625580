package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Portfolio errors.
var (
	ErrInsufficientCash = errors.New("insufficient cash for allocation")
	ErrPositionExists   = errors.New("position already exists for asset")
	ErrPositionMissing  = errors.New("no position for asset")
)

// Portfolio aggregates capital and open positions for one strategy.
// Not safe for concurrent use; callers serialize access.
type Portfolio struct {
	StrategyID     string
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	positions      map[string]*Position // keyed by asset
}

// NewPortfolio creates a portfolio funded with the given initial capital.
func NewPortfolio(strategyID string, initialCapital Amount) *Portfolio {
	return &Portfolio{
		StrategyID:     strategyID,
		InitialCapital: initialCapital.Decimal(),
		Cash:           initialCapital.Decimal(),
		positions:      make(map[string]*Position),
	}
}

// Open allocates cash against a new position's notional and records it.
func (pf *Portfolio) Open(pos *Position) error {
	if _, ok := pf.positions[pos.Asset]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Asset)
	}
	notional := pos.Notional()
	if pf.Cash.LessThan(notional) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, notional, pf.Cash)
	}
	pf.Cash = pf.Cash.Sub(notional)
	pf.positions[pos.Asset] = pos
	return nil
}

// Close releases a position, returning its notional plus unrealized PnL
// to cash, and removes it from the portfolio.
func (pf *Portfolio) Close(asset string) (*Position, error) {
	pos, ok := pf.positions[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionMissing, asset)
	}
	entryNotional := pos.Amount.Abs().Mul(pos.EntryPrice.Decimal())
	pf.Cash = pf.Cash.Add(entryNotional).Add(pos.UnrealizedPnL())
	delete(pf.positions, asset)
	return pos, nil
}

// Credit adds cash to the portfolio, e.g. harvested fees.
func (pf *Portfolio) Credit(a Amount) {
	pf.Cash = pf.Cash.Add(a.Decimal())
}

// Debit withdraws cash, e.g. trading fees or rebalance gas.
func (pf *Portfolio) Debit(a Amount) error {
	if pf.Cash.LessThan(a.Decimal()) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, a.Decimal(), pf.Cash)
	}
	pf.Cash = pf.Cash.Sub(a.Decimal())
	return nil
}

// Position returns the open position for an asset, or nil.
func (pf *Portfolio) Position(asset string) *Position {
	return pf.positions[asset]
}

// Positions returns all open positions.
func (pf *Portfolio) Positions() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, p)
	}
	return out
}

// MarkPrice re-marks the position for an asset to the given price.
func (pf *Portfolio) MarkPrice(asset string, price Price, nowMs int64) {
	if pos, ok := pf.positions[asset]; ok {
		pf.positions[asset] = pos.WithPrice(price, nowMs)
	}
}

// Equity is cash plus the entry notional and unrealized PnL of all open
// positions.
func (pf *Portfolio) Equity() decimal.Decimal {
	eq := pf.Cash
	for _, pos := range pf.positions {
		entryNotional := pos.Amount.Abs().Mul(pos.EntryPrice.Decimal())
		eq = eq.Add(entryNotional).Add(pos.UnrealizedPnL())
	}
	return eq
}
