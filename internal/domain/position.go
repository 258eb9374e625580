package domain

import "github.com/shopspring/decimal"

// PositionSide labels the direction of an exposure.
type PositionSide string

const (
	PositionNone  PositionSide = "NONE"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is a strategy-held exposure. Treated as immutable: price
// updates go through WithPrice, which returns a new copy.
type Position struct {
	ID           string
	StrategyID   string
	Asset        string
	Amount       decimal.Decimal // signed: positive long, negative short
	EntryPrice   Price
	CurrentPrice Price
	OpenedAtMs   int64
	UpdatedAtMs  int64
}

// Side derives the direction from the sign of the amount.
func (p *Position) Side() PositionSide {
	switch p.Amount.Sign() {
	case 1:
		return PositionLong
	case -1:
		return PositionShort
	default:
		return PositionNone
	}
}

// UnrealizedPnL is amount x (current - entry). Sign conventions follow
// from the signed amount: a short profits when price falls.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice.Sub(p.EntryPrice))
}

// Notional is the absolute exposure at the current price.
func (p *Position) Notional() decimal.Decimal {
	return p.Amount.Abs().Mul(p.CurrentPrice.Decimal())
}

// WithPrice returns a copy of the position marked to the given price.
func (p *Position) WithPrice(price Price, nowMs int64) *Position {
	updated := *p
	updated.CurrentPrice = price
	updated.UpdatedAtMs = nowMs
	return &updated
}
