package domain

import "github.com/shopspring/decimal"

// Side labels the direction of a fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is one executed fill.
type Trade struct {
	ID          string
	StrategyID  string
	Asset       string
	Side        Side
	Amount      Amount
	Price       Price
	TimestampMs int64
}

// Value is the notional of the fill: amount x price.
func (t *Trade) Value() decimal.Decimal {
	return t.Amount.MulPrice(t.Price)
}
