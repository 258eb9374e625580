// Package executor defines the order-execution contract strategies trade
// through, plus the error taxonomy callers use to classify failures.
// Implementations live in subpackages; strategies never depend on a
// concrete venue.
package executor

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"delta-keeper/internal/domain"
)

// Execution errors. Implementations wrap these so callers can classify
// failures with errors.Is regardless of venue.
var (
	// ErrNoPosition is returned by position-dependent operations when the
	// strategy holds nothing in the asset.
	ErrNoPosition = errors.New("no open position")

	// ErrOrderRejected is a terminal venue rejection; retrying the same
	// order will not help.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientMargin is returned when the account cannot support
	// the requested notional.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrNoMark is returned by MarkPrice for assets the venue has never
	// priced.
	ErrNoMark = errors.New("no mark price for asset")
)

// Order is a request to open a position.
type Order struct {
	StrategyID string
	Asset      string
	Side       domain.Side
	Amount     domain.Amount // base units, always positive; Side carries direction
	Price      domain.Price  // mark at decision time; venues fill against it
	ReduceOnly bool
}

// Fill is the confirmed result of an execution.
type Fill struct {
	Trade  domain.Trade
	TxHash common.Hash
}

// Executor places and unwinds positions for strategies. Implementations
// must be safe for concurrent use; the keeper drives multiple strategies
// against one executor.
type Executor interface {
	// PlaceOrder opens a new position in order.Asset. It fails with
	// ErrOrderRejected (wrapped) if a position is already open there.
	PlaceOrder(ctx context.Context, order Order) (Fill, error)

	// ClosePosition unwinds the full position at the given mark,
	// realizing PnL. Fails with ErrNoPosition if nothing is open.
	ClosePosition(ctx context.Context, strategyID, asset string, mark domain.Price) (Fill, error)

	// Position reports the open position, or ErrNoPosition.
	Position(ctx context.Context, strategyID, asset string) (*domain.Position, error)

	// Equity is cash plus position value at the venue's last marks.
	Equity(ctx context.Context, strategyID string) (domain.Amount, error)

	// Rebalance recenters a range position on the current mark at the
	// given width. Fails with ErrNoPosition if nothing is open.
	Rebalance(ctx context.Context, strategyID, asset string, mark domain.Price, widthPct float64) (common.Hash, error)

	// Harvest collects accrued fees and incentives into cash, returning
	// the amount collected.
	Harvest(ctx context.Context, strategyID, asset string) (domain.Amount, common.Hash, error)

	// MarkPrice reports the venue's last mark for an asset. Fails with
	// ErrNoMark when the venue has never priced the asset.
	MarkPrice(ctx context.Context, asset string) (domain.Price, error)

	// EmergencyExit unwinds the full position at the venue's own mark,
	// reduce-only. It must succeed whenever a close is possible at all;
	// implementations must not apply gating that a normal close would.
	// Fails with ErrNoPosition if nothing is open.
	EmergencyExit(ctx context.Context, strategyID, asset string) (Fill, error)
}
