// Package strategy implements the trading policies the keeper runs.
// Each strategy owns one asset on one venue pair and is evaluated on a
// fixed cadence; an evaluation reads market state, decides at most one
// action, and carries it out through the executor.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/retry"
)

// Strategy is one asset-scoped trading policy.
type Strategy interface {
	// ID identifies the strategy instance, stable across restarts.
	ID() string

	// Name is a human-readable label for status endpoints and reports.
	Name() string

	// Asset is the market the strategy trades.
	Asset() string

	// ChainID and ContractAddress identify the on-chain deployment the
	// strategy manages. Zero values for venue-only strategies.
	ChainID() uint64
	ContractAddress() common.Address

	// Enabled reports whether evaluation is active. SetEnabled toggles
	// it without tearing the instance down; a disabled strategy answers
	// every tick with a not-executed "strategy disabled" result and
	// reads nothing beyond the flag.
	Enabled() bool
	SetEnabled(enabled bool)

	// Execute runs one evaluation tick. Executor failures are reported
	// inside the result (Executed=false with the cause in Reason), not
	// as a returned error; the error return is reserved for failures
	// that preclude a decision, such as unavailable market data.
	Execute(ctx context.Context) (*domain.ExecutionResult, error)

	// EmergencyExit unwinds any open exposure immediately, ignoring
	// the circuit breaker state.
	EmergencyExit(ctx context.Context) (*domain.ExecutionResult, error)

	// Metrics reports a point-in-time diagnostic view.
	Metrics(ctx context.Context) (Metrics, error)
}

// Metrics is a strategy health snapshot for status endpoints and logs.
type Metrics struct {
	StrategyID    string
	Asset         string
	Side          domain.PositionSide
	PositionSize  decimal.Decimal // signed base units, zero when flat
	UnrealizedPnL decimal.Decimal
	FundingRate   float64 // per period, as last observed
	EstimatedAPY  float64 // percent
	RangeWidth    float64 // percent, zero for strategies without a range
	BreakerState  breaker.State
}

// Deps are the collaborators a strategy trades through. Zero-value
// fields are filled with safe defaults by the constructors.
type Deps struct {
	Executor executor.Executor
	Market   marketdata.Provider
	Breaker  *breaker.CircuitBreaker
	Retry    *retry.Policy
	Logger   *zap.Logger
	Clock    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Breaker == nil {
		d.Breaker = breaker.New(breaker.Config{})
	}
	if d.Retry == nil {
		d.Retry = retry.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Every strategy side effect goes through the four helpers below: the
// call runs under the retry policy, and the final outcome is recorded
// in the circuit breaker.

func (d Deps) place(ctx context.Context, ord executor.Order) (executor.Fill, error) {
	fill, err := retry.Value(ctx, d.Retry, func(ctx context.Context) (executor.Fill, error) {
		return d.Executor.PlaceOrder(ctx, ord)
	})
	return d.record(fill, err)
}

func (d Deps) emergencyClose(ctx context.Context, strategyID, asset string) (executor.Fill, error) {
	fill, err := retry.Value(ctx, d.Retry, func(ctx context.Context) (executor.Fill, error) {
		return d.Executor.EmergencyExit(ctx, strategyID, asset)
	})
	return d.record(fill, err)
}

func (d Deps) closeAt(ctx context.Context, strategyID, asset string, mark domain.Price) (executor.Fill, error) {
	fill, err := retry.Value(ctx, d.Retry, func(ctx context.Context) (executor.Fill, error) {
		return d.Executor.ClosePosition(ctx, strategyID, asset, mark)
	})
	return d.record(fill, err)
}

func (d Deps) rebalance(ctx context.Context, strategyID, asset string, mark domain.Price, widthPct float64) (common.Hash, error) {
	hash, err := retry.Value(ctx, d.Retry, func(ctx context.Context) (common.Hash, error) {
		return d.Executor.Rebalance(ctx, strategyID, asset, mark, widthPct)
	})
	if err != nil {
		d.Breaker.RecordError(errType(err))
		return common.Hash{}, err
	}
	d.Breaker.RecordSuccess()
	return hash, nil
}

func (d Deps) harvest(ctx context.Context, strategyID, asset string) (domain.Amount, common.Hash, error) {
	type harvested struct {
		amount domain.Amount
		tx     common.Hash
	}
	h, err := retry.Value(ctx, d.Retry, func(ctx context.Context) (harvested, error) {
		amount, tx, err := d.Executor.Harvest(ctx, strategyID, asset)
		return harvested{amount: amount, tx: tx}, err
	})
	if err != nil {
		d.Breaker.RecordError(errType(err))
		return domain.Amount{}, common.Hash{}, err
	}
	d.Breaker.RecordSuccess()
	return h.amount, h.tx, nil
}

func (d Deps) record(fill executor.Fill, err error) (executor.Fill, error) {
	if err != nil {
		d.Breaker.RecordError(errType(err))
		return executor.Fill{}, err
	}
	d.Breaker.RecordSuccess()
	return fill, nil
}

// errType buckets executor failures for the breaker's breakdown view.
func errType(err error) string {
	var transient *executor.TransientError
	switch {
	case errors.Is(err, executor.ErrOrderRejected):
		return "order_rejected"
	case errors.Is(err, executor.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, executor.ErrNoPosition):
		return "no_position"
	case errors.As(err, &transient):
		return "transient"
	default:
		return "execution"
	}
}

// hold builds a non-executed result. The reason string is what lands
// in the decision journal.
func hold(reason string) *domain.ExecutionResult {
	return &domain.ExecutionResult{Action: domain.ActionHold, Reason: reason}
}

func floatPtr(f float64) *float64 { return &f }
