// Package paper implements the execution contract against in-memory
// portfolios with modeled slippage and taker fees. Fills are
// deterministic given the clock, so dry runs and simulations journal
// exactly like live trading.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
	"delta-keeper/internal/idhash"
)

// ErrNotFunded is returned for strategies without a funded portfolio.
var ErrNotFunded = errors.New("strategy not funded")

// Config tunes the fill model.
type Config struct {
	SlippageBps   float64       // price impact applied against the taker
	TakerFeeBps   float64       // fee charged on fill notional
	RebalanceCost domain.Amount // flat cost debited per range rebalance
	Clock         func() time.Time
}

// Engine simulates executions against per-strategy portfolios.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	portfolios map[string]*domain.Portfolio
	accrued    map[string]decimal.Decimal // harvestable fees, keyed strategy|asset
	widths     map[string]float64         // last rebalance width, keyed strategy|asset
	marks      map[string]domain.Price    // last seen mark per asset
	nonce      uint64
	failures   []error
}

// NewEngine creates a paper engine. Strategies must be funded through
// Fund before they can trade.
func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		cfg:        cfg,
		portfolios: make(map[string]*domain.Portfolio),
		accrued:    make(map[string]decimal.Decimal),
		widths:     make(map[string]float64),
		marks:      make(map[string]domain.Price),
	}
}

// SetMark installs the venue mark for an asset. Simulations call this
// as the synthetic price path advances; live paper trading marks from
// order flow alone.
func (e *Engine) SetMark(asset string, mark domain.Price) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[asset] = mark
	for _, pf := range e.portfolios {
		pf.MarkPrice(asset, mark, e.cfg.Clock().UnixMilli())
	}
}

// Fund creates the portfolio for a strategy with the given capital,
// replacing any existing one.
func (e *Engine) Fund(strategyID string, capital domain.Amount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.portfolios[strategyID] = domain.NewPortfolio(strategyID, capital)
}

// AccrueFees adds harvestable yield for a position. Simulations call
// this as pool fees and incentives accumulate.
func (e *Engine) AccrueFees(strategyID, asset string, amount domain.Amount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key(strategyID, asset)
	e.accrued[k] = e.accrued[k].Add(amount.Decimal())
}

// FailNext queues an error to be returned by upcoming mutating calls,
// in order. Used to exercise retry and breaker paths.
func (e *Engine) FailNext(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, errs...)
}

// PlaceOrder opens a new position at the order price adjusted for
// slippage, charging the taker fee from cash.
func (e *Engine) PlaceOrder(ctx context.Context, order executor.Order) (executor.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return executor.Fill{}, err
	}
	if err := e.popFailure(); err != nil {
		return executor.Fill{}, err
	}

	pf, ok := e.portfolios[order.StrategyID]
	if !ok {
		return executor.Fill{}, fmt.Errorf("%w: %s", ErrNotFunded, order.StrategyID)
	}
	if pf.Position(order.Asset) != nil {
		return executor.Fill{}, fmt.Errorf("%w: position already open in %s", executor.ErrOrderRejected, order.Asset)
	}

	fill := e.fillPrice(order.Price, order.Side)
	e.marks[order.Asset] = order.Price
	notional := order.Amount.MulPrice(fill)
	fee := notional.Mul(e.feeRate())
	if pf.Cash.LessThan(notional.Add(fee)) {
		return executor.Fill{}, fmt.Errorf("%w: need %s, have %s", executor.ErrInsufficientMargin, notional.Add(fee), pf.Cash)
	}

	now := e.cfg.Clock()
	nowMs := now.UnixMilli()
	e.nonce++

	signed := order.Amount.Decimal()
	if order.Side == domain.SideSell {
		signed = signed.Neg()
	}
	tradeID := idhash.ComputeTradeID(order.StrategyID, order.Asset, string(order.Side), nowMs, e.nonce)

	pos := &domain.Position{
		ID:           tradeID,
		StrategyID:   order.StrategyID,
		Asset:        order.Asset,
		Amount:       signed,
		EntryPrice:   fill,
		CurrentPrice: fill,
		OpenedAtMs:   nowMs,
		UpdatedAtMs:  nowMs,
	}
	if err := pf.Open(pos); err != nil {
		return executor.Fill{}, fmt.Errorf("%w: %v", executor.ErrOrderRejected, err)
	}
	if err := pf.Debit(feeAmount(fee)); err != nil {
		return executor.Fill{}, err
	}

	return executor.Fill{
		Trade: domain.Trade{
			ID:          tradeID,
			StrategyID:  order.StrategyID,
			Asset:       order.Asset,
			Side:        order.Side,
			Amount:      order.Amount,
			Price:       fill,
			TimestampMs: nowMs,
		},
		TxHash: idhash.ComputeTxHash(order.StrategyID, nowMs, e.nonce),
	}, nil
}

// ClosePosition unwinds the full position at the mark adjusted for
// slippage, realizing PnL into cash.
func (e *Engine) ClosePosition(ctx context.Context, strategyID, asset string, mark domain.Price) (executor.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return executor.Fill{}, err
	}
	if err := e.popFailure(); err != nil {
		return executor.Fill{}, err
	}
	return e.closeLocked(strategyID, asset, mark)
}

// EmergencyExit unwinds at the engine's own mark, bypassing the failure
// script: the paper venue never refuses a reduce-only exit.
func (e *Engine) EmergencyExit(ctx context.Context, strategyID, asset string) (executor.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return executor.Fill{}, err
	}

	pf, ok := e.portfolios[strategyID]
	if !ok {
		return executor.Fill{}, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}
	pos := pf.Position(asset)
	if pos == nil {
		return executor.Fill{}, fmt.Errorf("%w: %s", executor.ErrNoPosition, asset)
	}

	mark, ok := e.marks[asset]
	if !ok {
		mark = pos.CurrentPrice
	}
	return e.closeLocked(strategyID, asset, mark)
}

// MarkPrice reports the last mark seen for an asset.
func (e *Engine) MarkPrice(ctx context.Context, asset string) (domain.Price, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Price{}, err
	}
	mark, ok := e.marks[asset]
	if !ok {
		return domain.Price{}, fmt.Errorf("%w: %s", executor.ErrNoMark, asset)
	}
	return mark, nil
}

// closeLocked fills the unwind at the mark adjusted for slippage. The
// caller holds the lock.
func (e *Engine) closeLocked(strategyID, asset string, mark domain.Price) (executor.Fill, error) {
	pf, ok := e.portfolios[strategyID]
	if !ok {
		return executor.Fill{}, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}
	pos := pf.Position(asset)
	if pos == nil {
		return executor.Fill{}, fmt.Errorf("%w: %s", executor.ErrNoPosition, asset)
	}

	// Closing a long sells, closing a short buys back.
	side := domain.SideSell
	if pos.Side() == domain.PositionShort {
		side = domain.SideBuy
	}
	fill := e.fillPrice(mark, side)
	e.marks[asset] = mark

	now := e.cfg.Clock()
	nowMs := now.UnixMilli()
	e.nonce++

	pf.MarkPrice(asset, fill, nowMs)
	closed, err := pf.Close(asset)
	if err != nil {
		return executor.Fill{}, err
	}
	delete(e.widths, key(strategyID, asset))

	// A close that exhausts cash forgives the fee rather than blocking
	// the unwind.
	fee := closed.Amount.Abs().Mul(fill.Decimal()).Mul(e.feeRate())
	_ = pf.Debit(feeAmount(fee))

	amt, _ := domain.NewAmount(closed.Amount.Abs())
	return executor.Fill{
		Trade: domain.Trade{
			ID:          idhash.ComputeTradeID(strategyID, asset, string(side), nowMs, e.nonce),
			StrategyID:  strategyID,
			Asset:       asset,
			Side:        side,
			Amount:      amt,
			Price:       fill,
			TimestampMs: nowMs,
		},
		TxHash: idhash.ComputeTxHash(strategyID, nowMs, e.nonce),
	}, nil
}

// Position returns a copy of the open position, or ErrNoPosition.
func (e *Engine) Position(ctx context.Context, strategyID, asset string) (*domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pf, ok := e.portfolios[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}
	pos := pf.Position(asset)
	if pos == nil {
		return nil, fmt.Errorf("%w: %s", executor.ErrNoPosition, asset)
	}
	cp := *pos
	return &cp, nil
}

// Equity is cash plus position value at the last marks.
func (e *Engine) Equity(ctx context.Context, strategyID string) (domain.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Amount{}, err
	}
	pf, ok := e.portfolios[strategyID]
	if !ok {
		return domain.Amount{}, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}
	eq, err := domain.NewAmount(pf.Equity())
	if err != nil {
		return domain.Amount{}, fmt.Errorf("equity: %w", err)
	}
	return eq, nil
}

// Rebalance recenters the range position on the mark, debiting the
// configured rebalance cost.
func (e *Engine) Rebalance(ctx context.Context, strategyID, asset string, mark domain.Price, widthPct float64) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if err := e.popFailure(); err != nil {
		return common.Hash{}, err
	}

	pf, ok := e.portfolios[strategyID]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}
	if pf.Position(asset) == nil {
		return common.Hash{}, fmt.Errorf("%w: %s", executor.ErrNoPosition, asset)
	}

	now := e.cfg.Clock()
	nowMs := now.UnixMilli()

	if !e.cfg.RebalanceCost.IsZero() {
		if err := pf.Debit(e.cfg.RebalanceCost); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %v", executor.ErrInsufficientMargin, err)
		}
	}
	pf.MarkPrice(asset, mark, nowMs)
	e.marks[asset] = mark
	e.widths[key(strategyID, asset)] = widthPct

	e.nonce++
	return idhash.ComputeTxHash(strategyID, nowMs, e.nonce), nil
}

// Harvest pays out accrued fees into cash. With nothing accrued it is a
// no-op returning a zero amount and zero hash.
func (e *Engine) Harvest(ctx context.Context, strategyID, asset string) (domain.Amount, common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Amount{}, common.Hash{}, err
	}
	if err := e.popFailure(); err != nil {
		return domain.Amount{}, common.Hash{}, err
	}

	pf, ok := e.portfolios[strategyID]
	if !ok {
		return domain.Amount{}, common.Hash{}, fmt.Errorf("%w: %s", ErrNotFunded, strategyID)
	}

	k := key(strategyID, asset)
	pending := e.accrued[k]
	if pending.IsZero() {
		return domain.Amount{}, common.Hash{}, nil
	}
	delete(e.accrued, k)

	amt, err := domain.NewAmount(pending)
	if err != nil {
		return domain.Amount{}, common.Hash{}, err
	}
	pf.Credit(amt)

	e.nonce++
	return amt, idhash.ComputeTxHash(strategyID, e.cfg.Clock().UnixMilli(), e.nonce), nil
}

// LastWidth reports the width of the most recent rebalance for a
// position, or zero.
func (e *Engine) LastWidth(strategyID, asset string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.widths[key(strategyID, asset)]
}

func (e *Engine) fillPrice(mark domain.Price, side domain.Side) domain.Price {
	slip := decimal.NewFromFloat(e.cfg.SlippageBps).Div(decimal.NewFromInt(10_000))
	adj := decimal.NewFromInt(1)
	if side == domain.SideBuy {
		adj = adj.Add(slip)
	} else {
		adj = adj.Sub(slip)
	}
	p, err := domain.NewPrice(mark.Decimal().Mul(adj))
	if err != nil {
		return mark
	}
	return p
}

func (e *Engine) feeRate() decimal.Decimal {
	return decimal.NewFromFloat(e.cfg.TakerFeeBps).Div(decimal.NewFromInt(10_000))
}

func (e *Engine) popFailure() error {
	if len(e.failures) == 0 {
		return nil
	}
	err := e.failures[0]
	e.failures = e.failures[1:]
	return err
}

func feeAmount(d decimal.Decimal) domain.Amount {
	a, _ := domain.NewAmount(d.Abs())
	return a
}

func key(strategyID, asset string) string {
	return strategyID + "|" + asset
}

// Ensure Engine implements executor.Executor
var _ executor.Executor = (*Engine)(nil)
