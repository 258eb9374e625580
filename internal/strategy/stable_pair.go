package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
	"delta-keeper/internal/optimizer"
)

// DefaultHarvestInterval is the fee-collection cadence when the config
// leaves it unset.
const DefaultHarvestInterval = 24 * time.Hour

// StablePairConfig parameterizes a concentrated-liquidity range on a
// stable or correlated pair.
type StablePairConfig struct {
	ID    string
	Asset string

	// Name labels the instance in status output. Empty means the ID.
	Name string

	// ChainID and ContractAddress identify the pool deployment the
	// range position lives in.
	ChainID         uint64
	ContractAddress common.Address

	// NotionalUSD is the liquidity committed to the range.
	NotionalUSD float64

	// MinNetAPY is the projected net yield (percent) below which no new
	// range is opened. Zero accepts any positive projection.
	MinNetAPY float64

	// MinHealthFactor triggers an emergency exit when the money-market
	// loan backing the hedge reports health below it. Zero disables
	// the check.
	MinHealthFactor float64

	// HarvestInterval is the fee-collection cadence. Zero means
	// DefaultHarvestInterval.
	HarvestInterval time.Duration

	// Bounds overrides the optimizer search space. The zero value
	// derives bounds from observed volatility.
	Bounds optimizer.Bounds

	// Cost overrides the per-rebalance cost model. The zero value uses
	// the defaults.
	Cost optimizer.CostModel

	Enabled bool
}

// StablePairStrategy keeps a concentrated-liquidity position centered
// on the market price at the width the optimizer projects as most
// profitable. It recenters when price drifts near the range edge,
// harvests accrued fees on an interval, and exits outright when the
// hedge loan's health factor degrades.
//
// Range state (center, width, last harvest) is held in memory and
// re-derived from the live position after a restart.
type StablePairStrategy struct {
	cfg     StablePairConfig
	deps    Deps
	log     *zap.Logger
	enabled atomic.Bool

	mu          sync.Mutex
	center      float64 // price the live range is centered on
	width       float64 // live range width, percent
	lastHarvest time.Time
}

// NewStablePair builds the strategy. Config validation is the
// factory's job; deps and optional config are defaulted here.
func NewStablePair(cfg StablePairConfig, deps Deps) *StablePairStrategy {
	if cfg.HarvestInterval <= 0 {
		cfg.HarvestInterval = DefaultHarvestInterval
	}
	if cfg.Cost == (optimizer.CostModel{}) {
		cfg.Cost = optimizer.DefaultCostModel()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	deps = deps.withDefaults()
	s := &StablePairStrategy{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With(zap.String("strategy_id", cfg.ID), zap.String("asset", cfg.Asset)),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

func (s *StablePairStrategy) ID() string                      { return s.cfg.ID }
func (s *StablePairStrategy) Name() string                    { return s.cfg.Name }
func (s *StablePairStrategy) Asset() string                   { return s.cfg.Asset }
func (s *StablePairStrategy) ChainID() uint64                 { return s.cfg.ChainID }
func (s *StablePairStrategy) ContractAddress() common.Address { return s.cfg.ContractAddress }
func (s *StablePairStrategy) Enabled() bool                   { return s.enabled.Load() }
func (s *StablePairStrategy) SetEnabled(enabled bool)         { s.enabled.Store(enabled) }

// Execute runs one tick: health check first, then range maintenance,
// then harvesting, in strict priority order. A disabled strategy
// answers immediately, touching nothing beyond its flag.
func (s *StablePairStrategy) Execute(ctx context.Context) (*domain.ExecutionResult, error) {
	if !s.enabled.Load() {
		return hold("strategy disabled"), nil
	}

	pos, err := s.position(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := s.deps.Market.Snapshot(ctx, s.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("market snapshot for %s: %w", s.cfg.Asset, err)
	}
	mark, err := domain.PriceFromFloat(snap.Price)
	if err != nil {
		return nil, fmt.Errorf("snapshot price for %s: %w", s.cfg.Asset, err)
	}

	if pos == nil {
		res := s.openRange(ctx, snap, mark)
		res.FundingRate = floatPtr(snap.FundingRate)
		return res, nil
	}

	s.adoptState(snap, pos)

	var res *domain.ExecutionResult
	switch {
	case s.healthBreached(snap):
		res = s.close(ctx, mark, domain.ActionEmergencyExit,
			fmt.Sprintf("health factor %.3f below minimum %.3f, emergency exit",
				snap.HealthFactor, s.cfg.MinHealthFactor))
	case s.outOfRange(mark.Float()):
		res = s.recenter(ctx, snap, mark)
	case s.harvestDue():
		res = s.harvestFees(ctx)
	default:
		eval := optimizer.Evaluate(s.currentWidth(), s.params(snap), s.cfg.Cost)
		res = hold(fmt.Sprintf("price within range, projected net APY %.2f%%", eval.NetAPY))
		res.NetAPY = floatPtr(eval.NetAPY)
	}

	res.FundingRate = floatPtr(snap.FundingRate)
	return res, nil
}

// EmergencyExit unwinds the range at the venue's own mark. It runs
// regardless of the enabled flag and the circuit breaker never blocks
// it.
func (s *StablePairStrategy) EmergencyExit(ctx context.Context) (*domain.ExecutionResult, error) {
	pos, err := s.position(ctx)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &domain.ExecutionResult{Action: domain.ActionEmergencyExit, Reason: "no open position"}, nil
	}

	fill, err := s.deps.emergencyClose(ctx, s.cfg.ID, s.cfg.Asset)
	if err != nil {
		s.log.Warn("emergency exit failed", zap.Error(err))
		return &domain.ExecutionResult{
			Action: domain.ActionEmergencyExit,
			Reason: fmt.Sprintf("emergency exit failed: %v", err),
		}, nil
	}

	s.mu.Lock()
	s.center, s.width, s.lastHarvest = 0, 0, time.Time{}
	s.mu.Unlock()

	s.log.Warn("emergency exit executed, range unwound")
	return &domain.ExecutionResult{
		Executed: true,
		Action:   domain.ActionEmergencyExit,
		Reason:   "emergency exit requested, unwinding range",
		Trades:   []*domain.Trade{&fill.Trade},
	}, nil
}

// Metrics reports the live range view. A market data failure degrades
// the rate and APY fields to zero rather than failing the status call.
func (s *StablePairStrategy) Metrics(ctx context.Context) (Metrics, error) {
	m := Metrics{
		StrategyID:   s.cfg.ID,
		Asset:        s.cfg.Asset,
		Side:         domain.PositionNone,
		RangeWidth:   s.currentWidth(),
		BreakerState: s.deps.Breaker.State(),
	}

	pos, err := s.position(ctx)
	if err != nil {
		return Metrics{}, err
	}
	if pos != nil {
		m.Side = pos.Side()
		m.PositionSize = pos.Amount
		m.UnrealizedPnL = pos.UnrealizedPnL()
	}

	if snap, err := s.deps.Market.Snapshot(ctx, s.cfg.Asset); err == nil {
		m.FundingRate = snap.FundingRate
		if w := s.currentWidth(); w > 0 {
			m.EstimatedAPY = optimizer.Evaluate(w, s.params(snap), s.cfg.Cost).NetAPY
		} else {
			m.EstimatedAPY = optimizer.Optimize(s.params(snap), s.cfg.Cost, s.cfg.Bounds).NetAPY
		}
	}
	return m, nil
}

// openRange deploys liquidity at the optimizer's width. Two legs: the
// deposit fill, then the width registration. A failed registration
// leaves the deposit live and is noted in the reason.
func (s *StablePairStrategy) openRange(ctx context.Context, snap domain.MarketSnapshot, mark domain.Price) *domain.ExecutionResult {
	if !s.deps.Breaker.CanOpenNewPosition() {
		return hold(fmt.Sprintf("circuit breaker %s blocks new position", s.deps.Breaker.State()))
	}

	best := optimizer.Optimize(s.params(snap), s.cfg.Cost, s.cfg.Bounds)
	if best.NetAPY < s.cfg.MinNetAPY || best.NetAPY <= 0 {
		res := hold(fmt.Sprintf("net APY %.2f%% below minimum %.2f%%, not deploying", best.NetAPY, s.cfg.MinNetAPY))
		res.NetAPY = floatPtr(best.NetAPY)
		return res
	}

	amount, err := domain.NewAmount(decimal.NewFromFloat(s.cfg.NotionalUSD).Div(mark.Decimal()))
	if err != nil {
		return &domain.ExecutionResult{Action: domain.ActionOpenPosition, Reason: "sizing: " + err.Error()}
	}

	fill, err := s.deps.place(ctx, executor.Order{
		StrategyID: s.cfg.ID,
		Asset:      s.cfg.Asset,
		Side:       domain.SideBuy,
		Amount:     amount,
		Price:      mark,
	})
	if err != nil {
		s.log.Warn("range deposit failed", zap.Error(err))
		return &domain.ExecutionResult{Action: domain.ActionOpenPosition, Reason: fmt.Sprintf("open failed: %v", err)}
	}

	reason := fmt.Sprintf("opened %.2f%% range at %s, projected net APY %.2f%%", best.Width, mark, best.NetAPY)
	if _, err := s.deps.rebalance(ctx, s.cfg.ID, s.cfg.Asset, mark, best.Width); err != nil {
		s.log.Warn("width registration failed", zap.Error(err))
		reason = fmt.Sprintf("range deposit filled, width registration failed: %v", err)
	}

	s.setRange(mark.Float(), best.Width)
	s.log.Info("range opened",
		zap.Float64("width_pct", best.Width),
		zap.Float64("net_apy", best.NetAPY),
		zap.String("amount", amount.String()))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   domain.ActionOpenPosition,
		Reason:   reason,
		Trades:   []*domain.Trade{&fill.Trade},
		NetAPY:   floatPtr(best.NetAPY),
	}
}

// recenter re-optimizes the width for current conditions and moves the
// range onto the present price.
func (s *StablePairStrategy) recenter(ctx context.Context, snap domain.MarketSnapshot, mark domain.Price) *domain.ExecutionResult {
	res := &domain.ExecutionResult{ShouldRebalance: true}

	if !s.deps.Breaker.CanOpenNewPosition() {
		res.Action = domain.ActionHold
		res.Reason = fmt.Sprintf("price left range, circuit breaker %s defers rebalance", s.deps.Breaker.State())
		return res
	}

	best := optimizer.Optimize(s.params(snap), s.cfg.Cost, s.cfg.Bounds)
	if _, err := s.deps.rebalance(ctx, s.cfg.ID, s.cfg.Asset, mark, best.Width); err != nil {
		s.log.Warn("rebalance failed", zap.Error(err))
		res.Action = domain.ActionRebalance
		res.Reason = fmt.Sprintf("rebalance failed: %v", err)
		return res
	}

	s.setRange(mark.Float(), best.Width)
	s.log.Info("range recentered",
		zap.String("center", mark.String()),
		zap.Float64("width_pct", best.Width))
	res.Executed = true
	res.Action = domain.ActionRebalance
	res.Reason = fmt.Sprintf("recentered at %s, width %.2f%%, projected net APY %.2f%%", mark, best.Width, best.NetAPY)
	res.NetAPY = floatPtr(best.NetAPY)
	return res
}

// harvestFees collects accrued trading fees back into the portfolio.
func (s *StablePairStrategy) harvestFees(ctx context.Context) *domain.ExecutionResult {
	if !s.deps.Breaker.CanOpenNewPosition() {
		return hold(fmt.Sprintf("harvest due, circuit breaker %s defers it", s.deps.Breaker.State()))
	}

	amount, _, err := s.deps.harvest(ctx, s.cfg.ID, s.cfg.Asset)
	if err != nil {
		s.log.Warn("harvest failed", zap.Error(err))
		return &domain.ExecutionResult{Action: domain.ActionHarvest, Reason: fmt.Sprintf("harvest failed: %v", err)}
	}

	s.mu.Lock()
	s.lastHarvest = s.deps.Clock()
	s.mu.Unlock()

	if amount.IsZero() {
		return &domain.ExecutionResult{Action: domain.ActionHarvest, Reason: "no fees accrued since last harvest"}
	}
	s.log.Info("fees harvested", zap.String("amount", amount.String()))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   domain.ActionHarvest,
		Reason:   fmt.Sprintf("harvested %s in fees", amount),
	}
}

func (s *StablePairStrategy) close(ctx context.Context, mark domain.Price, action domain.Action, reason string) *domain.ExecutionResult {
	fill, err := s.deps.closeAt(ctx, s.cfg.ID, s.cfg.Asset, mark)
	if err != nil {
		s.log.Warn("close failed", zap.Error(err))
		return &domain.ExecutionResult{Action: action, Reason: fmt.Sprintf("close failed: %v", err)}
	}

	s.mu.Lock()
	s.center, s.width, s.lastHarvest = 0, 0, time.Time{}
	s.mu.Unlock()

	s.log.Info("range closed", zap.String("reason", reason))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   action,
		Reason:   reason,
		Trades:   []*domain.Trade{&fill.Trade},
	}
}

// healthBreached reports whether the hedge loan's health factor has
// fallen below the configured floor. A zero health factor means the
// venue did not report one and is not treated as a breach.
func (s *StablePairStrategy) healthBreached(snap domain.MarketSnapshot) bool {
	return s.cfg.MinHealthFactor > 0 && snap.HealthFactor > 0 && snap.HealthFactor < s.cfg.MinHealthFactor
}

// outOfRange reports whether price has drifted past the rebalance
// trigger, which sits at RebalanceThreshold of the half-width.
func (s *StablePairStrategy) outOfRange(price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.center <= 0 || s.width <= 0 {
		return false
	}
	driftPct := math.Abs(price/s.center-1) * 100
	return driftPct >= s.width*optimizer.RebalanceThreshold/2
}

func (s *StablePairStrategy) harvestDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHarvest.IsZero() {
		return false
	}
	return s.deps.Clock().Sub(s.lastHarvest) >= s.cfg.HarvestInterval
}

// adoptState rebuilds range state after a restart: with a live position
// but no recorded center, the entry price becomes the center and the
// width is re-derived from current conditions. No transaction is sent.
func (s *StablePairStrategy) adoptState(snap domain.MarketSnapshot, pos *domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.center > 0 && s.width > 0 {
		return
	}
	s.center = pos.EntryPrice.Float()
	s.width = optimizer.Optimize(s.params(snap), s.cfg.Cost, s.cfg.Bounds).Width
	if s.lastHarvest.IsZero() {
		s.lastHarvest = s.deps.Clock()
	}
	s.log.Info("range state adopted from live position",
		zap.Float64("center", s.center),
		zap.Float64("width_pct", s.width))
}

func (s *StablePairStrategy) setRange(center, width float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.center = center
	s.width = width
	s.lastHarvest = s.deps.Clock()
}

func (s *StablePairStrategy) currentWidth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width
}

// params assembles optimizer inputs from a snapshot. The funding APY
// enters signed: the hedge leg is short, so positive rates add carry.
func (s *StablePairStrategy) params(snap domain.MarketSnapshot) optimizer.Params {
	return optimizer.Params{
		Volatility:   snap.Volatility,
		Drift:        snap.Drift,
		Notional:     s.cfg.NotionalUSD,
		BaseFeeAPR:   snap.BaseFeeAPR,
		GasPriceGwei: snap.GasPriceGwei,
		RefPrice:     snap.RefPrice,
		PoolFeeTier:  snap.PoolFeeTier,
		IncentiveAPR: snap.IncentiveAPR,
		FundingAPR:   domain.AnnualizeFundingRate(snap.FundingRate),
	}
}

func (s *StablePairStrategy) position(ctx context.Context) (*domain.Position, error) {
	pos, err := s.deps.Executor.Position(ctx, s.cfg.ID, s.cfg.Asset)
	if errors.Is(err, executor.ErrNoPosition) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position lookup for %s: %w", s.cfg.Asset, err)
	}
	return pos, nil
}

var _ Strategy = (*StablePairStrategy)(nil)
