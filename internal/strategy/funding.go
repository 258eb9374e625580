package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
)

// FlipMargin is the hysteresis multiplier on the entry threshold: a
// standing position only rotates to the other side once the opposite
// rate clears FlipMargin x MinFundingThreshold. Without the band the
// strategy would churn whenever the rate oscillates around the entry
// threshold.
const FlipMargin = 1.5

// FundingConfig parameterizes a funding-rate carry strategy.
type FundingConfig struct {
	ID    string
	Asset string

	// Name labels the instance in status output. Empty means the ID.
	Name string

	// ChainID and ContractAddress identify the hedge deployment, when
	// the perp venue settles on-chain. Zero for off-chain venues.
	ChainID         uint64
	ContractAddress common.Address

	// MinFundingThreshold is the per-period rate magnitude required to
	// hold a position (0.0001 = 1bp per period).
	MinFundingThreshold float64

	// PositionSizeUSD is the quote-currency margin committed per entry.
	PositionSizeUSD float64

	// Leverage scales notional over margin. Zero means 1x.
	Leverage float64

	Enabled bool
}

// FundingRateStrategy holds a perp position on the side that collects
// funding: short while the rate is positive, long while it is negative.
// It enters when the rate magnitude clears the configured threshold,
// holds while the sign stays favorable, closes to flat on a weak
// reversal, and flips sides only once the reversed rate clears the
// hysteresis band.
type FundingRateStrategy struct {
	cfg     FundingConfig
	deps    Deps
	log     *zap.Logger
	enabled atomic.Bool
}

// NewFundingRate builds the strategy. Config validation is the
// factory's job; deps are defaulted here.
func NewFundingRate(cfg FundingConfig, deps Deps) *FundingRateStrategy {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	deps = deps.withDefaults()
	s := &FundingRateStrategy{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With(zap.String("strategy_id", cfg.ID), zap.String("asset", cfg.Asset)),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

func (s *FundingRateStrategy) ID() string                      { return s.cfg.ID }
func (s *FundingRateStrategy) Name() string                    { return s.cfg.Name }
func (s *FundingRateStrategy) Asset() string                   { return s.cfg.Asset }
func (s *FundingRateStrategy) ChainID() uint64                 { return s.cfg.ChainID }
func (s *FundingRateStrategy) ContractAddress() common.Address { return s.cfg.ContractAddress }
func (s *FundingRateStrategy) Enabled() bool                   { return s.enabled.Load() }
func (s *FundingRateStrategy) SetEnabled(enabled bool)         { s.enabled.Store(enabled) }

// Execute runs one tick of the carry state machine. A disabled
// strategy answers immediately, touching nothing beyond its flag; any
// standing position stays as-is until an operator exits it.
func (s *FundingRateStrategy) Execute(ctx context.Context) (*domain.ExecutionResult, error) {
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

	rate := snap.FundingRate
	flipAt := FlipMargin * s.cfg.MinFundingThreshold

	var res *domain.ExecutionResult
	switch {
	case pos == nil:
		if target := s.entrySide(rate); target == domain.PositionNone {
			res = hold(fmt.Sprintf("funding rate %.4f%% below threshold %.4f%%",
				rate*100, s.cfg.MinFundingThreshold*100))
		} else {
			res = s.open(ctx, rate, mark, target)
		}
	case favorable(pos.Side(), rate):
		res = hold(fmt.Sprintf("funding rate %.4f%% still favorable for %s", rate*100, pos.Side()))
	case math.Abs(rate) < flipAt:
		res = s.close(ctx, pos, mark, domain.ActionClosePosition,
			fmt.Sprintf("funding rate %.4f%% turned against %s but below flip threshold %.4f%%, closing to flat",
				rate*100, pos.Side(), flipAt*100))
	default:
		res = s.flip(ctx, pos, rate, mark, opposite(pos.Side()))
	}

	res.FundingRate = floatPtr(rate)
	res.NetAPY = floatPtr(domain.AnnualizeFundingRate(rate))
	return res, nil
}

// EmergencyExit closes any open position at the venue's own mark. It
// runs regardless of the enabled flag and the circuit breaker never
// blocks it.
func (s *FundingRateStrategy) EmergencyExit(ctx context.Context) (*domain.ExecutionResult, error) {
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

	s.log.Warn("emergency exit executed", zap.String("side", string(pos.Side())))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   domain.ActionEmergencyExit,
		Reason:   "emergency exit requested, closing " + string(pos.Side()),
		Trades:   []*domain.Trade{&fill.Trade},
	}, nil
}

// Metrics reports the live carry view. A market data failure degrades
// the rate fields to zero rather than failing the status call.
func (s *FundingRateStrategy) Metrics(ctx context.Context) (Metrics, error) {
	m := Metrics{
		StrategyID:   s.cfg.ID,
		Asset:        s.cfg.Asset,
		Side:         domain.PositionNone,
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
		m.EstimatedAPY = domain.AnnualizeFundingRate(snap.FundingRate)
	}
	return m, nil
}

// entrySide maps a funding rate to the side worth opening from flat.
// Shorts collect positive funding, longs collect negative funding; rates
// below the threshold are not worth taking exposure for.
func (s *FundingRateStrategy) entrySide(rate float64) domain.PositionSide {
	if math.Abs(rate) < s.cfg.MinFundingThreshold {
		return domain.PositionNone
	}
	if rate > 0 {
		return domain.PositionShort
	}
	return domain.PositionLong
}

// favorable reports whether the held side still collects the current
// rate. A short collects while the rate stays non-negative, a long
// while it stays non-positive; a decayed-but-favorable rate is held,
// not closed, so the position keeps collecting until the sign turns.
func favorable(side domain.PositionSide, rate float64) bool {
	if side == domain.PositionShort {
		return rate >= 0
	}
	return rate <= 0
}

func opposite(side domain.PositionSide) domain.PositionSide {
	if side == domain.PositionShort {
		return domain.PositionLong
	}
	return domain.PositionShort
}

func (s *FundingRateStrategy) open(ctx context.Context, rate float64, mark domain.Price, side domain.PositionSide) *domain.ExecutionResult {
	action, orderSide := domain.ActionOpenShort, domain.SideSell
	if side == domain.PositionLong {
		action, orderSide = domain.ActionOpenLong, domain.SideBuy
	}

	if !s.deps.Breaker.CanOpenNewPosition() {
		return hold(fmt.Sprintf("circuit breaker %s blocks new %s position", s.deps.Breaker.State(), side))
	}

	amount, err := s.orderAmount(mark)
	if err != nil {
		return &domain.ExecutionResult{Action: action, Reason: "sizing: " + err.Error()}
	}

	fill, err := s.deps.place(ctx, executor.Order{
		StrategyID: s.cfg.ID,
		Asset:      s.cfg.Asset,
		Side:       orderSide,
		Amount:     amount,
		Price:      mark,
	})
	if err != nil {
		s.log.Warn("open failed", zap.String("side", string(side)), zap.Error(err))
		return &domain.ExecutionResult{Action: action, Reason: fmt.Sprintf("open %s failed: %v", side, err)}
	}

	s.log.Info("position opened",
		zap.String("side", string(side)),
		zap.Float64("funding_rate", rate),
		zap.String("amount", amount.String()))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   action,
		Reason:   fmt.Sprintf("funding rate %.4f%% favorable, opening %s", rate*100, side),
		Trades:   []*domain.Trade{&fill.Trade},
	}
}

func (s *FundingRateStrategy) close(ctx context.Context, pos *domain.Position, mark domain.Price, action domain.Action, reason string) *domain.ExecutionResult {
	fill, err := s.deps.closeAt(ctx, s.cfg.ID, s.cfg.Asset, mark)
	if err != nil {
		s.log.Warn("close failed", zap.Error(err))
		return &domain.ExecutionResult{Action: action, Reason: fmt.Sprintf("close %s failed: %v", pos.Side(), err)}
	}

	s.log.Info("position closed", zap.String("side", string(pos.Side())), zap.String("reason", reason))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   action,
		Reason:   reason,
		Trades:   []*domain.Trade{&fill.Trade},
	}
}

// flip rotates the position to the other side in two legs. The close
// leg is never gated: by the time a flip is warranted the standing
// position is paying funding, so when the breaker blocks re-entry the
// strategy exits and stays flat.
func (s *FundingRateStrategy) flip(ctx context.Context, pos *domain.Position, rate float64, mark domain.Price, target domain.PositionSide) *domain.ExecutionResult {
	action, orderSide := domain.ActionFlipToShort, domain.SideSell
	if target == domain.PositionLong {
		action, orderSide = domain.ActionFlipToLong, domain.SideBuy
	}

	if !s.deps.Breaker.CanOpenNewPosition() {
		return s.close(ctx, pos, mark, domain.ActionClosePosition,
			fmt.Sprintf("funding rate %.4f%% flipped, circuit breaker %s blocks re-entry, closing %s",
				rate*100, s.deps.Breaker.State(), pos.Side()))
	}

	closeFill, err := s.deps.closeAt(ctx, s.cfg.ID, s.cfg.Asset, mark)
	if err != nil {
		s.log.Warn("flip close leg failed", zap.Error(err))
		return &domain.ExecutionResult{Action: action, Reason: fmt.Sprintf("flip close leg failed: %v", err)}
	}

	amount, err := s.orderAmount(mark)
	if err != nil {
		return &domain.ExecutionResult{
			Executed: true,
			Action:   action,
			Reason:   "flip open leg sizing after close: " + err.Error(),
			Trades:   []*domain.Trade{&closeFill.Trade},
		}
	}

	openFill, err := s.deps.place(ctx, executor.Order{
		StrategyID: s.cfg.ID,
		Asset:      s.cfg.Asset,
		Side:       orderSide,
		Amount:     amount,
		Price:      mark,
	})
	if err != nil {
		s.log.Warn("flip open leg failed", zap.Error(err))
		return &domain.ExecutionResult{
			Executed: true,
			Action:   action,
			Reason:   fmt.Sprintf("flip open leg failed after close: %v", err),
			Trades:   []*domain.Trade{&closeFill.Trade},
		}
	}

	s.log.Info("position flipped",
		zap.String("from", string(pos.Side())),
		zap.String("to", string(target)),
		zap.Float64("funding_rate", rate))
	return &domain.ExecutionResult{
		Executed: true,
		Action:   action,
		Reason:   fmt.Sprintf("funding rate %.4f%% flipped, rotating %s to %s", rate*100, pos.Side(), target),
		Trades:   []*domain.Trade{&closeFill.Trade, &openFill.Trade},
	}
}

// orderAmount sizes an entry: margin x leverage at the mark price.
func (s *FundingRateStrategy) orderAmount(mark domain.Price) (domain.Amount, error) {
	notional := decimal.NewFromFloat(s.cfg.PositionSizeUSD * s.cfg.Leverage)
	return domain.NewAmount(notional.Div(mark.Decimal()))
}

// position fetches the open position, mapping not-found to nil.
func (s *FundingRateStrategy) position(ctx context.Context) (*domain.Position, error) {
	pos, err := s.deps.Executor.Position(ctx, s.cfg.ID, s.cfg.Asset)
	if errors.Is(err, executor.ErrNoPosition) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position lookup for %s: %w", s.cfg.Asset, err)
	}
	return pos, nil
}

var _ Strategy = (*FundingRateStrategy)(nil)
