package strategy

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/retry"
)

const testAsset = "ETH-PERP"

func testFundingConfig() FundingConfig {
	return FundingConfig{
		ID:                  "funding-eth",
		Asset:               testAsset,
		MinFundingThreshold: 0.0001,
		PositionSizeUSD:     10_000,
		Leverage:            1,
		Enabled:             true,
	}
}

type fundingHarness struct {
	engine  *paper.Engine
	market  *marketdata.Static
	breaker *breaker.CircuitBreaker
	deps    Deps
	strat   *FundingRateStrategy
	now     time.Time
}

// newFundingHarness wires a strategy to the paper engine with zero
// friction (no slippage, no fees) and a single-attempt retry policy so
// scripted failures surface immediately.
func newFundingHarness(t *testing.T, cfg FundingConfig) *fundingHarness {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	engine := paper.NewEngine(paper.Config{Clock: clock})
	capital, err := domain.AmountFromFloat(50_000)
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	engine.Fund(cfg.ID, capital)

	market := &marketdata.Static{}
	br := breaker.New(breaker.Config{Clock: clock})
	deps := Deps{
		Executor: engine,
		Market:   market,
		Breaker:  br,
		Retry:    retry.New(retry.WithMaxRetries(0)),
		Logger:   zap.NewNop(),
		Clock:    clock,
	}
	return &fundingHarness{
		engine:  engine,
		market:  market,
		breaker: br,
		deps:    deps,
		strat:   NewFundingRate(cfg, deps),
		now:     now,
	}
}

func (h *fundingHarness) setRate(rate float64) {
	h.market.SetSnapshot(domain.MarketSnapshot{
		Asset:       testAsset,
		TimestampMs: h.now.UnixMilli(),
		Price:       2500,
		FundingRate: rate,
	})
}

func (h *fundingHarness) position(t *testing.T) *domain.Position {
	t.Helper()
	pos, err := h.engine.Position(context.Background(), h.strat.ID(), testAsset)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	return pos
}

func (h *fundingHarness) mustBeFlat(t *testing.T) {
	t.Helper()
	_, err := h.engine.Position(context.Background(), h.strat.ID(), testAsset)
	if !errors.Is(err, executor.ErrNoPosition) {
		t.Fatalf("expected no position, got err=%v", err)
	}
}

func TestFundingRate_OpensShortOnPositiveRate(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionOpenShort {
		t.Fatalf("got executed=%v action=%s, want executed OPEN_SHORT", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "favorable") {
		t.Errorf("reason %q should mention favorable", res.Reason)
	}
	if len(res.Trades) != 1 || res.Trades[0].Side != domain.SideSell {
		t.Fatalf("expected one SELL fill, got %+v", res.Trades)
	}
	if res.FundingRate == nil || *res.FundingRate != 0.0002 {
		t.Errorf("funding rate pointer = %v, want 0.0002", res.FundingRate)
	}

	// 10000 USD at 2500 is 4 base units, short so negative.
	pos := h.position(t)
	if pos.Side() != domain.PositionShort || !pos.Amount.Equal(decimal.NewFromInt(-4)) {
		t.Errorf("position = %s %s, want SHORT -4", pos.Side(), pos.Amount)
	}
}

func TestFundingRate_OpensLongOnNegativeRate(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(-0.0002)

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionOpenLong {
		t.Fatalf("got executed=%v action=%s, want executed OPEN_LONG", res.Executed, res.Action)
	}
	if pos := h.position(t); pos.Side() != domain.PositionLong {
		t.Errorf("position side = %s, want LONG", pos.Side())
	}
}

func TestFundingRate_HoldsBelowThreshold(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.00005)

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "below threshold") {
		t.Errorf("reason %q should mention below threshold", res.Reason)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_ThresholdIsInclusive(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0001)

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionOpenShort {
		t.Fatalf("rate at exactly the threshold should open, got executed=%v action=%s", res.Executed, res.Action)
	}
}

func TestFundingRate_HoldsWhileFavorable(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)

	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "favorable") {
		t.Errorf("reason %q should mention favorable", res.Reason)
	}
	if pos := h.position(t); pos.Side() != domain.PositionShort {
		t.Errorf("position should survive the hold, got %s", pos.Side())
	}
}

func TestFundingRate_HoldsOnDecayedFavorableRate(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Decayed below the entry threshold but still positive: the short
	// keeps collecting, so the position is held, not closed.
	h.setRate(0.00005)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("decay tick: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "favorable") {
		t.Errorf("reason %q should mention favorable", res.Reason)
	}
	if pos := h.position(t); pos.Side() != domain.PositionShort {
		t.Errorf("position should survive the decayed rate, got %s", pos.Side())
	}
}

func TestFundingRate_ZeroRateStillFavorable(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.setRate(0)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("zero tick: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if pos := h.position(t); pos.Side() != domain.PositionShort {
		t.Errorf("position should survive a zero rate, got %s", pos.Side())
	}
}

func TestFundingRate_WeakReversalClosesToFlat(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Rate flipped sign against the short but stays inside the 1.5x
	// hysteresis band (0.00015): exit to flat rather than a round-trip
	// flip on a marginal signal.
	h.setRate(-0.00012)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("reversal tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionClosePosition {
		t.Fatalf("got executed=%v action=%s, want executed CLOSE_POSITION", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "flip threshold") {
		t.Errorf("reason %q should mention the flip threshold", res.Reason)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_FaintReversalStillCloses(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Even a reversal below the entry threshold means the short now
	// pays funding, so it comes off.
	h.setRate(-0.00005)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("reversal tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionClosePosition {
		t.Fatalf("got executed=%v action=%s, want executed CLOSE_POSITION", res.Executed, res.Action)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_LongWeakReversalClosesToFlat(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(-0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos := h.position(t); pos.Side() != domain.PositionLong {
		t.Fatalf("setup: expected LONG, got %s", pos.Side())
	}

	h.setRate(0.00012)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("reversal tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionClosePosition {
		t.Fatalf("got executed=%v action=%s, want executed CLOSE_POSITION", res.Executed, res.Action)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_FlipsPastHysteresis(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Exactly 1.5x the entry threshold is enough.
	h.setRate(-0.00015)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("flip tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionFlipToLong {
		t.Fatalf("got executed=%v action=%s, want executed FLIP_TO_LONG", res.Executed, res.Action)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("flip should produce close and open fills, got %d", len(res.Trades))
	}
	pos := h.position(t)
	if pos.Side() != domain.PositionLong || !pos.Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("position = %s %s, want LONG 4", pos.Side(), pos.Amount)
	}
}

func TestFundingRate_DisabledHoldsWhenFlat(t *testing.T) {
	cfg := testFundingConfig()
	cfg.Enabled = false
	h := newFundingHarness(t, cfg)
	// No market data installed: a disabled flat strategy must not need any.

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold || !strings.Contains(res.Reason, "disabled") {
		t.Fatalf("got executed=%v action=%s reason=%q, want HOLD mentioning disabled", res.Executed, res.Action, res.Reason)
	}
}

func TestFundingRate_DisableLeavesPositionUntouched(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.strat.SetEnabled(false)
	if h.strat.Enabled() {
		t.Fatal("SetEnabled(false) did not stick")
	}

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("disabled tick: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "disabled") {
		t.Errorf("reason %q should mention disabled", res.Reason)
	}
	// The standing position is an operator concern, not the tick's.
	if pos := h.position(t); pos.Side() != domain.PositionShort {
		t.Errorf("position side = %s, want SHORT untouched", pos.Side())
	}

	h.strat.SetEnabled(true)
	res, err = h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("re-enabled tick: %v", err)
	}
	if res.Action != domain.ActionHold || !strings.Contains(res.Reason, "favorable") {
		t.Errorf("re-enabled tick = %s %q, want HOLD on favorable rate", res.Action, res.Reason)
	}
}

func TestFundingRate_EmergencyExitIgnoresDisabledFlag(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.strat.SetEnabled(false)
	res, err := h.strat.EmergencyExit(context.Background())
	if err != nil {
		t.Fatalf("emergency exit: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionEmergencyExit {
		t.Fatalf("got executed=%v action=%s, want executed EMERGENCY_EXIT", res.Executed, res.Action)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_BreakerBlocksOpen(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	h.breaker.ForceState(breaker.StateOpen)

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Executed || res.Action != domain.ActionHold {
		t.Fatalf("got executed=%v action=%s, want non-executed HOLD", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "circuit breaker") {
		t.Errorf("reason %q should mention the circuit breaker", res.Reason)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_BreakerOpenStillAllowsClose(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.breaker.ForceState(breaker.StateOpen)
	h.setRate(-0.00002)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("close tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionClosePosition {
		t.Fatalf("breaker must never block a close, got executed=%v action=%s", res.Executed, res.Action)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_BreakerBlockedFlipClosesOnly(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.breaker.ForceState(breaker.StateOpen)
	h.setRate(-0.0003)
	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("flip tick: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionClosePosition {
		t.Fatalf("got executed=%v action=%s, want the close leg only", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "re-entry") {
		t.Errorf("reason %q should explain the blocked re-entry", res.Reason)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_OpenFailureReportedInResult(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	h.engine.FailNext(executor.Transient(errors.New("rpc timeout")))

	res, err := h.strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execution failures belong in the result, got err=%v", err)
	}
	if res.Executed || res.Action != domain.ActionOpenShort {
		t.Fatalf("got executed=%v action=%s, want failed OPEN_SHORT", res.Executed, res.Action)
	}
	if !strings.Contains(res.Reason, "failed") {
		t.Errorf("reason %q should carry the failure", res.Reason)
	}
	if got := h.breaker.ErrorCountInWindow(); got != 1 {
		t.Errorf("breaker error count = %d, want 1", got)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_RetryRecoversTransientFailure(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	deps := h.deps
	deps.Retry = retry.New(retry.WithMaxRetries(2), retry.WithInitialDelay(time.Millisecond))
	strat := NewFundingRate(testFundingConfig(), deps)

	h.setRate(0.0002)
	h.engine.FailNext(executor.Transient(errors.New("rpc timeout")))

	res, err := strat.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Executed {
		t.Fatalf("retry should recover the transient failure, got reason %q", res.Reason)
	}
	if got := h.breaker.ErrorCountInWindow(); got != 0 {
		t.Errorf("recovered call must not count as a breaker error, got %d", got)
	}
}

func TestFundingRate_EmergencyExit(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0002)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.breaker.ForceState(breaker.StateOpen)
	res, err := h.strat.EmergencyExit(context.Background())
	if err != nil {
		t.Fatalf("emergency exit: %v", err)
	}
	if !res.Executed || res.Action != domain.ActionEmergencyExit {
		t.Fatalf("got executed=%v action=%s, want executed EMERGENCY_EXIT", res.Executed, res.Action)
	}
	h.mustBeFlat(t)
}

func TestFundingRate_EmergencyExitWhenFlat(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())

	res, err := h.strat.EmergencyExit(context.Background())
	if err != nil {
		t.Fatalf("emergency exit: %v", err)
	}
	if res.Executed || res.Action != domain.ActionEmergencyExit {
		t.Fatalf("got executed=%v action=%s, want non-executed EMERGENCY_EXIT", res.Executed, res.Action)
	}
}

func TestFundingRate_LeverageScalesSize(t *testing.T) {
	cfg := testFundingConfig()
	cfg.Leverage = 2
	h := newFundingHarness(t, cfg)
	h.setRate(0.0002)

	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	// 10000 x 2 leverage at 2500 = 8 base units.
	if pos := h.position(t); !pos.Amount.Equal(decimal.NewFromInt(-8)) {
		t.Errorf("position amount = %s, want -8", pos.Amount)
	}
}

func TestFundingRate_MetricsAnnualizesRate(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())
	h.setRate(0.0003)
	if _, err := h.strat.Execute(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	m, err := h.strat.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Side != domain.PositionShort {
		t.Errorf("side = %s, want SHORT", m.Side)
	}
	if m.FundingRate != 0.0003 {
		t.Errorf("funding rate = %v, want 0.0003", m.FundingRate)
	}
	// 0.0003 x 3 periods x 365 days x 100 = 32.85% APY.
	if math.Abs(m.EstimatedAPY-32.85) > 1e-9 {
		t.Errorf("estimated APY = %v, want 32.85", m.EstimatedAPY)
	}
	if m.BreakerState != breaker.StateClosed {
		t.Errorf("breaker state = %s, want CLOSED", m.BreakerState)
	}
}

func TestFundingRate_MissingMarketDataIsAnError(t *testing.T) {
	h := newFundingHarness(t, testFundingConfig())

	res, err := h.strat.Execute(context.Background())
	if err == nil {
		t.Fatalf("expected an error without market data, got result %+v", res)
	}
	if !errors.Is(err, marketdata.ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}
