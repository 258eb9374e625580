package simulate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/retry"
	"delta-keeper/internal/strategy"
)

const simAsset = "ETH-PERP"

type simHarness struct {
	clock   *Clock
	engine  *paper.Engine
	market  *marketdata.Static
	breaker *breaker.CircuitBreaker
	strat   *strategy.FundingRateStrategy
}

func newSimHarness(t *testing.T) *simHarness {
	t.Helper()

	h := &simHarness{
		clock:  NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		market: &marketdata.Static{},
	}
	h.engine = paper.NewEngine(paper.Config{Clock: h.clock.Now})
	h.breaker = breaker.New(breaker.Config{Clock: h.clock.Now})

	capital, err := domain.AmountFromFloat(50_000)
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	h.engine.Fund("funding-eth", capital)

	h.strat = strategy.NewFundingRate(strategy.FundingConfig{
		ID:                  "funding-eth",
		Asset:               simAsset,
		MinFundingThreshold: 0.0001,
		PositionSizeUSD:     10_000,
		Leverage:            1,
		Enabled:             true,
	}, strategy.Deps{
		Executor: h.engine,
		Market:   h.market,
		Breaker:  h.breaker,
		Retry:    retry.New(retry.WithMaxRetries(0)),
		Logger:   zap.NewNop(),
		Clock:    h.clock.Now,
	})
	return h
}

func (h *simHarness) runner(t *testing.T, markets []*Market, days, stepsPerDay int, accruals ...Accrual) *Runner {
	t.Helper()
	r, err := NewRunner(Options{
		Strategies:  []strategy.Strategy{h.strat},
		Engine:      h.engine,
		Market:      h.market,
		Markets:     markets,
		Breaker:     h.breaker,
		Clock:       h.clock,
		Days:        days,
		StepsPerDay: stepsPerDay,
		Accruals:    accruals,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestRun_PositiveFundingOpensShort(t *testing.T) {
	h := newSimHarness(t)
	markets := []*Market{NewMarket(MarketConfig{
		Asset:        simAsset,
		InitialPrice: 2500,
		FundingBase:  0.0004, // firmly above threshold, no oscillation
		Seed:         1,
	})}

	res, err := h.runner(t, markets, 2, 24).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Steps != 48 {
		t.Errorf("expected 48 steps, got %d", res.Steps)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
	if got := res.End.Sub(res.Start); got != 48*time.Hour {
		t.Errorf("expected the clock to advance 48h, got %s", got)
	}

	if len(res.Strategies) != 1 {
		t.Fatalf("expected one strategy result, got %d", len(res.Strategies))
	}
	sr := res.Strategies[0]
	if sr.Actions[domain.ActionOpenShort] != 1 {
		t.Errorf("expected exactly one short open, got %d", sr.Actions[domain.ActionOpenShort])
	}
	if sr.Actions[domain.ActionHold] != 47 {
		t.Errorf("expected 47 holds, got %d", sr.Actions[domain.ActionHold])
	}
	if sr.Executed != 1 {
		t.Errorf("expected one executed action, got %d", sr.Executed)
	}
	if sr.Errors != 0 {
		t.Errorf("expected no errors, got %d", sr.Errors)
	}
	if sr.FinalMetrics.Side != domain.PositionShort {
		t.Errorf("expected a short at the end, got %s", sr.FinalMetrics.Side)
	}
	if res.BreakerState != breaker.StateClosed {
		t.Errorf("expected closed breaker, got %s", res.BreakerState)
	}
}

func TestRun_FundingCycleFlipsPosition(t *testing.T) {
	h := newSimHarness(t)
	markets := []*Market{NewMarket(MarketConfig{
		Asset:             simAsset,
		InitialPrice:      2500,
		FundingBase:       0,
		FundingAmplitude:  0.0005, // swings well past the flip threshold both ways
		FundingCycleSteps: 24,
		Seed:              1,
	})}

	res, err := h.runner(t, markets, 3, 24).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	sr := res.Strategies[0]
	if sr.Actions[domain.ActionOpenShort] == 0 {
		t.Error("expected at least one short open over the cycle")
	}
	if sr.Actions[domain.ActionOpenLong] == 0 {
		t.Error("expected at least one long open over the cycle")
	}
	if sr.Actions[domain.ActionClosePosition] == 0 {
		t.Error("expected closes between flips")
	}
}

func TestRun_AccruesPoolFeesWhilePositionOpen(t *testing.T) {
	h := newSimHarness(t)
	markets := []*Market{NewMarket(MarketConfig{
		Asset:        simAsset,
		InitialPrice: 2500,
		FundingBase:  0.0004,
		BaseFeeAPR:   12,
		IncentiveAPR: 3,
		Seed:         1,
	})}

	_, err := h.runner(t, markets, 2, 24, Accrual{
		StrategyID:  "funding-eth",
		Asset:       simAsset,
		NotionalUSD: 10_000,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	harvested, _, err := h.engine.Harvest(context.Background(), "funding-eth", simAsset)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if !harvested.Decimal().IsPositive() {
		t.Errorf("expected positive accrued fees, got %s", harvested)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	h := newSimHarness(t)
	markets := []*Market{NewMarket(MarketConfig{Asset: simAsset, InitialPrice: 2500, Seed: 1})}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.runner(t, markets, 30, 24).Run(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestNewRunner_Validation(t *testing.T) {
	h := newSimHarness(t)

	if _, err := NewRunner(Options{}); err == nil {
		t.Error("expected error for empty options")
	}
	if _, err := NewRunner(Options{
		Strategies: []strategy.Strategy{h.strat},
		Engine:     h.engine,
		Market:     h.market,
		Clock:      h.clock,
	}); err == nil {
		t.Error("expected error with no markets")
	}
}
