package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/retry"
	"delta-keeper/internal/storage/memory"
	"delta-keeper/internal/strategy"
)

const keeperAsset = "ETH-PERP"

// keeperHarness wires a funding strategy through the paper engine into
// a runner backed by memory stores. Tests drive ticks directly rather
// than waiting on timers.
type keeperHarness struct {
	engine    *paper.Engine
	market    *marketdata.Static
	breaker   *breaker.CircuitBreaker
	strat     *strategy.FundingRateStrategy
	positions *memory.PositionStore
	trades    *memory.TradeStore
	decisions *memory.DecisionStore
	samples   *memory.FundingSampleStore
	runner    *Runner
	now       time.Time
}

func newKeeperHarness(t *testing.T) *keeperHarness {
	t.Helper()

	h := &keeperHarness{
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		market:    &marketdata.Static{},
		positions: memory.NewPositionStore(),
		trades:    memory.NewTradeStore(),
		decisions: memory.NewDecisionStore(),
		samples:   memory.NewFundingSampleStore(),
	}
	clock := func() time.Time { return h.now }

	h.engine = paper.NewEngine(paper.Config{Clock: clock})
	h.breaker = breaker.New(breaker.Config{Clock: clock})
	h.strat = h.newFundingStrategy(t, "funding-eth", keeperAsset, clock)

	h.runner = NewRunner(RunnerOptions{
		Strategies: []strategy.Strategy{h.strat},
		Executor:   h.engine,
		Positions:  h.positions,
		Trades:     h.trades,
		Decisions:  h.decisions,
		Samples:    h.samples,
		Market:     h.market,
		Logger:     zap.NewNop(),
		Clock:      clock,
	})
	return h
}

func (h *keeperHarness) newFundingStrategy(t *testing.T, id, asset string, clock func() time.Time) *strategy.FundingRateStrategy {
	t.Helper()

	capital, err := domain.AmountFromFloat(50_000)
	require.NoError(t, err)
	h.engine.Fund(id, capital)

	return strategy.NewFundingRate(strategy.FundingConfig{
		ID:                  id,
		Asset:               asset,
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
		Clock:    clock,
	})
}

func (h *keeperHarness) setRate(asset string, rate float64) {
	h.market.SetSnapshot(domain.MarketSnapshot{
		Asset:                asset,
		TimestampMs:          h.now.UnixMilli(),
		Price:                2500,
		FundingRate:          rate,
		PredictedFundingRate: rate,
		OpenInterest:         1_000_000,
	})
}

func TestRunner_TickJournalsDecisionAndTrades(t *testing.T) {
	h := newKeeperHarness(t)
	h.setRate(keeperAsset, 0.0002)

	ctx := context.Background()
	h.runner.tick(ctx, h.strat)

	decisions, err := h.decisions.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	rec := decisions[0]
	assert.Equal(t, domain.ActionOpenShort, rec.Action)
	assert.True(t, rec.Executed)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, string(breaker.StateClosed), rec.BreakerState)
	require.NotNil(t, rec.FundingRate)
	assert.InDelta(t, 0.0002, *rec.FundingRate, 1e-12)

	trades, err := h.trades.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, rec.TxID, trades[0].ID)

	open, err := h.positions.GetOpen(ctx, "funding-eth")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, keeperAsset, open[0].Asset)
	assert.Equal(t, domain.PositionShort, open[0].Side())
}

func TestRunner_DuplicateDecisionTolerated(t *testing.T) {
	h := newKeeperHarness(t)
	h.setRate(keeperAsset, 0.00001)

	// Two identical holds in the same millisecond produce the same
	// decision id; the second insert must be swallowed, not logged as
	// a failure or fatal.
	ctx := context.Background()
	h.runner.tick(ctx, h.strat)
	h.runner.tick(ctx, h.strat)

	decisions, err := h.decisions.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionHold, decisions[0].Action)
}

func TestRunner_TickErrorSkipsJournal(t *testing.T) {
	h := newKeeperHarness(t)
	// No snapshot installed: evaluation fails before any decision.

	ctx := context.Background()
	h.runner.tick(ctx, h.strat)

	decisions, err := h.decisions.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	assert.Empty(t, decisions)

	status := h.runner.Status()
	require.Len(t, status, 1)
	assert.NotEmpty(t, status[0].LastError)
}

func TestRunner_PositionMirrorClearedOnClose(t *testing.T) {
	h := newKeeperHarness(t)
	ctx := context.Background()

	h.setRate(keeperAsset, 0.0002)
	h.runner.tick(ctx, h.strat)

	open, err := h.positions.GetOpen(ctx, "funding-eth")
	require.NoError(t, err)
	require.Len(t, open, 1)

	h.setRate(keeperAsset, -0.00005)
	h.runner.tick(ctx, h.strat)

	open, err = h.positions.GetOpen(ctx, "funding-eth")
	require.NoError(t, err)
	assert.Empty(t, open, "closed position should be cleared from the mirror")

	trades, err := h.trades.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestRunner_StatusSortedByStrategyID(t *testing.T) {
	h := newKeeperHarness(t)
	second := h.newFundingStrategy(t, "funding-btc", "BTC-PERP", func() time.Time { return h.now })
	h.runner.strategies = append(h.runner.strategies, second)

	h.setRate(keeperAsset, 0.0002)
	h.setRate("BTC-PERP", 0.0002)

	ctx := context.Background()
	h.runner.tick(ctx, h.strat)
	h.runner.tick(ctx, second)

	status := h.runner.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "funding-btc", status[0].StrategyID)
	assert.Equal(t, "funding-eth", status[1].StrategyID)
	assert.Equal(t, domain.ActionOpenShort, status[0].LastAction)
	assert.True(t, status[1].LastExecuted)
}

func TestRunner_EmergencyExitAll(t *testing.T) {
	h := newKeeperHarness(t)
	ctx := context.Background()

	h.setRate(keeperAsset, 0.0002)
	h.runner.tick(ctx, h.strat)

	// An open breaker must not stop the sweep: exits are always allowed.
	h.breaker.ForceState(breaker.StateOpen)

	require.NoError(t, h.runner.EmergencyExitAll(ctx))

	open, err := h.positions.GetOpen(ctx, "funding-eth")
	require.NoError(t, err)
	assert.Empty(t, open)

	decisions, err := h.decisions.GetByStrategy(ctx, "funding-eth")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	exit := decisions[len(decisions)-1]
	assert.Equal(t, domain.ActionEmergencyExit, exit.Action)
	assert.True(t, exit.Executed)
	assert.Equal(t, string(breaker.StateOpen), exit.BreakerState)
}

func TestRunner_SampleFundingDedupesUnchangedSnapshot(t *testing.T) {
	h := newKeeperHarness(t)
	ctx := context.Background()

	h.setRate(keeperAsset, 0.0003)
	h.runner.sampleFunding(ctx)
	h.runner.sampleFunding(ctx)

	samples, err := h.samples.GetByTimeRange(ctx, keeperAsset, 0, h.now.UnixMilli()+1)
	require.NoError(t, err)
	require.Len(t, samples, 1, "unchanged snapshot should not be journaled twice")
	assert.InDelta(t, 0.0003, samples[0].Rate, 1e-12)
	assert.InDelta(t, 2500, samples[0].MarkPrice, 1e-9)

	latest, err := h.samples.Latest(ctx, keeperAsset)
	require.NoError(t, err)
	assert.Equal(t, h.now.UnixMilli(), latest.TimestampMs)
}

func TestRunner_SampleAssetsDefaultToStrategyAssets(t *testing.T) {
	h := newKeeperHarness(t)
	assert.Equal(t, []string{keeperAsset}, h.runner.sampleAssets)
}

func TestRunner_RunStopsOnContextCancel(t *testing.T) {
	h := newKeeperHarness(t)
	h.setRate(keeperAsset, 0.0002)
	h.runner.tickInterval = 5 * time.Millisecond
	h.runner.sampleInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := h.runner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	decisions, derr := h.decisions.GetByStrategy(context.Background(), "funding-eth")
	require.NoError(t, derr)
	assert.NotEmpty(t, decisions, "run loop should have journaled at least the first tick")
}
