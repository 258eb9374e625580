// Package keeper drives strategies on a fixed cadence and journals
// everything they decide. One goroutine per strategy evaluates ticks;
// a sampling goroutine records the funding-rate time series; every
// decision, fill and position change lands in storage.
package keeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor"
	"delta-keeper/internal/idhash"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/observability"
	"delta-keeper/internal/storage"
	"delta-keeper/internal/strategy"
)

// Default cadences.
const (
	DefaultTickInterval   = 30 * time.Second
	DefaultSampleInterval = 5 * time.Minute
)

// RunnerOptions contains configuration for creating a Runner. Store
// and provider fields are nil-tolerant: a nil store simply disables
// that journal.
type RunnerOptions struct {
	Strategies []strategy.Strategy
	Executor   executor.Executor

	Positions storage.PositionStore
	Trades    storage.TradeStore
	Decisions storage.DecisionStore
	Samples   storage.FundingSampleStore

	// Market feeds the funding-sample journal. SampleAssets defaults
	// to the union of strategy assets.
	Market       marketdata.Provider
	SampleAssets []string

	TickInterval   time.Duration
	SampleInterval time.Duration

	Metrics *observability.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// StrategyStatus is one strategy's latest observed state.
type StrategyStatus struct {
	StrategyID   string
	Name         string
	Asset        string
	Enabled      bool
	LastTick     time.Time
	LastAction   domain.Action
	LastReason   string
	LastExecuted bool
	LastError    string
	LastMark     float64
	Metrics      strategy.Metrics
}

// Runner orchestrates the strategy control loop.
type Runner struct {
	strategies []strategy.Strategy
	exec       executor.Executor

	positions storage.PositionStore
	trades    storage.TradeStore
	decisions storage.DecisionStore
	samples   storage.FundingSampleStore

	market       marketdata.Provider
	sampleAssets []string

	tickInterval   time.Duration
	sampleInterval time.Duration

	metrics *observability.Metrics
	logger  *zap.Logger
	clock   func() time.Time

	mu     sync.RWMutex
	status map[string]*StrategyStatus
}

// NewRunner creates a keeper runner with defaults applied.
func NewRunner(opts RunnerOptions) *Runner {
	tickInterval := opts.TickInterval
	if tickInterval == 0 {
		tickInterval = DefaultTickInterval
	}

	sampleInterval := opts.SampleInterval
	if sampleInterval == 0 {
		sampleInterval = DefaultSampleInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	sampleAssets := opts.SampleAssets
	if len(sampleAssets) == 0 {
		seen := make(map[string]bool)
		for _, s := range opts.Strategies {
			if !seen[s.Asset()] {
				seen[s.Asset()] = true
				sampleAssets = append(sampleAssets, s.Asset())
			}
		}
	}

	return &Runner{
		strategies:     opts.Strategies,
		exec:           opts.Executor,
		positions:      opts.Positions,
		trades:         opts.Trades,
		decisions:      opts.Decisions,
		samples:        opts.Samples,
		market:         opts.Market,
		sampleAssets:   sampleAssets,
		tickInterval:   tickInterval,
		sampleInterval: sampleInterval,
		metrics:        metrics,
		logger:         logger,
		clock:          clock,
		status:         make(map[string]*StrategyStatus),
	}
}

// Run starts one evaluation loop per strategy plus the funding sampler
// and blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("keeper starting",
		zap.Int("strategies", len(r.strategies)),
		zap.Duration("tick_interval", r.tickInterval),
		zap.Duration("sample_interval", r.sampleInterval))

	var wg sync.WaitGroup
	for _, s := range r.strategies {
		wg.Add(1)
		go func(s strategy.Strategy) {
			defer wg.Done()
			r.strategyLoop(ctx, s)
		}(s)
	}
	r.metrics.StrategiesLive.Set(float64(len(r.strategies)))
	defer r.metrics.StrategiesLive.Set(0)

	if r.samples != nil && r.market != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.samplingLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	r.logger.Info("keeper stopped")
	return ctx.Err()
}

// Status reports the latest state of every strategy, ordered by id.
func (r *Runner) Status() []StrategyStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StrategyStatus, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// EmergencyExitAll unwinds every strategy immediately, journaling each
// exit. Errors are collected rather than aborting the sweep: every
// strategy gets its exit attempt.
func (r *Runner) EmergencyExitAll(ctx context.Context) error {
	r.logger.Warn("emergency exit requested for all strategies")

	var errs []error
	for _, s := range r.strategies {
		res, err := s.EmergencyExit(ctx)
		if err != nil {
			errs = append(errs, err)
			r.logger.Error("emergency exit failed",
				zap.String("strategy_id", s.ID()), zap.Error(err))
			continue
		}
		if res.Executed {
			r.metrics.EmergencyExits.Inc()
		}
		r.journalDecision(ctx, s, res, 0)
		r.journalTrades(ctx, s, res)
		r.persistPosition(ctx, s)
	}
	return errors.Join(errs...)
}

// strategyLoop evaluates one strategy on the tick cadence. The first
// tick runs immediately so a fresh keeper acts without waiting a full
// interval.
func (r *Runner) strategyLoop(ctx context.Context, s strategy.Strategy) {
	log := r.logger.With(zap.String("strategy_id", s.ID()), zap.String("asset", s.Asset()))
	log.Info("strategy loop started")

	r.tick(ctx, s)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("strategy loop stopped")
			return
		case <-ticker.C:
			r.tick(ctx, s)
		}
	}
}

// tick runs one evaluation and journals its outcome. Evaluation
// errors are recorded and the loop moves on; a sick strategy must not
// take the keeper down.
func (r *Runner) tick(ctx context.Context, s strategy.Strategy) {
	start := r.clock()
	res, err := s.Execute(ctx)
	elapsed := r.clock().Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.RecordTick(s.ID(), "error", elapsed.Seconds())
		r.logger.Warn("tick failed",
			zap.String("strategy_id", s.ID()), zap.Error(err))
		r.recordStatus(s, nil, err)
		return
	}

	r.metrics.RecordTick(s.ID(), "ok", elapsed.Seconds())
	r.metrics.LastSuccessfulTick.Set(float64(r.clock().Unix()))

	r.journalDecision(ctx, s, res, elapsed)
	r.journalTrades(ctx, s, res)
	r.persistPosition(ctx, s)
	r.recordStatus(s, res, nil)
}

// journalDecision writes one decision record. Duplicates are expected
// when two identical decisions land in the same millisecond and are
// not errors.
func (r *Runner) journalDecision(ctx context.Context, s strategy.Strategy, res *domain.ExecutionResult, elapsed time.Duration) {
	r.metrics.RecordDecision(s.ID(), string(res.Action))

	if r.decisions == nil {
		return
	}

	now := r.clock().UnixMilli()
	rec := &domain.DecisionRecord{
		ID:              idhash.ComputeDecisionID(s.ID(), s.Asset(), string(res.Action), now),
		StrategyID:      s.ID(),
		Asset:           s.Asset(),
		TimestampMs:     now,
		Action:          res.Action,
		Executed:        res.Executed,
		Reason:          res.Reason,
		ShouldRebalance: res.ShouldRebalance,
		FundingRate:     res.FundingRate,
		NetAPY:          res.NetAPY,
		DurationMs:      elapsed.Milliseconds(),
	}
	if len(res.Trades) > 0 {
		rec.TxID = res.Trades[0].ID
	}
	if m, err := s.Metrics(ctx); err == nil {
		rec.BreakerState = string(m.BreakerState)
		r.updateStrategyGauges(s, m)
	}

	if err := r.decisions.Insert(ctx, rec); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			r.logger.Error("journaling decision failed",
				zap.String("strategy_id", s.ID()), zap.Error(err))
		}
	}
}

// journalTrades appends the tick's fills to the trade journal.
func (r *Runner) journalTrades(ctx context.Context, s strategy.Strategy, res *domain.ExecutionResult) {
	for _, t := range res.Trades {
		r.metrics.RecordTrade(s.ID(), string(t.Side))
	}

	if r.trades == nil || len(res.Trades) == 0 {
		return
	}
	if err := r.trades.InsertBulk(ctx, res.Trades); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			r.logger.Error("journaling trades failed",
				zap.String("strategy_id", s.ID()), zap.Error(err))
		}
	}
}

// persistPosition mirrors the executor's live position into storage so
// operators and restarts see current exposure.
func (r *Runner) persistPosition(ctx context.Context, s strategy.Strategy) {
	if r.exec == nil || r.positions == nil {
		return
	}

	pos, err := r.exec.Position(ctx, s.ID(), s.Asset())
	switch {
	case errors.Is(err, executor.ErrNoPosition):
		r.metrics.PositionOpen.WithLabelValues(s.ID(), s.Asset()).Set(0)
		if derr := r.positions.Delete(ctx, s.ID(), s.Asset()); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			r.logger.Error("clearing persisted position failed",
				zap.String("strategy_id", s.ID()), zap.Error(derr))
		}
	case err != nil:
		r.logger.Warn("position lookup failed",
			zap.String("strategy_id", s.ID()), zap.Error(err))
	default:
		r.metrics.PositionOpen.WithLabelValues(s.ID(), s.Asset()).Set(1)
		if uerr := r.positions.Upsert(ctx, pos); uerr != nil {
			r.logger.Error("persisting position failed",
				zap.String("strategy_id", s.ID()), zap.Error(uerr))
		}
	}
}

// updateStrategyGauges reflects strategy metrics into Prometheus.
func (r *Runner) updateStrategyGauges(s strategy.Strategy, m strategy.Metrics) {
	r.metrics.FundingRate.WithLabelValues(s.Asset()).Set(m.FundingRate)
	r.metrics.EstimatedAPY.WithLabelValues(s.ID()).Set(m.EstimatedAPY)
	r.metrics.UnrealizedPnL.WithLabelValues(s.ID()).Set(m.UnrealizedPnL.InexactFloat64())
	r.metrics.UpdateBreaker(s.ID(), m.BreakerState, 0)

	if r.exec != nil {
		if eq, err := r.exec.Equity(context.Background(), s.ID()); err == nil {
			r.metrics.Equity.WithLabelValues(s.ID()).Set(eq.Float())
		}
	}
}

func (r *Runner) recordStatus(s strategy.Strategy, res *domain.ExecutionResult, tickErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.status[s.ID()]
	if !ok {
		st = &StrategyStatus{StrategyID: s.ID(), Name: s.Name(), Asset: s.Asset()}
		r.status[s.ID()] = st
	}
	st.LastTick = r.clock()
	st.Enabled = s.Enabled()
	if r.exec != nil {
		if mark, err := r.exec.MarkPrice(context.Background(), s.Asset()); err == nil {
			st.LastMark = mark.Float()
		}
	}
	if tickErr != nil {
		st.LastError = tickErr.Error()
		return
	}
	st.LastError = ""
	st.LastAction = res.Action
	st.LastReason = res.Reason
	st.LastExecuted = res.Executed
}

// samplingLoop journals the funding-rate time series on its own
// cadence, independent of strategy ticks.
func (r *Runner) samplingLoop(ctx context.Context) {
	r.logger.Info("funding sampler started", zap.Strings("assets", r.sampleAssets))

	ticker := time.NewTicker(r.sampleInterval)
	defer ticker.Stop()

	r.sampleFunding(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("funding sampler stopped")
			return
		case <-ticker.C:
			r.sampleFunding(ctx)
		}
	}
}

// sampleFunding records one funding observation per asset. Samples are
// stamped with the snapshot's own timestamp, so an unchanged snapshot
// dedupes against the journal instead of writing a copy.
func (r *Runner) sampleFunding(ctx context.Context) {
	for _, asset := range r.sampleAssets {
		snap, err := r.market.Snapshot(ctx, asset)
		if err != nil {
			r.logger.Warn("funding sample skipped",
				zap.String("asset", asset), zap.Error(err))
			continue
		}

		sample := &domain.FundingSample{
			Asset:         snap.Asset,
			TimestampMs:   snap.TimestampMs,
			Rate:          snap.FundingRate,
			PredictedRate: snap.PredictedFundingRate,
			OpenInterest:  snap.OpenInterest,
			MarkPrice:     snap.Price,
		}
		if err := r.samples.InsertBulk(ctx, []*domain.FundingSample{sample}); err != nil {
			if !errors.Is(err, storage.ErrDuplicateKey) {
				r.logger.Error("journaling funding sample failed",
					zap.String("asset", asset), zap.Error(err))
			}
			continue
		}
		r.metrics.FundingSamplesRecorded.Inc()
		r.metrics.FundingRate.WithLabelValues(asset).Set(snap.FundingRate)
	}
}
