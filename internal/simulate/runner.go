package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/strategy"
)

// Clock is the simulated wall clock. The runner advances it one step
// at a time; strategies and the engine read it through Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Accrual describes pool-fee income for one range strategy: while its
// position is open, trading fees accrue against the notional at the
// snapshot's fee APRs and are collected by the strategy's own harvests.
type Accrual struct {
	StrategyID  string
	Asset       string
	NotionalUSD float64
}

// Options configures a simulation run.
type Options struct {
	Strategies []strategy.Strategy
	Engine     *paper.Engine
	Market     *marketdata.Static
	Markets    []*Market
	Breaker    *breaker.CircuitBreaker
	Clock      *Clock

	Days        int
	StepsPerDay int
	Accruals    []Accrual

	Logger *zap.Logger
}

// Runner executes simulation runs.
type Runner struct {
	opts Options
}

// NewRunner creates a simulation runner. Days and StepsPerDay default
// to 30 and 24.
func NewRunner(opts Options) (*Runner, error) {
	if len(opts.Strategies) == 0 {
		return nil, errors.New("simulate: no strategies")
	}
	if opts.Engine == nil || opts.Market == nil || opts.Clock == nil {
		return nil, errors.New("simulate: engine, market, and clock are required")
	}
	if len(opts.Markets) == 0 {
		return nil, errors.New("simulate: no markets")
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.StepsPerDay <= 0 {
		opts.StepsPerDay = 24
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{opts: opts}, nil
}

// Result is the outcome of one simulation run.
type Result struct {
	RunID string
	Start time.Time
	End   time.Time
	Steps int

	BreakerState breaker.State
	Strategies   []StrategyResult
}

// StrategyResult aggregates one strategy's run.
type StrategyResult struct {
	StrategyID string
	Name       string
	Asset      string

	Actions  map[domain.Action]int
	Executed int
	Errors   int

	StartEquity float64
	FinalEquity float64
	ReturnPct   float64

	FinalMetrics strategy.Metrics
}

// Run executes the configured number of days. Each step advances the
// clock, regenerates every market, marks the engine, accrues pool
// fees, then evaluates each strategy once.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	o := r.opts

	stepDur := 24 * time.Hour / time.Duration(o.StepsPerDay)
	dtYears := 1 / float64(365*o.StepsPerDay)
	totalSteps := o.Days * o.StepsPerDay

	res := &Result{
		RunID: uuid.NewString(),
		Start: o.Clock.Now(),
	}

	tallies := make(map[string]*StrategyResult, len(o.Strategies))
	for _, s := range o.Strategies {
		eq, err := o.Engine.Equity(ctx, s.ID())
		if err != nil {
			return nil, fmt.Errorf("start equity for %s: %w", s.ID(), err)
		}
		tallies[s.ID()] = &StrategyResult{
			StrategyID:  s.ID(),
			Name:        s.Name(),
			Asset:       s.Asset(),
			Actions:     make(map[domain.Action]int),
			StartEquity: eq.Float(),
		}
	}

	o.Logger.Info("simulation starting",
		zap.String("run_id", res.RunID),
		zap.Int("days", o.Days),
		zap.Int("steps_per_day", o.StepsPerDay),
		zap.Int("strategies", len(o.Strategies)),
	)

	for step := 0; step < totalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		o.Clock.Advance(stepDur)
		nowMs := o.Clock.Now().UnixMilli()

		snaps := make(map[string]domain.MarketSnapshot, len(o.Markets))
		for _, m := range o.Markets {
			snap := m.Next(nowMs, dtYears)
			snaps[snap.Asset] = snap
			o.Market.SetSnapshot(snap)

			mark, err := domain.PriceFromFloat(snap.Price)
			if err != nil {
				return nil, fmt.Errorf("generated price for %s: %w", snap.Asset, err)
			}
			o.Engine.SetMark(snap.Asset, mark)
		}

		r.accrue(ctx, snaps, dtYears)

		for _, s := range o.Strategies {
			tally := tallies[s.ID()]
			out, err := s.Execute(ctx)
			if err != nil {
				tally.Errors++
				continue
			}
			tally.Actions[out.Action]++
			if out.Executed {
				tally.Executed++
			}
		}
	}

	for _, s := range o.Strategies {
		tally := tallies[s.ID()]

		eq, err := o.Engine.Equity(ctx, s.ID())
		if err != nil {
			return nil, fmt.Errorf("final equity for %s: %w", s.ID(), err)
		}
		tally.FinalEquity = eq.Float()
		if tally.StartEquity != 0 {
			tally.ReturnPct = (tally.FinalEquity - tally.StartEquity) / tally.StartEquity * 100
		}

		if m, err := s.Metrics(ctx); err == nil {
			tally.FinalMetrics = m
		}

		res.Strategies = append(res.Strategies, *tally)
	}

	res.End = o.Clock.Now()
	res.Steps = totalSteps
	if o.Breaker != nil {
		res.BreakerState = o.Breaker.State()
	}

	o.Logger.Info("simulation finished",
		zap.String("run_id", res.RunID),
		zap.Int("steps", res.Steps),
	)
	return res, nil
}

// accrue credits pool-fee income for every accrual whose position is
// currently open, pro-rated to one step.
func (r *Runner) accrue(ctx context.Context, snaps map[string]domain.MarketSnapshot, dtYears float64) {
	for _, a := range r.opts.Accruals {
		snap, ok := snaps[a.Asset]
		if !ok {
			continue
		}
		if _, err := r.opts.Engine.Position(ctx, a.StrategyID, a.Asset); err != nil {
			continue
		}

		feeAPR := snap.BaseFeeAPR + snap.IncentiveAPR
		earned := a.NotionalUSD * feeAPR / 100 * dtYears
		if earned <= 0 {
			continue
		}
		amt, err := domain.AmountFromFloat(earned)
		if err != nil {
			continue
		}
		r.opts.Engine.AccrueFees(a.StrategyID, a.Asset, amt)
	}
}
