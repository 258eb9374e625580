// Package main runs the strategies against a synthetic market with
// the paper executor and writes a markdown report of the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/report"
	"delta-keeper/internal/retry"
	"delta-keeper/internal/simulate"
	"delta-keeper/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	days := flag.Int("days", 30, "Simulated days")
	stepsPerDay := flag.Int("steps-per-day", 24, "Evaluation ticks per simulated day")
	seed := flag.Int64("seed", 1, "Random seed for the market walk")
	capital := flag.Float64("capital", 100_000, "Paper capital per strategy (USD)")
	outputDir := flag.String("output-dir", "output", "Directory for the report files")

	perpAsset := flag.String("perp-asset", "ETH-PERP", "Perp market for the funding strategy")
	perpPrice := flag.Float64("perp-price", 2500, "Initial perp price")
	perpVol := flag.Float64("perp-vol", 0.6, "Annualized perp volatility (fraction)")
	perpDrift := flag.Float64("perp-drift", 0, "Perp drift (percent per year)")
	fundingBase := flag.Float64("funding-base", 0.0001, "Mean funding rate per period")
	fundingAmp := flag.Float64("funding-amp", 0.0003, "Funding cycle amplitude")

	poolAsset := flag.String("pool-asset", "USDC-DAI", "Pool market for the stable-pair strategy")
	poolFeeAPR := flag.Float64("pool-fee-apr", 12, "Pool base fee APR (percent)")
	poolIncentiveAPR := flag.Float64("pool-incentive-apr", 3, "Pool incentive APR (percent)")
	stableNotional := flag.Float64("stable-notional", 100_000, "Liquidity committed to the range (USD)")
	stableMinAPY := flag.Float64("stable-min-apy", 0, "Minimum projected net APY (percent) to open a range")

	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clock := simulate.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	market := &marketdata.Static{}
	engine := paper.NewEngine(paper.Config{
		SlippageBps: 10,
		TakerFeeBps: 5,
		Clock:       clock.Now,
	})
	sharedBreaker := breaker.New(breaker.Config{Clock: clock.Now})

	deps := strategy.Deps{
		Executor: engine,
		Market:   market,
		Breaker:  sharedBreaker,
		Retry:    retry.New(retry.WithMaxRetries(0)),
		Logger:   logger,
		Clock:    clock.Now,
	}

	funding, err := strategy.New(strategy.Config{
		Kind: strategy.KindFundingRate,
		Funding: &strategy.FundingConfig{
			ID:                  "funding-sim",
			Asset:               *perpAsset,
			MinFundingThreshold: 0.0001,
			PositionSizeUSD:     *capital / 5,
			Leverage:            1,
			Enabled:             true,
		},
	}, deps)
	if err != nil {
		logger.Fatal("funding strategy", zap.Error(err))
	}

	stable, err := strategy.New(strategy.Config{
		Kind: strategy.KindStablePair,
		Stable: &strategy.StablePairConfig{
			ID:          "stable-sim",
			Asset:       *poolAsset,
			NotionalUSD: *stableNotional,
			MinNetAPY:   *stableMinAPY,
			Enabled:     true,
		},
	}, deps)
	if err != nil {
		logger.Fatal("stable strategy", zap.Error(err))
	}

	amt, err := domain.AmountFromFloat(*capital)
	if err != nil {
		logger.Fatal("capital", zap.Error(err))
	}
	engine.Fund(funding.ID(), amt)
	engine.Fund(stable.ID(), amt)

	markets := []*simulate.Market{
		simulate.NewMarket(simulate.MarketConfig{
			Asset:            *perpAsset,
			InitialPrice:     *perpPrice,
			Volatility:       *perpVol,
			Drift:            *perpDrift,
			FundingBase:      *fundingBase,
			FundingAmplitude: *fundingAmp,
			Seed:             *seed,
		}),
		simulate.NewMarket(simulate.MarketConfig{
			Asset:        *poolAsset,
			InitialPrice: 1,
			Volatility:   0.02,
			BaseFeeAPR:   *poolFeeAPR,
			IncentiveAPR: *poolIncentiveAPR,
			PoolFeeTier:  0.0005,
			GasPriceGwei: 20,
			RefPrice:     2500,
			Seed:         *seed + 1,
		}),
	}

	runner, err := simulate.NewRunner(simulate.Options{
		Strategies:  []strategy.Strategy{funding, stable},
		Engine:      engine,
		Market:      market,
		Markets:     markets,
		Breaker:     sharedBreaker,
		Clock:       clock,
		Days:        *days,
		StepsPerDay: *stepsPerDay,
		Accruals: []simulate.Accrual{{
			StrategyID:  stable.ID(),
			Asset:       *poolAsset,
			NotionalUSD: *stableNotional,
		}},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("runner", zap.Error(err))
	}

	res, err := runner.Run(context.Background())
	if err != nil {
		logger.Fatal("run", zap.Error(err))
	}

	rep := report.FromRun(res, time.Now().UTC())

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal("output dir", zap.Error(err))
	}
	mdPath := filepath.Join(*outputDir, "SIM_REPORT.md")
	if err := os.WriteFile(mdPath, []byte(report.RenderMarkdown(rep)), 0o644); err != nil {
		logger.Fatal("write markdown", zap.Error(err))
	}
	csvPath := filepath.Join(*outputDir, "sim_strategies.csv")
	if err := os.WriteFile(csvPath, []byte(report.RenderCSV(rep.Strategies)), 0o644); err != nil {
		logger.Fatal("write csv", zap.Error(err))
	}

	for _, row := range rep.Strategies {
		fmt.Printf("%-16s equity %.2f -> %.2f (%+.4f%%), executed %d, errors %d\n",
			row.StrategyID, row.StartEquity, row.FinalEquity, row.ReturnPct, row.Executed, row.Errors)
	}
	fmt.Printf("report written to %s\n", mdPath)
}
