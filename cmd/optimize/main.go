// Package main is a one-shot width optimizer: it prints the full
// sweep for the given market and cost parameters and marks the
// selected optimum.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"delta-keeper/internal/optimizer"
)

func main() {
	vol := flag.Float64("vol", 0.05, "Annualized volatility (fraction)")
	drift := flag.Float64("drift", 0, "Drift (percent per year, signed)")
	notional := flag.Float64("notional", 100_000, "Position notional (quote currency)")
	baseFeeAPR := flag.Float64("base-fee-apr", 12, "Base fee APR at the reference width (percent)")
	incentiveAPR := flag.Float64("incentive-apr", 0, "Incentive APR (percent)")
	fundingAPR := flag.Float64("funding-apr", 0, "Funding APR (percent, signed)")
	gasGwei := flag.Float64("gas-gwei", 20, "Gas price (gwei)")
	refPrice := flag.Float64("ref-price", 2500, "Gas asset price (quote currency)")
	feeTier := flag.Float64("fee-tier", 0.0005, "Pool fee tier (fraction)")

	minWidth := flag.Float64("min-width", 0, "Sweep lower bound (percent, 0 derives from vol)")
	maxWidth := flag.Float64("max-width", 0, "Sweep upper bound (percent, 0 derives from vol)")
	step := flag.Float64("step", 0, "Sweep step (percent, 0 derives from vol)")

	gasUnits := flag.Float64("gas-units", 0, "Gas units per rebalance (0 uses the default)")
	slippageBps := flag.Float64("slippage-bps", 0, "Rebalance slippage allowance (bps, 0 uses the default)")
	swapFraction := flag.Float64("swap-fraction", 0, "Fraction of notional swapped per rebalance (0 uses the default)")

	flag.Parse()

	params := optimizer.Params{
		Volatility:   *vol,
		Drift:        *drift,
		Notional:     *notional,
		BaseFeeAPR:   *baseFeeAPR,
		IncentiveAPR: *incentiveAPR,
		FundingAPR:   *fundingAPR,
		GasPriceGwei: *gasGwei,
		RefPrice:     *refPrice,
		PoolFeeTier:  *feeTier,
	}

	cost := optimizer.DefaultCostModel()
	if *gasUnits > 0 {
		cost.GasUnits = *gasUnits
	}
	if *slippageBps > 0 {
		cost.SlippageBps = *slippageBps
	}
	if *swapFraction > 0 {
		cost.SwapFraction = *swapFraction
	}

	bounds := optimizer.Bounds{MinWidth: *minWidth, MaxWidth: *maxWidth, Step: *step}

	sweep := optimizer.Sweep(params, cost, bounds)
	if len(sweep) == 0 {
		fmt.Fprintln(os.Stderr, "empty sweep: check bounds")
		os.Exit(1)
	}
	best := optimizer.Optimize(params, cost, bounds)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WIDTH%\tFEE APR%\tREB/YR\tCOST/YR\tDRAG%\tNET APY%\t")
	for _, ev := range sweep {
		marker := ""
		if ev.Width == best.Width {
			marker = "  <- optimum"
		}
		fmt.Fprintf(w, "%.2f\t%.2f\t%.1f\t%.2f\t%.2f\t%.2f%s\t\n",
			ev.Width, ev.EffectiveFeeAPR, ev.RebalancesPerYear,
			ev.AnnualCost, ev.CostDragPercent, ev.NetAPY, marker)
	}
	w.Flush()

	fmt.Printf("\noptimal width %.2f%% -> net APY %.2f%% (%.1f rebalances/yr, %.2f annual cost)\n",
		best.Width, best.NetAPY, best.RebalancesPerYear, best.AnnualCost)
}
