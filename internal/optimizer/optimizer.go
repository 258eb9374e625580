// Package optimizer computes the concentrated-liquidity range width that
// maximizes projected net yield for a position, balancing fee capture
// against rebalancing cost. Everything here is pure: no I/O, no shared
// state, deterministic for identical inputs.
package optimizer

import "math"

// Model constants.
const (
	// ReferenceWidth is the width (percent) at which BaseFeeAPR is quoted.
	ReferenceWidth = 5.0

	// FeeDensityExponent controls how strongly narrower ranges concentrate
	// fee capture.
	FeeDensityExponent = 0.8

	// RebalanceThreshold is the fraction of the half-width at which a
	// position is recentered rather than allowed to fall out of range.
	RebalanceThreshold = 0.95

	// Efficiency clamp.
	EfficiencyFloor   = 0.40
	EfficiencyCeiling = 0.98
)

// Default cost model values.
const (
	DefaultGasUnits     = 350_000
	DefaultSlippageBps  = 10
	DefaultSwapFraction = 0.5
)

// Params are the market inputs for one optimization.
type Params struct {
	Volatility   float64 // annualized, fraction (0.60 = 60%)
	Drift        float64 // percent per year, signed; magnitude used
	Notional     float64 // position notional in quote currency
	BaseFeeAPR   float64 // percent, at ReferenceWidth
	GasPriceGwei float64
	RefPrice     float64 // gas asset price in quote currency
	PoolFeeTier  float64 // fraction, e.g. 0.0005
	IncentiveAPR float64 // percent
	FundingAPR   float64 // percent, signed; negative means paying funding
}

// CostModel holds the per-rebalance cost assumptions.
type CostModel struct {
	GasUnits     float64 // gas units consumed by one rebalance
	SlippageBps  float64 // slippage allowance on the rebalancing swap
	SwapFraction float64 // fraction of notional swapped per rebalance
}

// DefaultCostModel returns the standard cost assumptions.
func DefaultCostModel() CostModel {
	return CostModel{
		GasUnits:     DefaultGasUnits,
		SlippageBps:  DefaultSlippageBps,
		SwapFraction: DefaultSwapFraction,
	}
}

// Bounds is the width search space in percent.
type Bounds struct {
	MinWidth float64
	MaxWidth float64
	Step     float64
}

// DefaultBounds derives the search space from volatility: higher
// volatility pushes the minimum viable width up (tight ranges churn),
// while the maximum is capped to keep fee capture meaningful. The tie
// between minimum width and volatility is a heuristic; callers are free
// to override the bounds entirely.
func DefaultBounds(volatility float64) Bounds {
	volPct := volatility * 100

	minWidth := volPct / 4
	if minWidth < 0.25 {
		minWidth = 0.25
	}
	if minWidth > 10 {
		minWidth = 10
	}

	maxWidth := volPct * 1.5
	if maxWidth < 5 {
		maxWidth = 5
	}
	if maxWidth > 50 {
		maxWidth = 50
	}

	return Bounds{
		MinWidth: minWidth,
		MaxWidth: maxWidth,
		Step:     (maxWidth - minWidth) / 100,
	}
}

// Evaluation is the projected economics of one candidate width.
type Evaluation struct {
	Width             float64 // percent
	FeeDensity        float64
	Efficiency        float64
	EffectiveFeeAPR   float64 // percent
	RebalancesPerYear float64
	PerRebalanceCost  float64 // quote currency
	AnnualCost        float64 // quote currency
	CostDragPercent   float64
	NetAPY            float64 // percent
}

// Evaluate computes the projected economics of holding the given range
// width (percent) under the given market and cost assumptions.
func Evaluate(width float64, p Params, cm CostModel) Evaluation {
	density := feeDensity(width)
	eff := efficiency(width, p.Volatility*100)
	effectiveFeeAPR := p.BaseFeeAPR * density * eff

	freq := rebalancesPerYear(width, p.Volatility, p.Drift)
	perCost := perRebalanceCost(p, cm)
	annualCost := freq * perCost

	costDrag := 0.0
	if p.Notional > 0 {
		costDrag = annualCost / p.Notional * 100
	}

	return Evaluation{
		Width:             width,
		FeeDensity:        density,
		Efficiency:        eff,
		EffectiveFeeAPR:   effectiveFeeAPR,
		RebalancesPerYear: freq,
		PerRebalanceCost:  perCost,
		AnnualCost:        annualCost,
		CostDragPercent:   costDrag,
		NetAPY:            effectiveFeeAPR + p.IncentiveAPR + p.FundingAPR - costDrag,
	}
}

// Sweep evaluates every candidate width on the bounds grid, narrowest
// first.
func Sweep(p Params, cm CostModel, b Bounds) []Evaluation {
	b = normalizeBounds(b, p.Volatility)

	var out []Evaluation
	for w := b.MinWidth; w <= b.MaxWidth+b.Step/2; w += b.Step {
		out = append(out, Evaluate(w, p, cm))
	}
	return out
}

// Optimize returns the evaluation maximizing net APY over the bounds
// grid. Ties break toward the narrower width (higher capital
// efficiency).
func Optimize(p Params, cm CostModel, b Bounds) Evaluation {
	evals := Sweep(p, cm, b)

	best := evals[0]
	for _, e := range evals[1:] {
		if e.NetAPY > best.NetAPY {
			best = e
		}
	}
	return best
}

// feeDensity models fee concentration: narrower ranges spread the same
// liquidity over less price space. Strictly decreasing and convex in
// width.
func feeDensity(width float64) float64 {
	return math.Pow(ReferenceWidth/width, FeeDensityExponent)
}

// efficiency models capture efficiency from the width-to-volatility
// ratio: too narrow is frequently out of range, too wide earns diluted
// fees. Piecewise linear, clamped to [EfficiencyFloor, EfficiencyCeiling].
func efficiency(widthPct, volPct float64) float64 {
	ratio := math.Inf(1)
	if volPct > 0 {
		ratio = widthPct / volPct
	}

	var eff float64
	switch {
	case ratio > 2:
		eff = 0.95
	case ratio > 1:
		eff = 0.75 + 0.20*(ratio-1)
	case ratio > 0.5:
		eff = 0.55 + 0.40*(ratio-0.5)
	default:
		eff = 0.40 + 0.30*ratio
	}

	if eff < EfficiencyFloor {
		eff = EfficiencyFloor
	}
	if eff > EfficiencyCeiling {
		eff = EfficiencyCeiling
	}
	return eff
}

// rebalancesPerYear estimates how often the price crosses the
// threshold-adjusted half-width, via a first-passage-time approximation
// of a Brownian price path, plus a directional-drift term. At least one
// rebalance per year is assumed.
func rebalancesPerYear(widthPct, volatility, driftPct float64) float64 {
	halfWidth := (widthPct / 100) * RebalanceThreshold / 2
	dailyVol := volatility / math.Sqrt(252)

	invYears := 0.0
	if dailyVol > 0 {
		expectedDays := halfWidth * halfWidth / (2 * dailyVol * dailyVol)
		invYears = 365 / expectedDays
	}

	driftImpact := 0.0
	if halfWidthFrac := (widthPct / 100) / 2; halfWidthFrac > 0 {
		driftImpact = math.Abs(driftPct/100) / halfWidthFrac
	}

	return math.Max(1, invYears+driftImpact)
}

// perRebalanceCost is gas plus swap fee plus slippage allowance on the
// assumed rebalancing swap.
func perRebalanceCost(p Params, cm CostModel) float64 {
	gasCost := cm.GasUnits * p.GasPriceGwei * 1e-9 * p.RefPrice
	swapNotional := p.Notional * cm.SwapFraction
	swapFee := swapNotional * p.PoolFeeTier
	slippage := swapNotional * cm.SlippageBps / 10_000
	return gasCost + swapFee + slippage
}

// normalizeBounds fills missing or inverted bounds from the defaults.
func normalizeBounds(b Bounds, volatility float64) Bounds {
	def := DefaultBounds(volatility)
	if b.MinWidth <= 0 {
		b.MinWidth = def.MinWidth
	}
	if b.MaxWidth <= 0 {
		b.MaxWidth = def.MaxWidth
	}
	if b.MaxWidth < b.MinWidth {
		b.MaxWidth = b.MinWidth
	}
	if b.Step <= 0 {
		b.Step = (b.MaxWidth - b.MinWidth) / 100
		if b.Step <= 0 {
			b.Step = 0.05
		}
	}
	return b
}
