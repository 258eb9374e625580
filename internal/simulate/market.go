// Package simulate drives the strategies against a synthetic market
// with the paper executor. Everything is seeded and clock-injected so
// a run reproduces bit-for-bit.
package simulate

import (
	"math"
	"math/rand"

	"delta-keeper/internal/domain"
)

// MarketConfig parameterizes one synthetic asset.
type MarketConfig struct {
	Asset        string
	InitialPrice float64

	// Volatility is annualized (fraction), Drift in percent per year.
	// The walk is geometric Brownian motion over both.
	Volatility float64
	Drift      float64

	// Funding oscillates around FundingBase with FundingAmplitude over
	// FundingCycleSteps, plus seeded noise. Rates are per funding
	// period (0.0001 = 1bp).
	FundingBase       float64
	FundingAmplitude  float64
	FundingCycleSteps int

	BaseFeeAPR   float64 // percent
	IncentiveAPR float64 // percent
	PoolFeeTier  float64 // fraction

	GasPriceGwei float64
	RefPrice     float64
	OpenInterest float64
	HealthFactor float64

	Seed int64
}

func (c MarketConfig) withDefaults() MarketConfig {
	if c.InitialPrice == 0 {
		c.InitialPrice = 1
	}
	if c.FundingCycleSteps == 0 {
		c.FundingCycleSteps = 24
	}
	if c.OpenInterest == 0 {
		c.OpenInterest = 1_000_000
	}
	if c.HealthFactor == 0 {
		c.HealthFactor = 2
	}
	if c.RefPrice == 0 {
		c.RefPrice = c.InitialPrice
	}
	return c
}

// Market generates the snapshot series for one asset. Not safe for
// concurrent use; the run loop owns it.
type Market struct {
	cfg   MarketConfig
	rng   *rand.Rand
	price float64
	step  int
}

// NewMarket creates a seeded synthetic market.
func NewMarket(cfg MarketConfig) *Market {
	cfg = cfg.withDefaults()
	return &Market{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		price: cfg.InitialPrice,
	}
}

// Asset returns the asset this market generates.
func (m *Market) Asset() string { return m.cfg.Asset }

// Next advances the walk by dtYears and returns the snapshot at the
// new state, stamped with nowMs.
func (m *Market) Next(nowMs int64, dtYears float64) domain.MarketSnapshot {
	if m.step > 0 {
		drift := m.cfg.Drift / 100
		vol := m.cfg.Volatility
		z := m.rng.NormFloat64()
		m.price *= math.Exp((drift-0.5*vol*vol)*dtYears + vol*math.Sqrt(dtYears)*z)
	}

	phase := 2 * math.Pi * float64(m.step) / float64(m.cfg.FundingCycleSteps)
	noise := m.cfg.FundingAmplitude * 0.1 * m.rng.NormFloat64()
	rate := m.cfg.FundingBase + m.cfg.FundingAmplitude*math.Sin(phase) + noise

	// The predicted rate looks one step ahead on the cycle, without
	// the noise term.
	nextPhase := 2 * math.Pi * float64(m.step+1) / float64(m.cfg.FundingCycleSteps)
	predicted := m.cfg.FundingBase + m.cfg.FundingAmplitude*math.Sin(nextPhase)

	m.step++

	return domain.MarketSnapshot{
		Asset:                m.cfg.Asset,
		TimestampMs:          nowMs,
		Price:                m.price,
		Volatility:           m.cfg.Volatility,
		Drift:                m.cfg.Drift,
		FundingRate:          rate,
		PredictedFundingRate: predicted,
		OpenInterest:         m.cfg.OpenInterest,
		BaseFeeAPR:           m.cfg.BaseFeeAPR,
		IncentiveAPR:         m.cfg.IncentiveAPR,
		PoolFeeTier:          m.cfg.PoolFeeTier,
		GasPriceGwei:         m.cfg.GasPriceGwei,
		RefPrice:             m.cfg.RefPrice,
		HealthFactor:         m.cfg.HealthFactor,
	}
}
