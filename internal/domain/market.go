package domain

// MarketSnapshot is the point-in-time market state for one asset, as
// assembled from the feed and auxiliary providers. The zero value is a
// valid empty snapshot.
type MarketSnapshot struct {
	Asset       string
	TimestampMs int64

	Price      float64
	Volatility float64 // annualized fraction
	Drift      float64 // percent per year, signed

	FundingRate          float64 // per funding period, fraction (0.0001 = 1bp)
	PredictedFundingRate float64
	OpenInterest         float64

	BaseFeeAPR   float64 // percent, pool trading-fee yield at reference width
	IncentiveAPR float64 // percent
	PoolFeeTier  float64 // fraction, e.g. 0.0005

	GasPriceGwei float64
	RefPrice     float64 // price of the gas asset in quote currency

	HealthFactor float64 // money-market loan health, 0 when not reported
}

// FundingInfo is the funding-rate view returned by funding data providers.
type FundingInfo struct {
	Asset         string
	Rate          float64 // current rate per funding period
	PredictedRate float64
	OpenInterest  float64
	TimestampMs   int64
}

// FundingSample is one funding observation journaled to the time-series
// store.
type FundingSample struct {
	Asset         string
	TimestampMs   int64
	Rate          float64
	PredictedRate float64
	OpenInterest  float64
	MarkPrice     float64
}

// FundingPeriodsPerDay is the venue funding cadence (8h periods).
const FundingPeriodsPerDay = 3

// AnnualizeFundingRate converts a per-period funding rate to a simple
// (non-compounded) APY in percent.
func AnnualizeFundingRate(rate float64) float64 {
	return rate * FundingPeriodsPerDay * 365 * 100
}
