package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Validation errors for value type constructors.
// Construction failures are fatal to the calling operation and never retried.
var (
	ErrInvalidAmount       = errors.New("amount must be a finite value >= 0")
	ErrInvalidPrice        = errors.New("price must be a finite value > 0")
	ErrInvalidAPR          = errors.New("apr must be a finite value")
	ErrInvalidVolatility   = errors.New("volatility must be a finite value >= 0")
	ErrInvalidDrift        = errors.New("drift velocity must be a finite value")
	ErrInvalidHealthFactor = errors.New("health factor must be a finite value > 0")
	ErrInvalidPeriods      = errors.New("periods per year must be > 0")
)

// TradingDaysPerYear is the day-count convention used to de-annualize volatility.
const TradingDaysPerYear = 252

// Amount is a non-negative quantity of an asset.
// Immutable: arithmetic returns new instances.
type Amount struct {
	d decimal.Decimal
}

// NewAmount validates and wraps a decimal quantity.
func NewAmount(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %s", ErrInvalidAmount, d)
	}
	return Amount{d: d}, nil
}

// AmountFromFloat validates and converts a float quantity.
func AmountFromFloat(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, f)
	}
	return Amount{d: decimal.NewFromFloat(f)}, nil
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// Float returns the quantity as float64 (lossy for very large values).
func (a Amount) Float() float64 { return a.d.InexactFloat64() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// Add returns the sum of two amounts.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// MulPrice returns the notional value amount x price.
func (a Amount) MulPrice(p Price) decimal.Decimal { return a.d.Mul(p.d) }

// String implements fmt.Stringer.
func (a Amount) String() string { return a.d.String() }

// Price is a strictly positive asset price.
// Immutable: arithmetic returns new instances.
type Price struct {
	d decimal.Decimal
}

// NewPrice validates and wraps a decimal price.
func NewPrice(d decimal.Decimal) (Price, error) {
	if !d.IsPositive() {
		return Price{}, fmt.Errorf("%w: %s", ErrInvalidPrice, d)
	}
	return Price{d: d}, nil
}

// PriceFromFloat validates and converts a float price.
func PriceFromFloat(f float64) (Price, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return Price{}, fmt.Errorf("%w: %v", ErrInvalidPrice, f)
	}
	return Price{d: decimal.NewFromFloat(f)}, nil
}

// Decimal returns the underlying decimal value.
func (p Price) Decimal() decimal.Decimal { return p.d }

// Float returns the price as float64.
func (p Price) Float() float64 { return p.d.InexactFloat64() }

// Sub returns the signed difference p - q as a decimal.
func (p Price) Sub(q Price) decimal.Decimal { return p.d.Sub(q.d) }

// String implements fmt.Stringer.
func (p Price) String() string { return p.d.String() }

// APR is an annualized percentage rate. Sign carries meaning: negative
// funding APR means the position pays funding.
type APR struct {
	pct float64
}

// NewAPR validates an APR given in percent (5.0 = 5%/year).
func NewAPR(pct float64) (APR, error) {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return APR{}, fmt.Errorf("%w: %v", ErrInvalidAPR, pct)
	}
	return APR{pct: pct}, nil
}

// APRFromFraction validates an APR given as a decimal fraction (0.05 = 5%/year).
func APRFromFraction(f float64) (APR, error) {
	return NewAPR(f * 100)
}

// Percent returns the rate in percent per year.
func (a APR) Percent() float64 { return a.pct }

// Fraction returns the rate as a decimal fraction per year.
func (a APR) Fraction() float64 { return a.pct / 100 }

// PeriodReturn converts the annual rate to a simple per-period return fraction.
func (a APR) PeriodReturn(periodsPerYear float64) (float64, error) {
	if periodsPerYear <= 0 || math.IsNaN(periodsPerYear) || math.IsInf(periodsPerYear, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPeriods, periodsPerYear)
	}
	return a.Fraction() / periodsPerYear, nil
}

// Volatility is an annualized volatility as a non-negative fraction
// (0.60 = 60%/year).
type Volatility struct {
	f float64
}

// NewVolatility validates an annualized volatility fraction.
func NewVolatility(f float64) (Volatility, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Volatility{}, fmt.Errorf("%w: %v", ErrInvalidVolatility, f)
	}
	return Volatility{f: f}, nil
}

// Fraction returns the annualized volatility as a fraction.
func (v Volatility) Fraction() float64 { return v.f }

// Percent returns the annualized volatility in percent.
func (v Volatility) Percent() float64 { return v.f * 100 }

// Daily de-annualizes using the trading-day convention.
func (v Volatility) Daily() float64 { return v.f / math.Sqrt(TradingDaysPerYear) }

// DriftVelocity is a signed directional price drift in percent per year.
type DriftVelocity struct {
	pct float64
}

// NewDriftVelocity validates a drift velocity in percent per year.
func NewDriftVelocity(pct float64) (DriftVelocity, error) {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return DriftVelocity{}, fmt.Errorf("%w: %v", ErrInvalidDrift, pct)
	}
	return DriftVelocity{pct: pct}, nil
}

// Percent returns the signed drift in percent per year.
func (d DriftVelocity) Percent() float64 { return d.pct }

// Abs returns the drift magnitude in percent per year.
func (d DriftVelocity) Abs() float64 { return math.Abs(d.pct) }

// Fraction returns the signed drift as a fraction per year.
func (d DriftVelocity) Fraction() float64 { return d.pct / 100 }

// HealthFactor is a money-market loan health metric. Values at or below
// 1.0 mean the loan is eligible for liquidation; the constructor only
// requires positivity, policy thresholds live in strategy config.
type HealthFactor struct {
	f float64
}

// NewHealthFactor validates a health factor.
func NewHealthFactor(f float64) (HealthFactor, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return HealthFactor{}, fmt.Errorf("%w: %v", ErrInvalidHealthFactor, f)
	}
	return HealthFactor{f: f}, nil
}

// Float returns the health factor value.
func (h HealthFactor) Float() float64 { return h.f }
