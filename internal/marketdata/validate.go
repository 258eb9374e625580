package marketdata

import (
	"errors"
	"fmt"
	"math"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/result"
)

// Validate checks every field constraint on a snapshot and aggregates
// all violations into one error, so a feed bug corrupting several
// fields is reported in full rather than one field at a time.
func Validate(snap *domain.MarketSnapshot) error {
	checks := []result.Result[string]{
		check("asset", func() error {
			if snap.Asset == "" {
				return errors.New("required")
			}
			return nil
		}),
		check("timestamp_ms", func() error {
			if snap.TimestampMs <= 0 {
				return fmt.Errorf("must be positive, got %d", snap.TimestampMs)
			}
			return nil
		}),
		check("price", func() error {
			_, err := domain.PriceFromFloat(snap.Price)
			return err
		}),
		check("volatility", func() error {
			_, err := domain.NewVolatility(snap.Volatility)
			return err
		}),
		check("drift", func() error {
			_, err := domain.NewDriftVelocity(snap.Drift)
			return err
		}),
		check("funding_rate", finite(snap.FundingRate)),
		check("predicted_funding_rate", finite(snap.PredictedFundingRate)),
		check("open_interest", nonNegative(snap.OpenInterest)),
		check("base_fee_apr", func() error {
			_, err := domain.NewAPR(snap.BaseFeeAPR)
			return err
		}),
		check("incentive_apr", func() error {
			_, err := domain.NewAPR(snap.IncentiveAPR)
			return err
		}),
		check("pool_fee_tier", func() error {
			if math.IsNaN(snap.PoolFeeTier) || snap.PoolFeeTier < 0 || snap.PoolFeeTier >= 1 {
				return fmt.Errorf("must be a fraction in [0, 1), got %v", snap.PoolFeeTier)
			}
			return nil
		}),
		check("gas_price_gwei", nonNegative(snap.GasPriceGwei)),
		check("ref_price", nonNegative(snap.RefPrice)),
		check("health_factor", func() error {
			// Zero means the money-market leg is not reported.
			if snap.HealthFactor == 0 {
				return nil
			}
			_, err := domain.NewHealthFactor(snap.HealthFactor)
			return err
		}),
	}

	if err := result.Combine(checks).Err(); err != nil {
		return fmt.Errorf("invalid snapshot for %q: %w", snap.Asset, err)
	}
	return nil
}

func check(field string, fn func() error) result.Result[string] {
	if err := fn(); err != nil {
		return result.Err[string](fmt.Errorf("%s: %w", field, err))
	}
	return result.Ok(field)
}

func finite(v float64) func() error {
	return func() error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("must be finite, got %v", v)
		}
		return nil
	}
}

func nonNegative(v float64) func() error {
	return func() error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("must be finite and non-negative, got %v", v)
		}
		return nil
	}
}
