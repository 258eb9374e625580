package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"delta-keeper/internal/optimizer"
	"delta-keeper/internal/result"
)

// Kind discriminates strategy configurations.
type Kind string

const (
	KindFundingRate Kind = "FUNDING_RATE"
	KindStablePair  Kind = "STABLE_PAIR"
)

// MaxLeverage caps funding-strategy leverage at a venue-safe level.
const MaxLeverage = 5.0

var (
	ErrUnknownKind   = errors.New("unknown strategy kind")
	ErrInvalidConfig = errors.New("invalid strategy config")
)

// Config is one strategy definition as loaded from configuration: a
// kind plus that kind's parameter block.
type Config struct {
	Kind    Kind
	Funding *FundingConfig
	Stable  *StablePairConfig
}

// New builds the strategy named by cfg.Kind. Parameter validation
// reports every violation at once rather than stopping at the first.
func New(cfg Config, deps Deps) (Strategy, error) {
	switch cfg.Kind {
	case KindFundingRate:
		return newFundingFromConfig(cfg.Funding, deps)
	case KindStablePair:
		return newStableFromConfig(cfg.Stable, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func newFundingFromConfig(cfg *FundingConfig, deps Deps) (Strategy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: funding parameter block missing", ErrInvalidConfig)
	}
	c := *cfg
	if c.Leverage == 0 {
		c.Leverage = 1
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("funding-%s", strings.ToLower(c.Asset))
	}

	checks := []result.Result[string]{
		cond("asset", c.Asset != "", "must be set"),
		cond("min_funding_threshold", positiveFinite(c.MinFundingThreshold), "must be a finite value > 0"),
		cond("position_size_usd", positiveFinite(c.PositionSizeUSD), "must be a finite value > 0"),
		cond("leverage", positiveFinite(c.Leverage) && c.Leverage <= MaxLeverage,
			fmt.Sprintf("must be in (0, %g]", MaxLeverage)),
	}
	if err := result.Combine(checks).Err(); err != nil {
		return nil, fmt.Errorf("%w for %q: %w", ErrInvalidConfig, c.ID, err)
	}
	return NewFundingRate(c, deps), nil
}

func newStableFromConfig(cfg *StablePairConfig, deps Deps) (Strategy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: stable pair parameter block missing", ErrInvalidConfig)
	}
	c := *cfg
	if c.ID == "" {
		c.ID = fmt.Sprintf("stable-%s", strings.ToLower(c.Asset))
	}

	checks := []result.Result[string]{
		cond("asset", c.Asset != "", "must be set"),
		cond("notional_usd", positiveFinite(c.NotionalUSD), "must be a finite value > 0"),
		cond("min_health_factor", c.MinHealthFactor == 0 || positiveFinite(c.MinHealthFactor),
			"must be zero or a finite value > 0"),
		cond("min_net_apy", !math.IsNaN(c.MinNetAPY) && !math.IsInf(c.MinNetAPY, 0),
			"must be a finite value"),
		cond("harvest_interval", c.HarvestInterval >= 0, "must not be negative"),
		cond("bounds", validBounds(c.Bounds), "min width must be positive and below max width"),
	}
	if err := result.Combine(checks).Err(); err != nil {
		return nil, fmt.Errorf("%w for %q: %w", ErrInvalidConfig, c.ID, err)
	}
	return NewStablePair(c, deps), nil
}

func cond(field string, ok bool, msg string) result.Result[string] {
	if !ok {
		return result.Err[string](fmt.Errorf("%s %s", field, msg))
	}
	return result.Ok(field)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// validBounds accepts the zero value (the optimizer derives defaults
// from volatility) or a fully specified positive search space.
func validBounds(b optimizer.Bounds) bool {
	if b == (optimizer.Bounds{}) {
		return true
	}
	return positiveFinite(b.MinWidth) && positiveFinite(b.MaxWidth) && b.MinWidth < b.MaxWidth && b.Step >= 0
}
