package risk

import (
	"math"

	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

// StopResolution controls what happens when an entry carries no usable stop.
type StopResolution string

const (
	StopResolutionStrict StopResolution = "strict"
	StopResolutionSafe   StopResolution = "safe"
)

// Rounding controls how sized quantities are rounded to the 1e-8 grid.
type Rounding string

const (
	RoundingNone  Rounding = "none"
	RoundingFloor Rounding = "floor"
	RoundingRound Rounding = "round"
)

const qtyStep = 1e-8

// Config defines sizing and admission limits.
type Config struct {
	// RPerTrade is the fraction of equity risked per entry.
	RPerTrade float64 `yaml:"r_per_trade" validate:"gte=0,lte=1"`
	// StopFloor is the minimum stop distance used for sizing.
	StopFloor float64  `yaml:"stop_floor" validate:"gte=0"`
	Rounding  Rounding `yaml:"rounding" validate:"omitempty,oneof=none floor round"`

	MaxPositions         int     `yaml:"max_positions" validate:"gte=0"`
	MaxNotionalPerSymbol float64 `yaml:"max_notional_per_symbol" validate:"gte=0"`
	MaxNotionalPctEquity float64 `yaml:"max_notional_pct_equity" validate:"gte=0"`

	MarginBufferTier int     `yaml:"margin_buffer_tier" validate:"omitempty,min=1,max=3"`
	FeeBps           float64 `yaml:"fee_bps" validate:"gte=0"`
	SlippageBps      float64 `yaml:"slippage_bps" validate:"gte=0"`
	AdverseMoveBps   float64 `yaml:"adverse_move_bps" validate:"gte=0"`

	StopResolution  StopResolution `yaml:"stop_resolution" validate:"omitempty,oneof=strict safe"`
	LegacyStopProxy bool           `yaml:"legacy_stop_proxy"`
}

// DefaultConfig returns strict stop resolution risking 1% per trade.
func DefaultConfig() Config {
	return Config{
		RPerTrade:        0.01,
		Rounding:         RoundingNone,
		MarginBufferTier: 1,
		StopResolution:   StopResolutionStrict,
	}
}

func (c Config) withDefaults() Config {
	if c.Rounding == "" {
		c.Rounding = RoundingNone
	}
	if c.MarginBufferTier == 0 {
		c.MarginBufferTier = 1
	}
	if c.StopResolution == "" {
		c.StopResolution = StopResolutionStrict
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"risk.r_per_trade", c.RPerTrade},
		{"risk.stop_floor", c.StopFloor},
		{"risk.max_notional_per_symbol", c.MaxNotionalPerSymbol},
		{"risk.max_notional_pct_equity", c.MaxNotionalPctEquity},
		{"risk.fee_bps", c.FeeBps},
		{"risk.slippage_bps", c.SlippageBps},
		{"risk.adverse_move_bps", c.AdverseMoveBps},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return errors.Wrapf(exception.ErrConfiguration, "%s %v must be finite and >= 0", f.name, f.v)
		}
	}
	if c.RPerTrade > 1 {
		return errors.Wrapf(exception.ErrConfiguration, "risk.r_per_trade %v must be <= 1", c.RPerTrade)
	}
	switch c.Rounding {
	case RoundingNone, RoundingFloor, RoundingRound:
	default:
		return errors.Wrapf(exception.ErrConfiguration, "risk.rounding %q is not one of none, floor, round", c.Rounding)
	}
	if c.MaxPositions < 0 {
		return errors.Wrapf(exception.ErrConfiguration, "risk.max_positions %d must be >= 0", c.MaxPositions)
	}
	if c.MarginBufferTier < 1 || c.MarginBufferTier > 3 {
		return errors.Wrapf(exception.ErrConfiguration, "risk.margin_buffer_tier %d must be 1, 2 or 3", c.MarginBufferTier)
	}
	switch c.StopResolution {
	case StopResolutionStrict:
		if c.LegacyStopProxy {
			return errors.Wrap(exception.ErrConfiguration, "risk.legacy_stop_proxy requires risk.stop_resolution=safe")
		}
	case StopResolutionSafe:
	default:
		return errors.Wrapf(exception.ErrConfiguration, "risk.stop_resolution %q is not one of strict, safe", c.StopResolution)
	}
	return nil
}
