package execution

import (
	"math"

	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

// IntrabarMode picks a fill price inside a bar's high-low range.
type IntrabarMode string

const (
	IntrabarWorstCase IntrabarMode = "worst_case"
	IntrabarBestCase  IntrabarMode = "best_case"
	IntrabarMidpoint  IntrabarMode = "midpoint"
)

// SpreadMode controls the half-spread charged against each fill.
type SpreadMode string

const (
	SpreadNone          SpreadMode = "none"
	SpreadFixedBps      SpreadMode = "fixed_bps"
	SpreadBarRangeProxy SpreadMode = "bar_range_proxy"
)

// Config controls fill simulation.
type Config struct {
	IntrabarMode IntrabarMode `yaml:"intrabar_mode" validate:"omitempty,oneof=worst_case best_case midpoint"`
	SpreadMode   SpreadMode   `yaml:"spread_mode" validate:"omitempty,oneof=none fixed_bps bar_range_proxy"`
	SpreadBps    float64      `yaml:"spread_bps" validate:"gte=0"`
	// DelayBars is the number of bars an order waits before it can fill.
	DelayBars int `yaml:"delay_bars" validate:"gte=0"`
}

// DefaultConfig returns worst-case fills with no spread and no delay.
func DefaultConfig() Config {
	return Config{
		IntrabarMode: IntrabarWorstCase,
		SpreadMode:   SpreadNone,
	}
}

func (c Config) withDefaults() Config {
	if c.IntrabarMode == "" {
		c.IntrabarMode = IntrabarWorstCase
	}
	if c.SpreadMode == "" {
		c.SpreadMode = SpreadNone
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	switch c.IntrabarMode {
	case IntrabarWorstCase, IntrabarBestCase, IntrabarMidpoint:
	default:
		return errors.Wrapf(exception.ErrConfiguration, "execution.intrabar_mode %q is not one of worst_case, best_case, midpoint", c.IntrabarMode)
	}
	switch c.SpreadMode {
	case SpreadNone, SpreadBarRangeProxy:
	case SpreadFixedBps:
		if c.SpreadBps <= 0 {
			return errors.Wrapf(exception.ErrConfiguration, "execution.spread_bps %v must be > 0 when execution.spread_mode is fixed_bps", c.SpreadBps)
		}
	default:
		return errors.Wrapf(exception.ErrConfiguration, "execution.spread_mode %q is not one of none, fixed_bps, bar_range_proxy", c.SpreadMode)
	}
	if c.SpreadBps < 0 || math.IsNaN(c.SpreadBps) || math.IsInf(c.SpreadBps, 0) {
		return errors.Wrapf(exception.ErrConfiguration, "execution.spread_bps %v must be finite and >= 0", c.SpreadBps)
	}
	if c.DelayBars < 0 {
		return errors.Wrapf(exception.ErrConfiguration, "execution.delay_bars %d must be >= 0", c.DelayBars)
	}
	return nil
}
