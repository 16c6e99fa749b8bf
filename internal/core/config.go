package core

import (
	"math"

	"github.com/yanun0323/errors"

	"backtest/internal/state"
	"backtest/pkg/exception"
)

// Config controls the account and the tick loop.
type Config struct {
	InitialCash float64 `yaml:"initial_cash" validate:"gt=0"`
	MaxLeverage float64 `yaml:"max_leverage" validate:"gt=0"`
	// AllowLiquidation enables forced liquidation on negative free margin.
	// When false, a non-close fill leaving free margin negative aborts the run.
	AllowLiquidation   bool    `yaml:"allow_liquidation"`
	DustEpsilon        float64 `yaml:"dust_epsilon" validate:"gte=0"`
	InvariantTolerance float64 `yaml:"invariant_tolerance" validate:"gte=0"`
}

// DefaultConfig returns a 1x account with liquidation enabled.
func DefaultConfig() Config {
	return Config{
		InitialCash:        100_000,
		MaxLeverage:        1,
		AllowLiquidation:   true,
		DustEpsilon:        state.DefaultDustEpsilon,
		InvariantTolerance: state.DefaultInvariantTolerance,
	}
}

func (c Config) withDefaults() Config {
	if c.DustEpsilon == 0 {
		c.DustEpsilon = state.DefaultDustEpsilon
	}
	if c.InvariantTolerance == 0 {
		c.InvariantTolerance = state.DefaultInvariantTolerance
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if !(c.InitialCash > 0) || math.IsInf(c.InitialCash, 0) {
		return errors.Wrapf(exception.ErrConfiguration, "engine.initial_cash %v must be finite and > 0", c.InitialCash)
	}
	if !(c.MaxLeverage > 0) || math.IsInf(c.MaxLeverage, 0) {
		return errors.Wrapf(exception.ErrConfiguration, "engine.max_leverage %v must be finite and > 0", c.MaxLeverage)
	}
	if c.DustEpsilon < 0 || c.InvariantTolerance < 0 {
		return errors.Wrap(exception.ErrConfiguration, "engine.dust_epsilon and engine.invariant_tolerance must be >= 0")
	}
	return nil
}
