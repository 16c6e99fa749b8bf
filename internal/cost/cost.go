// Package cost holds the fee and slippage models the execution model calls
// for every fill. Costs are returned in quote currency.
package cost

import (
	"math"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

const bpsUnit = 1e-4

// FeeModel returns the fee charged on a fill of qty units worth notional.
type FeeModel interface {
	Fee(notional, qty float64) float64
}

// SlippageModel returns the total slippage cost of a fill of qty units worth
// notional against bar.
type SlippageModel interface {
	Cost(notional, qty float64, bar schema.Bar) float64
}

// BpsFee charges a fixed rate in basis points of notional.
type BpsFee struct {
	Bps float64
}

func (f BpsFee) Fee(notional, _ float64) float64 {
	return math.Abs(notional) * f.Bps * bpsUnit
}

// NoSlippage never moves the price.
type NoSlippage struct{}

func (NoSlippage) Cost(float64, float64, schema.Bar) float64 { return 0 }

// FixedBpsSlippage costs a fixed rate in basis points of notional.
type FixedBpsSlippage struct {
	Bps float64
}

func (s FixedBpsSlippage) Cost(notional, _ float64, _ schema.Bar) float64 {
	return math.Abs(notional) * s.Bps * bpsUnit
}

// VolumeSlippage scales a base rate by the share of the bar volume taken.
// A bar without volume costs the base rate.
type VolumeSlippage struct {
	Bps    float64
	Impact float64
}

func (s VolumeSlippage) Cost(notional, qty float64, bar schema.Bar) float64 {
	rate := s.Bps
	if bar.Volume > 0 {
		rate += s.Impact * math.Abs(qty) / bar.Volume
	}
	return math.Abs(notional) * rate * bpsUnit
}

// Slippage model names accepted by NewSlippageModel.
const (
	SlippageNone     = "none"
	SlippageFixedBps = "fixed_bps"
	SlippageVolume   = "volume"
)

// Config selects the cost models of a run.
type Config struct {
	FeeBps         float64 `yaml:"fee_bps" validate:"gte=0"`
	SlippageModel  string  `yaml:"slippage_model" validate:"omitempty,oneof=none fixed_bps volume"`
	SlippageBps    float64 `yaml:"slippage_bps" validate:"gte=0"`
	SlippageImpact float64 `yaml:"slippage_impact" validate:"gte=0"`
}

// NewFeeModel builds the fee model for cfg.
func NewFeeModel(cfg Config) (FeeModel, error) {
	if cfg.FeeBps < 0 || math.IsNaN(cfg.FeeBps) || math.IsInf(cfg.FeeBps, 0) {
		return nil, errors.Wrapf(exception.ErrConfiguration, "cost.fee_bps %v must be finite and >= 0", cfg.FeeBps)
	}
	return BpsFee{Bps: cfg.FeeBps}, nil
}

// NewSlippageModel builds the slippage model for cfg.
func NewSlippageModel(cfg Config) (SlippageModel, error) {
	if cfg.SlippageBps < 0 || cfg.SlippageImpact < 0 {
		return nil, errors.Wrap(exception.ErrConfiguration, "cost.slippage_bps and cost.slippage_impact must be >= 0")
	}
	switch cfg.SlippageModel {
	case "", SlippageNone:
		return NoSlippage{}, nil
	case SlippageFixedBps:
		return FixedBpsSlippage{Bps: cfg.SlippageBps}, nil
	case SlippageVolume:
		return VolumeSlippage{Bps: cfg.SlippageBps, Impact: cfg.SlippageImpact}, nil
	default:
		return nil, errors.Wrapf(exception.ErrConfiguration, "cost.slippage_model %q is not one of none, fixed_bps, volume", cfg.SlippageModel)
	}
}
