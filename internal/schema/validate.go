package schema

import (
	"math"
	"time"

	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func isUTC(ts time.Time) bool {
	return !ts.IsZero() && ts.Location() == time.UTC
}

// Validate checks the OHLCV invariants of a bar.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.Wrap(exception.ErrValidation, "bar symbol is empty")
	}
	if !isUTC(b.Ts) {
		return errors.Wrapf(exception.ErrValidation, "bar %s: timestamp %v is not UTC", b.Symbol, b.Ts)
	}
	if !finite(b.Open, b.High, b.Low, b.Close, b.Volume) {
		return errors.Wrapf(exception.ErrValidation, "bar %s at %s: non-finite field", b.Symbol, b.Ts.Format(time.RFC3339))
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.Wrapf(exception.ErrValidation, "bar %s at %s: prices must be > 0", b.Symbol, b.Ts.Format(time.RFC3339))
	}
	if b.Low > math.Min(b.Open, b.Close) {
		return errors.Wrapf(exception.ErrValidation, "bar %s at %s: low %v above min(open, close)", b.Symbol, b.Ts.Format(time.RFC3339), b.Low)
	}
	if b.High < math.Max(b.Open, b.Close) {
		return errors.Wrapf(exception.ErrValidation, "bar %s at %s: high %v below max(open, close)", b.Symbol, b.Ts.Format(time.RFC3339), b.High)
	}
	if b.Volume < 0 {
		return errors.Wrapf(exception.ErrValidation, "bar %s at %s: volume %v is negative", b.Symbol, b.Ts.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// Validate checks signal fields at the strategy boundary.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return errors.Wrap(exception.ErrValidation, "signal symbol is empty")
	}
	if !s.Ts.IsZero() && s.Ts.Location() != time.UTC {
		return errors.Wrapf(exception.ErrValidation, "signal %s: timestamp %v is not UTC", s.Symbol, s.Ts)
	}
	if !finite(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return errors.Wrapf(exception.ErrValidation, "signal %s: confidence %v outside [0, 1]", s.Symbol, s.Confidence)
	}
	switch stop := s.Meta.Stop.(type) {
	case nil, HybridStop:
	case ExplicitStop:
		if !finite(stop.Price) || stop.Price <= 0 {
			return errors.Wrapf(exception.ErrValidation, "signal %s: meta.stop explicit price %v must be finite and > 0", s.Symbol, stop.Price)
		}
	case StructuralStop:
		if !finite(stop.Price) || stop.Price <= 0 {
			return errors.Wrapf(exception.ErrValidation, "signal %s: meta.stop structural price %v must be finite and > 0", s.Symbol, stop.Price)
		}
	case ATRStop:
		if !finite(stop.Multiple) || stop.Multiple <= 0 {
			return errors.Wrapf(exception.ErrValidation, "signal %s: meta.stop atr multiple %v must be finite and > 0", s.Symbol, stop.Multiple)
		}
	}
	return nil
}
