package risk

import (
	"strings"

	"github.com/yanun0323/errors"

	"backtest/internal/indicator"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

const defaultATRIndicator = "atr"

// stopResult is the outcome of the stop resolution protocol for one entry.
type stopResult struct {
	distance float64
	source   schema.StopSource
	legacy   bool
	reason   schema.Reason
}

func (r stopResult) resolved() bool {
	return r.reason == ""
}

// IsExit reports whether a signal only reduces exposure. Exit signals bypass
// stop resolution and always become close-only orders.
func IsExit(signal schema.Signal) bool {
	if signal.Meta.ReduceOnly || signal.Meta.CloseOnly {
		return true
	}
	t := strings.ToLower(signal.Type)
	return strings.HasSuffix(t, "exit") || strings.HasSuffix(t, "_close") || t == "close"
}

// resolveStop returns the stop distance for an entry at price entry. Errors are
// returned only for hybrid stops and for strict mode without a stop.
func (e *Engine) resolveStop(signal schema.Signal, bar schema.Bar, entry float64, indicators indicator.Snapshot) (stopResult, error) {
	switch stop := signal.Meta.Stop.(type) {
	case schema.ExplicitStop:
		return priceStop(signal.Side, entry, stop.Price, schema.StopSourceExplicit), nil
	case schema.StructuralStop:
		return priceStop(signal.Side, entry, stop.Price, schema.StopSourceStructural), nil
	case schema.ATRStop:
		name := stop.Indicator
		if name == "" {
			name = defaultATRIndicator
		}
		v := indicators.Get(name)
		if !v.Ready || !(v.Value > 0) || !(stop.Multiple > 0) {
			return stopResult{reason: schema.ReasonATRNotReady}, nil
		}
		return stopResult{distance: stop.Multiple * v.Value, source: schema.StopSourceATR}, nil
	case schema.HybridStop:
		return stopResult{reason: schema.ReasonStopNotSupported},
			errors.Wrapf(exception.ErrNotSupported, "signal %s: signal.meta.stop kind hybrid is not implemented; use explicit, structural or atr", signal.Symbol)
	case nil:
		return e.unresolvedStop(signal, bar)
	default:
		return stopResult{reason: schema.ReasonStopUnresolved}, nil
	}
}

func (e *Engine) unresolvedStop(signal schema.Signal, bar schema.Bar) (stopResult, error) {
	switch {
	case e.cfg.StopResolution == StopResolutionStrict:
		return stopResult{reason: schema.ReasonStrictStopMissing},
			errors.Wrapf(exception.ErrStopUnresolved,
				"signal %s %s (%s): signal.meta.stop is missing; attach an explicit, structural or atr stop, or set risk.stop_resolution=safe with risk.legacy_stop_proxy=true",
				signal.Symbol, signal.Side, signal.Type)
	case e.cfg.LegacyStopProxy:
		return stopResult{distance: bar.Range(), source: schema.StopSourceLegacyProxy, legacy: true}, nil
	default:
		return stopResult{reason: schema.ReasonStopUnresolved}, nil
	}
}

// priceStop resolves an absolute stop price, which must sit on the loss side of entry.
func priceStop(side schema.Side, entry, stop float64, source schema.StopSource) stopResult {
	if !(stop > 0) {
		return stopResult{reason: schema.ReasonStopUnresolved}
	}
	distance := (entry - stop) * side.Sign()
	if distance <= 0 {
		return stopResult{reason: schema.ReasonStopWrongSide}
	}
	return stopResult{distance: distance, source: source}
}
