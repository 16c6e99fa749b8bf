// Package strategy defines the strategy boundary of the kernel and ships a few
// reference strategies. Strategies are built from an explicit Registry.
package strategy

import (
	"sort"
	"time"

	"backtest/internal/execution"
	"backtest/internal/indicator"
	"backtest/internal/schema"
)

// Context is the read-only view a strategy sees on each tick.
type Context struct {
	Ts         time.Time
	Bars       map[string]schema.Bar
	Indicators map[string]indicator.Snapshot
	// Positions holds signed open quantities, pending orders included.
	Positions map[string]float64
	// IntrabarMode breaks ties when one bar reaches both a stop and a target.
	IntrabarMode execution.IntrabarMode
}

// Symbols returns the symbols with a bar this tick in sorted order.
func (c Context) Symbols() []string {
	out := make([]string, 0, len(c.Bars))
	for sym := range c.Bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Position returns the signed quantity held in symbol.
func (c Context) Position(symbol string) float64 {
	return c.Positions[symbol]
}

// Indicator returns the reading of name for symbol.
func (c Context) Indicator(symbol, name string) indicator.Value {
	return c.Indicators[symbol].Get(name)
}

// Strategy produces signals from the bars of one tick.
type Strategy interface {
	Name() string
	OnBars(ctx Context) []schema.Signal
}

// IndicatorUser is implemented by strategies that need indicators computed.
type IndicatorUser interface {
	Indicators() []indicator.Factory
}

// ConflictResolver collapses the signals of one tick.
type ConflictResolver interface {
	Resolve(signals []schema.Signal) []schema.Signal
}

// HighestConfidence keeps one signal per symbol: the highest confidence, the
// earliest on ties. Output keeps the order in which symbols first appeared.
type HighestConfidence struct{}

func (HighestConfidence) Resolve(signals []schema.Signal) []schema.Signal {
	if len(signals) < 2 {
		return signals
	}
	best := make(map[string]int, len(signals))
	order := make([]string, 0, len(signals))
	for i, sig := range signals {
		j, ok := best[sig.Symbol]
		if !ok {
			best[sig.Symbol] = i
			order = append(order, sig.Symbol)
			continue
		}
		if sig.Confidence > signals[j].Confidence {
			best[sig.Symbol] = i
		}
	}
	out := make([]schema.Signal, 0, len(order))
	for _, sym := range order {
		out = append(out, signals[best[sym]])
	}
	return out
}
