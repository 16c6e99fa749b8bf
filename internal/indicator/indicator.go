// Package indicator computes rolling technical indicators over bars and exposes
// them as a named snapshot with readiness flags.
package indicator

import (
	"math"
	"sort"

	"backtest/internal/schema"
)

// Value is one indicator reading. Ready is false until the lookback is filled.
type Value struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// Snapshot maps indicator names to readings for one symbol.
type Snapshot map[string]Value

// Get returns the reading for name, or a not-ready zero value.
func (s Snapshot) Get(name string) Value {
	if s == nil {
		return Value{}
	}
	return s[name]
}

// Indicator is a rolling computation fed one bar at a time.
type Indicator interface {
	Name() string
	Update(bar schema.Bar)
	Value() Value
}

// ATR is Wilder's average true range.
type ATR struct {
	name      string
	period    int
	count     int
	prevClose float64
	sum       float64
	value     float64
}

// NewATR creates an ATR over period bars.
func NewATR(name string, period int) *ATR {
	if period <= 0 {
		period = 14
	}
	if name == "" {
		name = "atr"
	}
	return &ATR{name: name, period: period}
}

func (a *ATR) Name() string { return a.name }

func (a *ATR) Update(bar schema.Bar) {
	tr := bar.Range()
	if a.count > 0 {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	}
	a.prevClose = bar.Close
	a.count++
	switch {
	case a.count < a.period:
		a.sum += tr
	case a.count == a.period:
		a.sum += tr
		a.value = a.sum / float64(a.period)
	default:
		a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	}
}

func (a *ATR) Value() Value {
	return Value{Value: a.value, Ready: a.count >= a.period}
}

// SMA is a simple moving average of closes.
type SMA struct {
	name   string
	period int
	window []float64
	next   int
	filled bool
	sum    float64
}

// NewSMA creates a moving average over period closes.
func NewSMA(name string, period int) *SMA {
	if period <= 0 {
		period = 20
	}
	return &SMA{name: name, period: period, window: make([]float64, period)}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(bar schema.Bar) {
	s.sum += bar.Close - s.window[s.next]
	s.window[s.next] = bar.Close
	s.next++
	if s.next == s.period {
		s.next = 0
		s.filled = true
	}
}

func (s *SMA) Value() Value {
	if !s.filled {
		return Value{}
	}
	return Value{Value: s.sum / float64(s.period), Ready: true}
}

// Factory builds a fresh indicator instance for one symbol.
type Factory func() Indicator

// Set keeps one instance of every configured indicator per symbol.
type Set struct {
	factories []Factory
	bySymbol  map[string][]Indicator
}

// NewSet creates an indicator set from factories.
func NewSet(factories ...Factory) *Set {
	return &Set{factories: factories, bySymbol: make(map[string][]Indicator)}
}

// Update feeds the bars of one tick in symbol order.
func (s *Set) Update(bars map[string]schema.Bar) {
	if s == nil {
		return
	}
	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		inds, ok := s.bySymbol[sym]
		if !ok {
			inds = make([]Indicator, 0, len(s.factories))
			for _, f := range s.factories {
				inds = append(inds, f())
			}
			s.bySymbol[sym] = inds
		}
		for _, ind := range inds {
			ind.Update(bars[sym])
		}
	}
}

// Snapshot returns the current readings for symbol.
func (s *Set) Snapshot(symbol string) Snapshot {
	if s == nil {
		return nil
	}
	inds := s.bySymbol[symbol]
	out := make(Snapshot, len(inds))
	for _, ind := range inds {
		out[ind.Name()] = ind.Value()
	}
	return out
}
