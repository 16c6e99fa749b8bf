package feed

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// SyntheticConfig shapes generated bars.
type SyntheticConfig struct {
	Start    time.Time
	Interval time.Duration
	Bars     int
	// BasePrice is the first open of every symbol.
	BasePrice float64
	// Volatility is the standard deviation of the per-bar log return.
	Volatility float64
	Seed       uint64
}

// Synthetic creates seeded random-walk bars for every symbol in reg. The same
// config and registry always yield the same bars.
func Synthetic(reg *schema.Registry, cfg SyntheticConfig) (map[string][]schema.Bar, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, errors.Wrap(exception.ErrConfiguration, "synthetic feed: registry has no symbols")
	}
	if cfg.Bars <= 0 {
		return nil, errors.Wrapf(exception.ErrConfiguration, "synthetic feed: bars %d must be > 0", cfg.Bars)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	cfg.Start = cfg.Start.UTC()
	if !(cfg.BasePrice > 0) {
		cfg.BasePrice = 100
	}
	if !(cfg.Volatility > 0) {
		cfg.Volatility = 0.01
	}

	out := make(map[string][]schema.Bar, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(symbol.ID)))
		out[symbol.Name] = walk(rng, symbol.Name, cfg)
	}
	return out, nil
}

func walk(rng *rand.Rand, symbol string, cfg SyntheticConfig) []schema.Bar {
	bars := make([]schema.Bar, cfg.Bars)
	price := cfg.BasePrice
	for i := range bars {
		open := price
		last := open * math.Exp(cfg.Volatility*rng.NormFloat64())
		wick := func() float64 {
			return math.Min(math.Abs(rng.NormFloat64())*cfg.Volatility/2, 0.5)
		}
		bars[i] = schema.Bar{
			Symbol: symbol,
			Ts:     cfg.Start.Add(time.Duration(i) * cfg.Interval),
			Open:   open,
			High:   math.Max(open, last) * (1 + wick()),
			Low:    math.Min(open, last) * (1 - wick()),
			Close:  last,
			Volume: 100 * (1 + math.Abs(rng.NormFloat64())),
		}
		price = last
	}
	return bars
}
