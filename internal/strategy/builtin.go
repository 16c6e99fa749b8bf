package strategy

import (
	"fmt"
	"math"

	"backtest/internal/execution"
	"backtest/internal/indicator"
	"backtest/internal/schema"
)

// Bundled strategy names.
const (
	NameSMACross   = "sma_cross"
	NameBreakout   = "breakout"
	NameBuyAndHold = "buy_and_hold"
)

// SMACross goes long when the fast average crosses above the slow one and
// exits (or reverses when shorting is enabled) on the opposite cross. Stops
// are ATR multiples.
type SMACross struct {
	fast, slow int
	atrPeriod  int
	atrMult    float64
	allowShort bool
}

// NewSMACross reads fast, slow, atr_period, atr_mult and allow_short.
func NewSMACross(p Params) (Strategy, error) {
	s := &SMACross{
		fast:       p.Int("fast", 10),
		slow:       p.Int("slow", 30),
		atrPeriod:  p.Int("atr_period", 14),
		atrMult:    p.Float("atr_mult", 2),
		allowShort: p.Bool("allow_short"),
	}
	if s.fast <= 0 || s.slow <= s.fast {
		return nil, fmt.Errorf("need 0 < fast < slow, got fast=%d slow=%d", s.fast, s.slow)
	}
	if s.atrPeriod <= 0 || !(s.atrMult > 0) {
		return nil, fmt.Errorf("atr_period and atr_mult must be > 0")
	}
	return s, nil
}

func (s *SMACross) Name() string { return NameSMACross }

func (s *SMACross) Indicators() []indicator.Factory {
	return []indicator.Factory{
		func() indicator.Indicator { return indicator.NewSMA("sma_fast", s.fast) },
		func() indicator.Indicator { return indicator.NewSMA("sma_slow", s.slow) },
		func() indicator.Indicator { return indicator.NewATR("atr", s.atrPeriod) },
	}
}

func (s *SMACross) OnBars(ctx Context) []schema.Signal {
	var out []schema.Signal
	for _, sym := range ctx.Symbols() {
		fast, slow := ctx.Indicator(sym, "sma_fast"), ctx.Indicator(sym, "sma_slow")
		if !fast.Ready || !slow.Ready {
			continue
		}
		pos := ctx.Position(sym)
		stop := schema.ATRStop{Multiple: s.atrMult, Indicator: "atr"}
		switch {
		case fast.Value > slow.Value && pos <= 0:
			out = append(out, schema.Signal{
				Symbol: sym, Ts: ctx.Ts, Side: schema.SideBuy, Type: "sma_cross_long",
				Confidence: 1, Meta: schema.SignalMeta{Stop: stop},
			})
		case fast.Value < slow.Value && pos > 0 && !s.allowShort:
			out = append(out, schema.Signal{
				Symbol: sym, Ts: ctx.Ts, Side: schema.SideSell, Type: "sma_cross_exit", Confidence: 1,
			})
		case fast.Value < slow.Value && pos >= 0 && s.allowShort:
			out = append(out, schema.Signal{
				Symbol: sym, Ts: ctx.Ts, Side: schema.SideSell, Type: "sma_cross_short",
				Confidence: 1, Meta: schema.SignalMeta{Stop: stop},
			})
		}
	}
	return out
}

// Breakout enters on a close beyond the prior lookback-bar channel with a
// structural stop on the opposite channel edge and a target target_r times the
// stop distance away. It exits when a bar reaches the stop or the target, or
// on a close back through the channel midline.
type Breakout struct {
	lookback int
	targetR  float64
	windows  map[string]*channel
	levels   map[string]exitLevels
}

type channel struct {
	highs, lows []float64
}

// exitLevels are the stop and target of the position a signal opened.
type exitLevels struct {
	side         schema.Side
	stop, target float64
}

func (c *channel) push(bar schema.Bar, n int) {
	c.highs = append(c.highs, bar.High)
	c.lows = append(c.lows, bar.Low)
	if len(c.highs) > n {
		c.highs = c.highs[1:]
		c.lows = c.lows[1:]
	}
}

func (c *channel) bounds() (float64, float64) {
	hi, lo := c.highs[0], c.lows[0]
	for i := 1; i < len(c.highs); i++ {
		hi = max(hi, c.highs[i])
		lo = min(lo, c.lows[i])
	}
	return hi, lo
}

// NewBreakout reads lookback and target_r. A target_r of 0 disables the target.
func NewBreakout(p Params) (Strategy, error) {
	n := p.Int("lookback", 20)
	if n < 2 {
		return nil, fmt.Errorf("lookback %d must be >= 2", n)
	}
	targetR := p.Float("target_r", 2)
	if targetR < 0 {
		return nil, fmt.Errorf("target_r %v must be >= 0", targetR)
	}
	return &Breakout{
		lookback: n,
		targetR:  targetR,
		windows:  make(map[string]*channel),
		levels:   make(map[string]exitLevels),
	}, nil
}

func (b *Breakout) Name() string { return NameBreakout }

func (b *Breakout) OnBars(ctx Context) []schema.Signal {
	var out []schema.Signal
	for _, sym := range ctx.Symbols() {
		bar := ctx.Bars[sym]
		ch, ok := b.windows[sym]
		if !ok {
			ch = &channel{}
			b.windows[sym] = ch
		}
		pos := ctx.Position(sym)
		if pos == 0 {
			delete(b.levels, sym)
		}
		if sig, ok := b.protect(ctx, bar, pos); ok {
			out = append(out, sig)
		} else if len(ch.highs) == b.lookback {
			if sig, ok := b.channelSignal(ctx, bar, pos, ch); ok {
				out = append(out, sig)
			}
		}
		ch.push(bar, b.lookback)
	}
	return out
}

// protect exits a held position whose stop or target the bar reached.
func (b *Breakout) protect(ctx Context, bar schema.Bar, pos float64) (schema.Signal, bool) {
	lv, ok := b.levels[bar.Symbol]
	if !ok || pos*lv.side.Sign() <= 0 {
		return schema.Signal{}, false
	}
	outcome, _ := execution.ResolveSameBar(ctx.IntrabarMode, bar, lv.side, lv.stop, lv.target)
	if outcome == execution.SameBarNone {
		return schema.Signal{}, false
	}
	delete(b.levels, bar.Symbol)
	return schema.Signal{
		Symbol: bar.Symbol, Ts: ctx.Ts, Side: lv.side.Opposite(), Type: "breakout_" + outcome.String() + "_exit",
		Confidence: 1,
	}, true
}

func (b *Breakout) channelSignal(ctx Context, bar schema.Bar, pos float64, ch *channel) (schema.Signal, bool) {
	hi, lo := ch.bounds()
	mid := (hi + lo) / 2
	switch {
	case pos == 0 && bar.Close > hi:
		b.arm(bar, schema.SideBuy, lo)
		return schema.Signal{
			Symbol: bar.Symbol, Ts: ctx.Ts, Side: schema.SideBuy, Type: "breakout_long",
			Confidence: 0.8, Meta: schema.SignalMeta{Stop: schema.StructuralStop{Price: lo}},
		}, true
	case pos == 0 && bar.Close < lo:
		b.arm(bar, schema.SideSell, hi)
		return schema.Signal{
			Symbol: bar.Symbol, Ts: ctx.Ts, Side: schema.SideSell, Type: "breakout_short",
			Confidence: 0.8, Meta: schema.SignalMeta{Stop: schema.StructuralStop{Price: hi}},
		}, true
	case pos > 0 && bar.Close < mid:
		return schema.Signal{
			Symbol: bar.Symbol, Ts: ctx.Ts, Side: schema.SideSell, Type: "breakout_exit", Confidence: 1,
		}, true
	case pos < 0 && bar.Close > mid:
		return schema.Signal{
			Symbol: bar.Symbol, Ts: ctx.Ts, Side: schema.SideBuy, Type: "breakout_exit", Confidence: 1,
		}, true
	}
	return schema.Signal{}, false
}

// arm records the exit levels of an entry taken at the bar close.
func (b *Breakout) arm(bar schema.Bar, side schema.Side, stop float64) {
	lv := exitLevels{side: side, stop: stop}
	if b.targetR > 0 {
		lv.target = bar.Close + side.Sign()*b.targetR*math.Abs(bar.Close-stop)
	}
	b.levels[bar.Symbol] = lv
}

// BuyAndHold enters long once per symbol with an explicit stop and never exits.
type BuyAndHold struct {
	stopPct float64
	entered map[string]bool
}

// NewBuyAndHold reads stop_pct, the stop distance as a fraction of the entry close.
func NewBuyAndHold(p Params) (Strategy, error) {
	pct := p.Float("stop_pct", 0.05)
	if !(pct > 0) || pct >= 1 {
		return nil, fmt.Errorf("stop_pct %v must be in (0, 1)", pct)
	}
	return &BuyAndHold{stopPct: pct, entered: make(map[string]bool)}, nil
}

func (b *BuyAndHold) Name() string { return NameBuyAndHold }

func (b *BuyAndHold) OnBars(ctx Context) []schema.Signal {
	var out []schema.Signal
	for _, sym := range ctx.Symbols() {
		if b.entered[sym] {
			continue
		}
		b.entered[sym] = true
		bar := ctx.Bars[sym]
		out = append(out, schema.Signal{
			Symbol: sym, Ts: ctx.Ts, Side: schema.SideBuy, Type: "hold_entry", Confidence: 1,
			Meta: schema.SignalMeta{Stop: schema.ExplicitStop{Price: bar.Close * (1 - b.stopPct)}},
		})
	}
	return out
}
