package core

import (
	"math"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"backtest/internal/execution"
	"backtest/internal/feed"
	"backtest/internal/indicator"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/internal/strategy"
	"backtest/pkg/exception"
)

// Deps are the collaborators of one run.
type Deps struct {
	Strategy  strategy.Strategy
	Resolver  strategy.ConflictResolver
	Risk      *risk.Engine
	Execution *execution.Model
	// Indicators defaults to the indicators the strategy asks for.
	Indicators *indicator.Set
	Sinks      []Sink
	Metrics    *obs.Metrics
}

// Result holds everything a run produced.
type Result struct {
	Ticks     int
	LastTs    time.Time
	Decisions []schema.Decision
	Orders    []schema.Order
	Fills     []schema.Fill
	Trades    []schema.Trade
	Equity    []schema.EquityRow
	Final     state.Snapshot
}

// Kernel runs one backtest. It is single-threaded and single-use.
type Kernel struct {
	cfg  Config
	deps Deps

	portfolio *state.Portfolio
	book      *order.Book
	collector *Collector
	sink      MultiSink

	lastBars map[string]schema.Bar
	lastTs   time.Time
	ticks    int
	used     bool

	// capital committed to orders that have not filled yet
	reserved      map[uint64]float64
	reservedTotal float64
	pendingOpens  map[uint64]struct{}
}

// New validates cfg and deps and creates a kernel.
func New(cfg Config, deps Deps) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Strategy == nil || deps.Risk == nil || deps.Execution == nil {
		return nil, errors.Wrap(exception.ErrConfiguration, "kernel needs a strategy, a risk engine and an execution model")
	}
	if deps.Resolver == nil {
		deps.Resolver = strategy.HighestConfidence{}
	}
	if deps.Indicators == nil {
		var factories []indicator.Factory
		if user, ok := deps.Strategy.(strategy.IndicatorUser); ok {
			factories = user.Indicators()
		}
		deps.Indicators = indicator.NewSet(factories...)
	}

	collector := &Collector{}
	sink := MultiSink{collector}
	sink = append(sink, deps.Sinks...)

	return &Kernel{
		cfg:  cfg,
		deps: deps,
		portfolio: state.NewPortfolio(state.PortfolioConfig{
			InitialCash: cfg.InitialCash,
			MaxLeverage: cfg.MaxLeverage,
			DustEpsilon: cfg.DustEpsilon,
		}),
		book:         order.NewBook(),
		collector:    collector,
		sink:         sink,
		lastBars:     make(map[string]schema.Bar),
		reserved:     make(map[uint64]float64),
		pendingOpens: make(map[uint64]struct{}),
	}, nil
}

// Portfolio returns the run's portfolio for inspection.
func (k *Kernel) Portfolio() *state.Portfolio {
	return k.portfolio
}

// Run drives the tick loop until f is exhausted, then liquidates every open
// position. Any error aborts the run; the partial result is still returned.
func (k *Kernel) Run(f feed.Feed) (Result, error) {
	if k.used {
		return Result{}, errors.Wrap(exception.ErrInvalidArgument, "kernel already ran; build a new one per run")
	}
	k.used = true

	for {
		ts, bars, ok, err := f.Next()
		if err != nil {
			return k.result(), err
		}
		if !ok {
			break
		}
		started := time.Now()
		if err := k.tick(ts, bars); err != nil {
			return k.result(), err
		}
		k.deps.Metrics.ObserveTick(time.Since(started))
	}

	if err := k.endOfRun(); err != nil {
		return k.result(), err
	}
	return k.result(), nil
}

func (k *Kernel) tick(ts time.Time, bars map[string]schema.Bar) error {
	if ts.Location() != time.UTC {
		return errors.Wrapf(exception.ErrValidation, "tick timestamp %v is not UTC", ts)
	}
	if !k.lastTs.IsZero() && ts.Before(k.lastTs) {
		return errors.Wrapf(exception.ErrValidation, "tick %s is before previous tick %s", ts.Format(time.RFC3339), k.lastTs.Format(time.RFC3339))
	}
	symbols := sortedSymbols(bars)
	for _, sym := range symbols {
		bar := bars[sym]
		if bar.Symbol != sym || !bar.Ts.Equal(ts) {
			return errors.Wrapf(exception.ErrValidation, "tick %s: bar keyed %s is %s at %s", ts.Format(time.RFC3339), sym, bar.Symbol, bar.Ts.Format(time.RFC3339))
		}
		if err := bar.Validate(); err != nil {
			return err
		}
		k.lastBars[sym] = bar
	}
	k.lastTs = ts
	k.ticks++

	k.deps.Indicators.Update(bars)
	snapshots := make(map[string]indicator.Snapshot, len(bars))
	for _, sym := range symbols {
		snapshots[sym] = k.deps.Indicators.Snapshot(sym)
	}

	signals := k.deps.Strategy.OnBars(strategy.Context{
		Ts:         ts,
		Bars:       bars,
		Indicators: snapshots,
		Positions:  k.exposure(),

		IntrabarMode: k.deps.Execution.Config().IntrabarMode,
	})
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return errors.Wrapf(err, "strategy %s", k.deps.Strategy.Name())
		}
	}
	signals = k.deps.Resolver.Resolve(signals)

	if err := k.admit(ts, bars, snapshots, signals); err != nil {
		return err
	}
	if err := k.execute(ts, bars); err != nil {
		return err
	}

	k.portfolio.MarkToMarket(bars)
	if err := k.portfolio.CheckInvariant(k.cfg.InvariantTolerance); err != nil {
		return err
	}
	if k.cfg.AllowLiquidation && k.portfolio.FreeMargin() < 0 && k.portfolio.OpenCount() > 0 {
		return k.liquidate(ts, schema.TagLiquidationMargin)
	}
	return k.sink.OnEquity(k.portfolio.EquityRow(ts, ""))
}

// admit runs every signal through the risk engine. Each approval reserves its
// margin and position slot so later signals in the same tick see it.
func (k *Kernel) admit(ts time.Time, bars map[string]schema.Bar, snapshots map[string]indicator.Snapshot, signals []schema.Signal) error {
	exposure := k.exposure()
	free := k.portfolio.FreeMargin() - k.reservedTotal
	open := k.portfolio.OpenCount() + len(k.pendingOpens)

	for _, sig := range signals {
		current := exposure[sig.Symbol]
		intent, reason, err := k.deps.Risk.SignalToOrderIntent(
			sig,
			bars[sig.Symbol],
			risk.Account{Equity: k.portfolio.Equity(), FreeMargin: free, OpenPositions: open},
			k.cfg.MaxLeverage,
			current,
			snapshots[sig.Symbol],
		)
		decision := schema.Decision{
			Ts:         ts,
			Symbol:     sig.Symbol,
			Side:       sig.Side,
			SignalType: sig.Type,
			Confidence: sig.Confidence,
			StopKind:   schema.KindOf(sig.Meta.Stop),
			Approved:   intent != nil && reason.Approved(),
			Reason:     reason,
		}
		if err != nil {
			decision.Message = err.Error()
			if sinkErr := k.sink.OnDecision(decision); sinkErr != nil {
				return sinkErr
			}
			return err
		}
		if !decision.Approved {
			if err := k.sink.OnDecision(decision); err != nil {
				return err
			}
			continue
		}

		o, err := k.book.Create(ts, *intent, k.deps.Execution.Config().DelayBars, "")
		if err != nil {
			return err
		}
		decision.OrderID = o.ID
		decision.Qty = intent.Qty
		if err := k.sink.OnDecision(decision); err != nil {
			return err
		}
		if err := k.sink.OnOrder(o); err != nil {
			return err
		}

		if !intent.Audit.CloseOnly {
			k.reserved[o.ID] = intent.Audit.RequiredMargin
			k.reservedTotal += intent.Audit.RequiredMargin
			free -= intent.Audit.RequiredMargin
		}
		if math.Abs(current) <= k.cfg.DustEpsilon && !intent.Audit.CloseOnly {
			k.pendingOpens[o.ID] = struct{}{}
			open++
		}
		exposure[sig.Symbol] = current + intent.Qty
	}
	return nil
}

// execute advances open orders and applies the resulting fills.
func (k *Kernel) execute(ts time.Time, bars map[string]schema.Bar) error {
	before := k.book.Open()
	if len(before) == 0 {
		return nil
	}
	orders, fills, err := k.deps.Execution.Process(ts, bars, before)
	if err != nil {
		return err
	}
	if err := k.book.Update(orders); err != nil {
		return err
	}
	for i, o := range orders {
		if o.State == before[i].State {
			continue
		}
		if o.State.Terminal() {
			k.release(o.ID)
		}
		if err := k.sink.OnOrder(o); err != nil {
			return err
		}
	}
	if len(fills) == 0 {
		return nil
	}

	if err := k.applyFills(fills); err != nil {
		return err
	}
	if !k.cfg.AllowLiquidation && k.portfolio.FreeMargin() < 0 {
		for _, fill := range fills {
			if !fill.CloseOnly {
				return errors.Wrapf(exception.ErrInvariantViolation,
					"fill of order %d (%s %s %v @ %v) left free margin %v with liquidation disallowed",
					fill.OrderID, fill.Symbol, fill.Side, fill.Qty, fill.Price, k.portfolio.FreeMargin())
			}
		}
	}
	return nil
}

func (k *Kernel) applyFills(fills []schema.Fill) error {
	trades, err := k.portfolio.ApplyFills(fills)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		if err := k.sink.OnFill(fill); err != nil {
			return err
		}
	}
	for _, trade := range trades {
		if err := k.sink.OnTrade(trade); err != nil {
			return err
		}
	}
	return nil
}

// liquidate cancels every open order and closes every open position at its
// last seen bar, ignoring fill delay. It writes the tick's equity row.
func (k *Kernel) liquidate(ts time.Time, tag string) error {
	if err := k.cancelOpenOrders(); err != nil {
		return err
	}

	positions := k.portfolio.OpenPositions()
	fills := make([]schema.Fill, 0, len(positions))
	for _, pos := range positions {
		bar, ok := k.lastBars[pos.Symbol]
		if !ok {
			return errors.Wrapf(exception.ErrInvariantViolation, "no bar seen for open position %s", pos.Symbol)
		}
		intent := schema.OrderIntent{
			Symbol: pos.Symbol,
			Side:   pos.Side.Opposite(),
			Qty:    -pos.SignedQty(),
			Type:   schema.OrderTypeMarket,
			Audit: schema.IntentAudit{
				StopSource: schema.StopSourceNone,
				EntryPrice: bar.Close,
				Notional:   pos.Qty * bar.Close,
				FreeMargin: k.portfolio.FreeMargin(),
				CloseOnly:  true,
				CloseQty:   pos.Qty,
			},
		}
		o, err := k.book.Create(ts, intent, 0, tag)
		if err != nil {
			return err
		}
		if err := k.sink.OnOrder(o); err != nil {
			return err
		}
		filled, fill, err := k.deps.Execution.FillNow(ts, bar, o)
		if err != nil {
			return err
		}
		if err := k.book.Update([]schema.Order{filled}); err != nil {
			return err
		}
		if err := k.sink.OnOrder(filled); err != nil {
			return err
		}
		fills = append(fills, fill)
	}

	if err := k.applyFills(fills); err != nil {
		return err
	}
	k.portfolio.MarkToMarket(k.lastBars)
	if err := k.portfolio.CheckInvariant(k.cfg.InvariantTolerance); err != nil {
		return err
	}
	logs.Infof("liquidation %s at %s: closed %d positions, equity %.8f", tag, ts.Format(time.RFC3339), len(fills), k.portfolio.Equity())
	return k.sink.OnEquity(k.portfolio.EquityRow(ts, tag))
}

func (k *Kernel) endOfRun() error {
	if k.ticks == 0 {
		return nil
	}
	if k.portfolio.OpenCount() == 0 {
		return k.cancelOpenOrders()
	}
	return k.liquidate(k.lastTs, schema.TagLiquidationEndOfRun)
}

func (k *Kernel) cancelOpenOrders() error {
	for _, cancelled := range k.book.CancelAll() {
		k.release(cancelled.ID)
		if err := k.sink.OnOrder(cancelled); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) release(id uint64) {
	if margin, ok := k.reserved[id]; ok {
		k.reservedTotal -= margin
		delete(k.reserved, id)
		if len(k.reserved) == 0 {
			k.reservedTotal = 0
		}
	}
	delete(k.pendingOpens, id)
}

// exposure returns signed quantities per symbol, pending orders included.
func (k *Kernel) exposure() map[string]float64 {
	out := make(map[string]float64)
	for _, pos := range k.portfolio.OpenPositions() {
		out[pos.Symbol] = pos.SignedQty()
	}
	for _, o := range k.book.Open() {
		out[o.Symbol] += o.Qty * o.Side.Sign()
	}
	return out
}

func (k *Kernel) result() Result {
	return Result{
		Ticks:     k.ticks,
		LastTs:    k.lastTs,
		Decisions: k.collector.Decisions,
		Orders:    k.collector.Orders,
		Fills:     k.collector.Fills,
		Trades:    k.collector.Trades,
		Equity:    k.collector.Equity,
		Final:     k.portfolio.Snapshot(k.lastTs.UnixNano()),
	}
}

func sortedSymbols(bars map[string]schema.Bar) []string {
	out := make([]string, 0, len(bars))
	for sym := range bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
