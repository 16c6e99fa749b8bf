package state

import (
	"math"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// DefaultInvariantTolerance bounds |equity - (cash + realized + unrealized)|.
const DefaultInvariantTolerance = 1e-8

// PortfolioConfig configures the account.
type PortfolioConfig struct {
	InitialCash float64
	MaxLeverage float64
	DustEpsilon float64
}

// Portfolio owns the per-symbol position table and account figures for one run.
// Cash is initial capital less fees; realized PnL is gross of fees.
type Portfolio struct {
	cfg PortfolioConfig

	cash          float64
	realizedPnL   float64
	unrealizedPnL float64
	equity        float64
	usedMargin    float64
	freeMargin    float64

	totalFees     float64
	totalSlippage float64
	fills         int

	positions map[string]Position
	symbols   []string
}

// NewPortfolio creates a portfolio holding only initial cash.
func NewPortfolio(cfg PortfolioConfig) *Portfolio {
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 1
	}
	if cfg.DustEpsilon <= 0 {
		cfg.DustEpsilon = DefaultDustEpsilon
	}
	p := &Portfolio{
		cfg:       cfg,
		cash:      cfg.InitialCash,
		positions: make(map[string]Position),
	}
	p.recompute()
	return p
}

// ApplyFills applies fills in order and returns the round trips they closed.
func (p *Portfolio) ApplyFills(fills []schema.Fill) ([]schema.Trade, error) {
	var trades []schema.Trade
	for _, fill := range fills {
		closed, err := p.applyFill(fill)
		if err != nil {
			return trades, err
		}
		trades = append(trades, closed...)
	}
	p.recompute()
	return trades, nil
}

func (p *Portfolio) applyFill(fill schema.Fill) ([]schema.Trade, error) {
	if fill.Symbol == "" {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "fill %d: symbol is empty", fill.OrderID)
	}
	if !(fill.Qty > 0) || math.IsInf(fill.Qty, 0) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "fill %d: qty %v must be finite and > 0", fill.OrderID, fill.Qty)
	}
	if !(fill.Price > 0) || math.IsInf(fill.Price, 0) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "fill %d: price %v must be finite and > 0", fill.OrderID, fill.Price)
	}
	if fill.Side != schema.SideBuy && fill.Side != schema.SideSell {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "fill %d: side %s", fill.OrderID, fill.Side)
	}

	prev, ok := p.positions[fill.Symbol]
	if !ok {
		prev = Position{Symbol: fill.Symbol}
		p.insertSymbol(fill.Symbol)
	}
	next, trades := prev.Apply(fill, p.cfg.DustEpsilon)
	p.positions[fill.Symbol] = next

	p.cash -= fill.Fee
	p.realizedPnL += next.RealizedPnL - prev.RealizedPnL
	p.totalFees += fill.Fee
	p.totalSlippage += fill.Slippage
	p.fills++
	return trades, nil
}

// MarkToMarket marks open positions for symbols present in bars. Absent symbols keep their last mark.
func (p *Portfolio) MarkToMarket(bars map[string]schema.Bar) {
	for _, sym := range p.symbols {
		bar, ok := bars[sym]
		if !ok {
			continue
		}
		p.positions[sym] = p.positions[sym].Mark(bar)
	}
	p.recompute()
}

func (p *Portfolio) recompute() {
	var unrealized, exposure float64
	for _, sym := range p.symbols {
		pos := p.positions[sym]
		if !pos.IsOpen() {
			continue
		}
		unrealized += pos.UnrealizedPnL
		exposure += pos.Qty * pos.MarkPrice
	}
	p.unrealizedPnL = unrealized
	p.equity = p.cash + p.realizedPnL + p.unrealizedPnL
	p.usedMargin = exposure / p.cfg.MaxLeverage
	p.freeMargin = p.equity - p.usedMargin
}

func (p *Portfolio) insertSymbol(sym string) {
	idx := sort.SearchStrings(p.symbols, sym)
	p.symbols = append(p.symbols, "")
	copy(p.symbols[idx+1:], p.symbols[idx:])
	p.symbols[idx] = sym
}

// CheckInvariant rebuilds cash, realized and unrealized PnL from the fee total
// and the position ledger and verifies equity = cash + realized + unrealized
// within tol.
func (p *Portfolio) CheckInvariant(tol float64) error {
	if tol <= 0 {
		tol = DefaultInvariantTolerance
	}
	cash := p.cfg.InitialCash - p.totalFees
	var realized, unrealized float64
	for _, sym := range p.symbols {
		pos := p.positions[sym]
		realized += pos.RealizedPnL
		if pos.IsOpen() && pos.MarkPrice > 0 {
			unrealized += (pos.MarkPrice - pos.AvgEntry) * pos.Qty * pos.Side.Sign()
		}
	}
	diff := math.Abs(p.equity - (cash + realized + unrealized))
	if diff > tol {
		return errors.Wrapf(exception.ErrInvariantViolation, "equity %v != cash %v + realized %v + unrealized %v (diff %v)",
			p.equity, cash, realized, unrealized, diff)
	}
	if math.Abs(p.cash-cash) > tol {
		return errors.Wrapf(exception.ErrInvariantViolation, "cash %v drifted from initial cash less fees %v", p.cash, cash)
	}
	return nil
}

// EquityRow returns the account snapshot row for ts.
func (p *Portfolio) EquityRow(ts time.Time, liquidation string) schema.EquityRow {
	return schema.EquityRow{
		Ts:            ts,
		Cash:          p.cash,
		Equity:        p.equity,
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: p.unrealizedPnL,
		UsedMargin:    p.usedMargin,
		FreeMargin:    p.freeMargin,
		Liquidation:   liquidation,
	}
}

// Position returns a copy of the ledger entry for symbol.
func (p *Portfolio) Position(symbol string) Position {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}
	}
	return pos
}

// SignedQty returns the signed open quantity for symbol.
func (p *Portfolio) SignedQty(symbol string) float64 {
	return p.Position(symbol).SignedQty()
}

// OpenPositions returns copies of open positions sorted by symbol.
func (p *Portfolio) OpenPositions() []Position {
	var out []Position
	for _, sym := range p.symbols {
		if pos := p.positions[sym]; pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out
}

// Positions returns copies of every ledger entry sorted by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.symbols))
	for _, sym := range p.symbols {
		out = append(out, p.positions[sym])
	}
	return out
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int {
	var n int
	for _, sym := range p.symbols {
		if p.positions[sym].IsOpen() {
			n++
		}
	}
	return n
}

func (p *Portfolio) Cash() float64          { return p.cash }
func (p *Portfolio) Equity() float64        { return p.equity }
func (p *Portfolio) RealizedPnL() float64   { return p.realizedPnL }
func (p *Portfolio) UnrealizedPnL() float64 { return p.unrealizedPnL }
func (p *Portfolio) UsedMargin() float64    { return p.usedMargin }
func (p *Portfolio) FreeMargin() float64    { return p.freeMargin }
func (p *Portfolio) TotalFees() float64     { return p.totalFees }
func (p *Portfolio) TotalSlippage() float64 { return p.totalSlippage }
func (p *Portfolio) FillCount() int         { return p.fills }
func (p *Portfolio) MaxLeverage() float64   { return p.cfg.MaxLeverage }
func (p *Portfolio) InitialCash() float64   { return p.cfg.InitialCash }
