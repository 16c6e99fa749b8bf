package state

import (
	"math"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// DefaultDustEpsilon is the quantity below which a residual is treated as zero.
const DefaultDustEpsilon = 1e-9

// PositionState tracks the lifecycle of a per-symbol position.
type PositionState uint16

const (
	PositionFlat PositionState = iota
	PositionOpen
	PositionReducing
	PositionClosed
)

// String returns the state name.
func (s PositionState) String() string {
	switch s {
	case PositionOpen:
		return "OPEN"
	case PositionReducing:
		return "REDUCING"
	case PositionClosed:
		return "CLOSED"
	default:
		return "FLAT"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PositionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PositionState) UnmarshalText(text []byte) error {
	for candidate := PositionFlat; candidate <= PositionClosed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Wrapf(exception.ErrValidation, "unknown position state: %s", text)
}

// Position is the ledger entry for one symbol. Qty is a magnitude; Side carries direction.
// Values are replaced through Apply, never mutated through aliases.
type Position struct {
	Symbol        string
	State         PositionState
	Side          schema.Side
	Qty           float64
	AvgEntry      float64
	RealizedPnL   float64
	UnrealizedPnL float64
	MarkPrice     float64
	// LowPrice and HighPrice are the extreme prices seen since the position opened.
	LowPrice  float64
	HighPrice float64
	OpenedAt  time.Time
	ClosedAt  time.Time

	// entry costs attributable to the open quantity
	EntryFees     float64
	EntrySlippage float64
	Risk          schema.RiskContext
}

// IsOpen reports whether the position holds quantity.
func (p Position) IsOpen() bool {
	return p.Qty > 0 && (p.State == PositionOpen || p.State == PositionReducing)
}

// SignedQty returns the quantity with direction applied.
func (p Position) SignedQty() float64 {
	return p.Qty * p.Side.Sign()
}

// MAE returns the most adverse price seen since entry.
func (p Position) MAE() float64 {
	if p.Side == schema.SideSell {
		return p.HighPrice
	}
	return p.LowPrice
}

// MFE returns the most favorable price seen since entry.
func (p Position) MFE() float64 {
	if p.Side == schema.SideSell {
		return p.LowPrice
	}
	return p.HighPrice
}

// Apply returns the position after fill and the trades it closed. Every
// reduction emits a Trade for the closed quantity. A fill larger than the open
// quantity closes the position and reopens the remainder on the opposite side
// in the same call.
func (p Position) Apply(fill schema.Fill, eps float64) (Position, []schema.Trade) {
	if eps <= 0 {
		eps = DefaultDustEpsilon
	}
	if fill.Qty <= 0 {
		return p, nil
	}
	if !p.IsOpen() {
		return p.open(fill, fill.Qty, fill.Fee, fill.Slippage), nil
	}
	if fill.Side == p.Side {
		return p.add(fill), nil
	}

	closeQty := math.Min(p.Qty, fill.Qty)
	fillShare := closeQty / fill.Qty
	closedFrac := closeQty / p.Qty

	pnl := (fill.Price - p.AvgEntry) * closeQty * p.Side.Sign()
	entryFees := p.EntryFees * closedFrac
	entrySlip := p.EntrySlippage * closedFrac

	next := p
	next.observe(fill.Price, fill.Price)
	trade := schema.Trade{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Qty:        closeQty,
		EntryPrice: p.AvgEntry,
		ExitPrice:  fill.Price,
		EntryTs:    p.OpenedAt,
		ExitTs:     fill.Ts,
		PnL:        pnl,
		Fees:       entryFees + fill.Fee*fillShare,
		Slippage:   entrySlip + fill.Slippage*fillShare,
		MAE:        next.MAE(),
		MFE:        next.MFE(),
		Risk:       p.Risk,
		Tag:        fill.Tag,
	}

	next.RealizedPnL += pnl
	next.EntryFees -= entryFees
	next.EntrySlippage -= entrySlip

	remaining := p.Qty - closeQty
	if remaining <= dust(eps, p.Qty) {
		remaining = 0
	}
	if remaining > 0 {
		next.Qty = remaining
		next.State = PositionReducing
		next.UnrealizedPnL = next.unrealized()
		return next, []schema.Trade{trade}
	}

	closed := next.close(fill.Ts)
	leftover := fill.Qty - closeQty
	if leftover <= dust(eps, fill.Qty) {
		return closed, []schema.Trade{trade}
	}
	share := leftover / fill.Qty
	return closed.open(fill, leftover, fill.Fee*share, fill.Slippage*share), []schema.Trade{trade}
}

// Mark updates the mark price, extremes and unrealized PnL from a bar.
func (p Position) Mark(bar schema.Bar) Position {
	if !p.IsOpen() {
		return p
	}
	next := p
	next.MarkPrice = bar.Close
	next.observe(bar.Low, bar.High)
	next.UnrealizedPnL = next.unrealized()
	return next
}

func (p Position) open(fill schema.Fill, qty, fee, slip float64) Position {
	risk := fill.Risk
	if risk.EntryQty <= 0 {
		risk.EntryQty = qty
	}
	return Position{
		Symbol:        fill.Symbol,
		State:         PositionOpen,
		Side:          fill.Side,
		Qty:           qty,
		AvgEntry:      fill.Price,
		RealizedPnL:   p.RealizedPnL,
		MarkPrice:     fill.Price,
		LowPrice:      fill.Price,
		HighPrice:     fill.Price,
		OpenedAt:      fill.Ts,
		EntryFees:     fee,
		EntrySlippage: slip,
		Risk:          risk,
	}
}

func (p Position) add(fill schema.Fill) Position {
	next := p
	total := p.Qty + fill.Qty
	next.AvgEntry = (p.AvgEntry*p.Qty + fill.Price*fill.Qty) / total
	next.Qty = total
	next.State = PositionOpen
	next.EntryFees += fill.Fee
	next.EntrySlippage += fill.Slippage
	next.Risk = mergeRisk(p.Risk, fill.Risk, fill.Qty)
	next.observe(fill.Price, fill.Price)
	if next.MarkPrice == 0 {
		next.MarkPrice = fill.Price
	}
	next.UnrealizedPnL = next.unrealized()
	return next
}

func (p Position) close(ts time.Time) Position {
	next := p
	next.Qty = 0
	next.State = PositionClosed
	next.ClosedAt = ts
	next.UnrealizedPnL = 0
	next.EntryFees = 0
	next.EntrySlippage = 0
	return next
}

func (p *Position) observe(low, high float64) {
	if p.LowPrice == 0 || low < p.LowPrice {
		p.LowPrice = low
	}
	if high > p.HighPrice {
		p.HighPrice = high
	}
}

func (p Position) unrealized() float64 {
	if p.Qty == 0 || p.MarkPrice == 0 {
		return 0
	}
	return (p.MarkPrice - p.AvgEntry) * p.Qty * p.Side.Sign()
}

func mergeRisk(prev, add schema.RiskContext, addQty float64) schema.RiskContext {
	if add.EntryQty <= 0 {
		add.EntryQty = addQty
	}
	total := prev.EntryQty + add.EntryQty
	out := schema.RiskContext{
		EntryQty:      total,
		RiskAmount:    prev.RiskAmount + add.RiskAmount,
		RMetricsValid: prev.RMetricsValid && add.RMetricsValid,
	}
	if total > 0 {
		out.StopDistance = (prev.StopDistance*prev.EntryQty + add.StopDistance*add.EntryQty) / total
	}
	return out
}

func dust(eps, qty float64) float64 {
	return math.Max(eps, 1e-12*qty)
}
