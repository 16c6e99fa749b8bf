package schema

import (
	"fmt"
	"time"
)

// Side describes order or position direction. SideUnknown on a signal means no action.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// String returns BUY, SELL or NONE.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s Side) Sign() float64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BUY":
		*s = SideBuy
	case "SELL":
		*s = SideSell
	case "NONE", "":
		*s = SideUnknown
	default:
		return fmt.Errorf("unknown side: %s", text)
	}
	return nil
}

// OrderType describes order type. Only market orders are executable.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
)

// String returns the order type name.
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OrderType) UnmarshalText(text []byte) error {
	for _, candidate := range []OrderType{OrderTypeUnknown, OrderTypeMarket, OrderTypeLimit, OrderTypeStop} {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown order type: %s", text)
}

// OrderState tracks the lifecycle of an engine-owned order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStateSubmitted
	OrderStateFilled
	OrderStateCancelled
	OrderStateRejected
)

// String returns the state name.
func (s OrderState) String() string {
	switch s {
	case OrderStateNew:
		return "NEW"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OrderState) UnmarshalText(text []byte) error {
	for candidate := OrderStateUnknown; candidate <= OrderStateRejected; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown order state: %s", text)
}

// Terminal reports whether no further transition is allowed.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// Liquidation tags attached to forced close-only orders and their fills.
const (
	TagLiquidationMargin   = "liquidation:negative_free_margin"
	TagLiquidationEndOfRun = "liquidation:end_of_run"
)

// Bar is an immutable OHLCV quote for one symbol at one UTC timestamp.
type Bar struct {
	Symbol string    `json:"symbol"`
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// SignalMeta carries the typed payload of a signal.
type SignalMeta struct {
	ReduceOnly bool
	CloseOnly  bool
	Stop       StopSpec
}

// Signal is a strategy's intent for one symbol.
type Signal struct {
	Symbol     string
	Ts         time.Time
	Side       Side
	Type       string
	Confidence float64
	Meta       SignalMeta
}

// RiskContext is the entry risk budget carried from admission to the closed trade.
type RiskContext struct {
	EntryQty      float64 `json:"entryQty"`
	StopDistance  float64 `json:"stopDistance"`
	RiskAmount    float64 `json:"riskAmount"`
	RMetricsValid bool    `json:"rMetricsValid"`
}

// IntentAudit records the full sizing and admission trail of an order intent.
type IntentAudit struct {
	// RiskAmount is the budget, equity × r_per_trade. EffectiveRisk is what
	// the quantity risks after caps and rounding.
	RiskAmount          float64    `json:"riskAmount"`
	EffectiveRisk       float64    `json:"effectiveRisk"`
	StopDistance        float64    `json:"stopDistance"`
	StopSource          StopSource `json:"stopSource"`
	EntryPrice          float64    `json:"entryPrice"`
	Notional            float64    `json:"notional"`
	RequiredMargin      float64    `json:"requiredMargin"`
	FreeMargin          float64    `json:"freeMargin"`
	FeeBuffer           float64    `json:"feeBuffer"`
	SlippageBuffer      float64    `json:"slippageBuffer"`
	AdverseMoveBuffer   float64    `json:"adverseMoveBuffer"`
	MarginTier          int        `json:"marginTier"`
	CapApplied          bool       `json:"capApplied"`
	CapReason           string     `json:"capReason,omitempty"`
	CloseOnly           bool       `json:"closeOnly"`
	Flip                bool       `json:"flip"`
	CloseQty            float64    `json:"closeQty"`
	OpenQty             float64    `json:"openQty"`
	UsedLegacyStopProxy bool       `json:"usedLegacyStopProxy"`
	RMetricsValid       bool       `json:"rMetricsValid"`
}

// OrderIntent is the risk engine output for one admitted signal. Qty is signed:
// positive buys, negative sells.
type OrderIntent struct {
	Symbol string
	Side   Side
	Qty    float64
	Type   OrderType
	Audit  IntentAudit
}

// Order is a mutable, engine-owned order.
type Order struct {
	ID             uint64      `json:"id"`
	Ts             time.Time   `json:"ts"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            float64     `json:"qty"`
	State          OrderState  `json:"state"`
	DelayRemaining int         `json:"delayRemaining"`
	CloseOnly      bool        `json:"closeOnly"`
	Tag            string      `json:"tag,omitempty"`
	Audit          IntentAudit `json:"audit"`
}

// Risk returns the entry risk context derived from the order audit.
func (o Order) Risk() RiskContext {
	return RiskContext{
		EntryQty:      o.Audit.OpenQty,
		StopDistance:  o.Audit.StopDistance,
		RiskAmount:    o.Audit.RiskAmount,
		RMetricsValid: o.Audit.RMetricsValid,
	}
}

// FillCosts is the per-fill cost breakdown used for reconciliation.
type FillCosts struct {
	ReferencePrice float64 `json:"referencePrice"`
	IntrabarPrice  float64 `json:"intrabarPrice"`
	SpreadCost     float64 `json:"spreadCost"`
	SlippageCost   float64 `json:"slippageCost"`
	Fee            float64 `json:"fee"`
}

// Fill is an immutable execution result.
type Fill struct {
	OrderID   uint64      `json:"orderId"`
	Ts        time.Time   `json:"ts"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Qty       float64     `json:"qty"`
	Price     float64     `json:"price"`
	Fee       float64     `json:"fee"`
	Slippage  float64     `json:"slippage"`
	Costs     FillCosts   `json:"costs"`
	CloseOnly bool        `json:"closeOnly"`
	Tag       string      `json:"tag,omitempty"`
	Risk      RiskContext `json:"risk"`
}

// Trade is an immutable closed round-trip record.
type Trade struct {
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Qty        float64     `json:"qty"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	EntryTs    time.Time   `json:"entryTs"`
	ExitTs     time.Time   `json:"exitTs"`
	PnL        float64     `json:"pnl"`
	Fees       float64     `json:"fees"`
	Slippage   float64     `json:"slippage"`
	MAE        float64     `json:"mae"`
	MFE        float64     `json:"mfe"`
	Risk       RiskContext `json:"risk"`
	Tag        string      `json:"tag,omitempty"`
}

// RMultiple returns the trade PnL as a multiple of the risk budgeted for the
// closed quantity. It is 0 when the entry risk is unknown or marked invalid.
func (t Trade) RMultiple() float64 {
	if !t.Risk.RMetricsValid || t.Risk.RiskAmount <= 0 || t.Risk.EntryQty <= 0 {
		return 0
	}
	risk := t.Risk.RiskAmount * (t.Qty / t.Risk.EntryQty)
	if risk <= 0 {
		return 0
	}
	return t.PnL / risk
}

// EquityRow is the per-tick account snapshot.
type EquityRow struct {
	Ts            time.Time `json:"ts"`
	Cash          float64   `json:"cash"`
	Equity        float64   `json:"equity"`
	RealizedPnL   float64   `json:"realizedPnl"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	UsedMargin    float64   `json:"usedMargin"`
	FreeMargin    float64   `json:"freeMargin"`
	Liquidation   string    `json:"liquidation,omitempty"`
}

// Decision is the per-signal admission audit record.
type Decision struct {
	Ts         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	SignalType string    `json:"signalType"`
	Confidence float64   `json:"confidence"`
	StopKind   StopKind  `json:"stopKind"`
	Approved   bool      `json:"approved"`
	Reason     Reason    `json:"reason"`
	OrderID    uint64    `json:"orderId,omitempty"`
	Qty        float64   `json:"qty,omitempty"`
	Message    string    `json:"message,omitempty"`
}
