package risk

import (
	"math"

	"backtest/internal/indicator"
	"backtest/internal/schema"
)

// flatEpsilon is the position size treated as flat.
const flatEpsilon = 1e-9

// Cap reasons recorded on the intent audit.
const (
	CapMaxNotionalPerSymbol = "max_notional_per_symbol"
	CapMaxNotionalPctEquity = "max_notional_pct_equity"
)

// Account is the account view the engine sizes against.
type Account struct {
	Equity        float64
	FreeMargin    float64
	OpenPositions int
}

// Engine sizes signals and applies admission control.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and creates a risk engine.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the resolved configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SignalToOrderIntent converts a signal into an admitted intent or a rejection.
// The reason is never empty. An error is returned only when the stop protocol
// fails loudly: strict mode without a stop, or an unsupported stop kind.
func (e *Engine) SignalToOrderIntent(
	signal schema.Signal,
	bar schema.Bar,
	account Account,
	maxLeverage float64,
	currentQty float64,
	indicators indicator.Snapshot,
) (*schema.OrderIntent, schema.Reason, error) {
	if signal.Side != schema.SideBuy && signal.Side != schema.SideSell {
		return nil, schema.ReasonNoSide, nil
	}
	if signal.Symbol != bar.Symbol {
		return nil, schema.ReasonSymbolMismatch, nil
	}
	if err := bar.Validate(); err != nil {
		return nil, schema.ReasonInvalidBar, nil
	}
	if math.Abs(currentQty) <= flatEpsilon {
		currentQty = 0
	}

	exit := IsExit(signal)
	opening := currentQty == 0 && !exit
	if opening && e.cfg.MaxPositions > 0 && account.OpenPositions >= e.cfg.MaxPositions {
		return nil, schema.ReasonMaxPositions, nil
	}
	if exit {
		return e.closeOnly(signal, bar, account, currentQty)
	}
	if !(account.Equity > 0) {
		return nil, schema.ReasonNonPositiveEquity, nil
	}
	if !(e.cfg.RPerTrade > 0) {
		return nil, schema.ReasonNonPositiveRisk, nil
	}
	if currentQty*signal.Side.Sign() > 0 {
		return nil, schema.ReasonPyramiding, nil
	}

	entry := bar.Close
	stop, err := e.resolveStop(signal, bar, entry, indicators)
	if err != nil {
		return nil, stop.reason, err
	}
	if !stop.resolved() {
		return nil, stop.reason, nil
	}

	riskAmount := account.Equity * e.cfg.RPerTrade
	sizingDistance := math.Max(stop.distance, e.cfg.StopFloor)
	if !(sizingDistance > 0) {
		return nil, schema.ReasonZeroQuantity, nil
	}
	openQty := riskAmount / sizingDistance

	audit := schema.IntentAudit{
		RiskAmount:          riskAmount,
		StopDistance:        sizingDistance,
		StopSource:          stop.source,
		EntryPrice:          entry,
		UsedLegacyStopProxy: stop.legacy,
		RMetricsValid:       !stop.legacy,
	}
	openQty, audit.CapApplied, audit.CapReason = e.applyCaps(openQty, entry, account.Equity)
	openQty = e.round(openQty)
	if !(openQty > 0) {
		return nil, schema.ReasonZeroQuantity, nil
	}

	// a flip is margined on the whole net quantity, closing leg included
	closeQty := math.Abs(currentQty)
	netQty := closeQty + openQty
	notional := netQty * entry

	lev := maxLeverage
	if !(lev > 0) {
		lev = 1
	}
	fee, slip, adverse := e.buffers(notional)
	required := notional/lev + fee + slip + adverse

	audit.EffectiveRisk = openQty * sizingDistance
	audit.Notional = notional
	audit.RequiredMargin = required
	audit.FreeMargin = account.FreeMargin
	audit.FeeBuffer = fee
	audit.SlippageBuffer = slip
	audit.AdverseMoveBuffer = adverse
	audit.MarginTier = e.cfg.MarginBufferTier
	audit.Flip = closeQty > 0
	audit.CloseQty = closeQty
	audit.OpenQty = openQty

	if required > account.FreeMargin {
		return nil, schema.ReasonInsufficientMargin, nil
	}

	reason := schema.ReasonApproved
	if audit.Flip {
		reason = schema.ReasonApprovedFlip
	}
	return &schema.OrderIntent{
		Symbol: signal.Symbol,
		Side:   signal.Side,
		Qty:    netQty * signal.Side.Sign(),
		Type:   schema.OrderTypeMarket,
		Audit:  audit,
	}, reason, nil
}

// closeOnly flattens the current position regardless of margin.
func (e *Engine) closeOnly(signal schema.Signal, bar schema.Bar, account Account, currentQty float64) (*schema.OrderIntent, schema.Reason, error) {
	if currentQty == 0 {
		return nil, schema.ReasonNothingToClose, nil
	}
	qty := -currentQty
	side := schema.SideBuy
	if qty < 0 {
		side = schema.SideSell
	}
	closeQty := math.Abs(currentQty)
	return &schema.OrderIntent{
		Symbol: signal.Symbol,
		Side:   side,
		Qty:    qty,
		Type:   schema.OrderTypeMarket,
		Audit: schema.IntentAudit{
			StopSource: schema.StopSourceNone,
			EntryPrice: bar.Close,
			Notional:   closeQty * bar.Close,
			FreeMargin: account.FreeMargin,
			MarginTier: e.cfg.MarginBufferTier,
			CloseOnly:  true,
			CloseQty:   closeQty,
		},
	}, schema.ReasonApprovedCloseOnly, nil
}

// applyCaps scales qty down to the tighter of the notional caps.
func (e *Engine) applyCaps(qty, price, equity float64) (float64, bool, string) {
	var (
		applied bool
		reason  string
	)
	notional := qty * price
	if limit := e.cfg.MaxNotionalPerSymbol; limit > 0 && notional > limit {
		qty *= limit / notional
		notional = limit
		applied, reason = true, CapMaxNotionalPerSymbol
	}
	if pct := e.cfg.MaxNotionalPctEquity; pct > 0 {
		if limit := equity * pct; notional > limit {
			qty *= limit / notional
			applied, reason = true, CapMaxNotionalPctEquity
		}
	}
	return qty, applied, reason
}

func (e *Engine) round(qty float64) float64 {
	switch e.cfg.Rounding {
	case RoundingFloor:
		return math.Floor(qty/qtyStep) * qtyStep
	case RoundingRound:
		return math.Round(qty/qtyStep) * qtyStep
	default:
		return qty
	}
}

// buffers returns the fee, slippage and adverse move buffers for the tier.
func (e *Engine) buffers(notional float64) (float64, float64, float64) {
	var mult float64
	switch e.cfg.MarginBufferTier {
	case 2:
		mult = 1
	case 3:
		mult = 2
	default:
		return 0, 0, 0
	}
	fee := notional * e.cfg.FeeBps * 1e-4 * mult
	slip := notional * e.cfg.SlippageBps * 1e-4 * mult
	adverse := notional * e.cfg.AdverseMoveBps * 1e-4 * mult
	return fee, slip, adverse
}

// RequiredMargin returns the margin the engine requires to trade qty at price.
func (e *Engine) RequiredMargin(qty, price, maxLeverage float64) float64 {
	if !(maxLeverage > 0) {
		maxLeverage = 1
	}
	notional := math.Abs(qty) * price
	fee, slip, adverse := e.buffers(notional)
	return notional/maxLeverage + fee + slip + adverse
}
