package execution

import (
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/cost"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// Model advances open market orders one tick at a time and prices their fills.
type Model struct {
	cfg  Config
	fee  cost.FeeModel
	slip cost.SlippageModel
}

// NewModel validates cfg and creates an execution model. Nil cost models
// charge nothing.
func NewModel(cfg Config, fee cost.FeeModel, slip cost.SlippageModel) (*Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fee == nil {
		fee = cost.BpsFee{}
	}
	if slip == nil {
		slip = cost.NoSlippage{}
	}
	return &Model{cfg: cfg, fee: fee, slip: slip}, nil
}

// Config returns the resolved configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Process advances every order by one tick. Orders without a bar this tick are
// returned unchanged; their delay is only consumed on ticks with a bar.
func (m *Model) Process(ts time.Time, bars map[string]schema.Bar, orders []schema.Order) ([]schema.Order, []schema.Fill, error) {
	out := make([]schema.Order, len(orders))
	copy(out, orders)

	var fills []schema.Fill
	for i := range out {
		o := &out[i]
		if o.Type != schema.OrderTypeMarket {
			return nil, nil, errors.Wrapf(exception.ErrUnsupportedOrderType, "order %d: type %s", o.ID, o.Type)
		}
		if o.State.Terminal() {
			continue
		}
		bar, ok := bars[o.Symbol]
		if !ok {
			continue
		}
		if o.State == schema.OrderStateNew {
			if err := order.Transition(o, schema.OrderStateSubmitted); err != nil {
				return nil, nil, err
			}
		}
		if o.DelayRemaining > 0 {
			o.DelayRemaining--
			continue
		}
		fill, err := m.fill(ts, bar, o)
		if err != nil {
			return nil, nil, err
		}
		fills = append(fills, fill)
	}
	return out, fills, nil
}

// FillNow fills o against bar immediately, ignoring any remaining delay.
// Forced liquidations use it.
func (m *Model) FillNow(ts time.Time, bar schema.Bar, o schema.Order) (schema.Order, schema.Fill, error) {
	if o.Type != schema.OrderTypeMarket {
		return o, schema.Fill{}, errors.Wrapf(exception.ErrUnsupportedOrderType, "order %d: type %s", o.ID, o.Type)
	}
	if bar.Symbol != o.Symbol {
		return o, schema.Fill{}, errors.Wrapf(exception.ErrInvalidArgument, "order %d for %s priced against bar of %s", o.ID, o.Symbol, bar.Symbol)
	}
	if o.State == schema.OrderStateNew {
		if err := order.Transition(&o, schema.OrderStateSubmitted); err != nil {
			return o, schema.Fill{}, err
		}
	}
	o.DelayRemaining = 0
	fill, err := m.fill(ts, bar, &o)
	return o, fill, err
}

func (m *Model) fill(ts time.Time, bar schema.Bar, o *schema.Order) (schema.Fill, error) {
	dir := o.Side.Sign()
	if dir == 0 {
		return schema.Fill{}, errors.Wrapf(exception.ErrInvalidArgument, "order %d: side %s", o.ID, o.Side)
	}
	if !(o.Qty > 0) {
		return schema.Fill{}, errors.Wrapf(exception.ErrInvalidArgument, "order %d: qty %v must be > 0", o.ID, o.Qty)
	}

	intrabar := IntrabarPrice(m.cfg.IntrabarMode, bar, o.Side)
	price := intrabar + dir*m.halfSpread(bar, intrabar)
	spreadCost := (price - intrabar) * dir * o.Qty

	slippageCost := m.slip.Cost(price*o.Qty, o.Qty, bar)
	price += dir * slippageCost / o.Qty
	if !(price > 0) {
		return schema.Fill{}, errors.Wrapf(exception.ErrInvariantViolation, "order %d: fill price %v after costs is not positive", o.ID, price)
	}
	fee := m.fee.Fee(price*o.Qty, o.Qty)

	if err := order.Transition(o, schema.OrderStateFilled); err != nil {
		return schema.Fill{}, err
	}
	return schema.Fill{
		OrderID:  o.ID,
		Ts:       ts,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Qty:      o.Qty,
		Price:    price,
		Fee:      fee,
		Slippage: slippageCost,
		Costs: schema.FillCosts{
			ReferencePrice: bar.Close,
			IntrabarPrice:  intrabar,
			SpreadCost:     spreadCost,
			SlippageCost:   slippageCost,
			Fee:            fee,
		},
		CloseOnly: o.CloseOnly,
		Tag:       o.Tag,
		Risk:      o.Risk(),
	}, nil
}

func (m *Model) halfSpread(bar schema.Bar, price float64) float64 {
	switch m.cfg.SpreadMode {
	case SpreadFixedBps:
		return price * m.cfg.SpreadBps * 1e-4
	case SpreadBarRangeProxy:
		return bar.Range() / 4
	default:
		return 0
	}
}

// IntrabarPrice returns the price a market order on side fills at within bar.
func IntrabarPrice(mode IntrabarMode, bar schema.Bar, side schema.Side) float64 {
	switch mode {
	case IntrabarBestCase:
		if side == schema.SideBuy {
			return bar.Low
		}
		return bar.High
	case IntrabarMidpoint:
		return (bar.High + bar.Low) / 2
	default:
		if side == schema.SideBuy {
			return bar.High
		}
		return bar.Low
	}
}
