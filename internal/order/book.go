package order

import (
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/obs"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// Book owns the orders of one run. IDs are assigned sequentially from 1 so
// repeated runs produce identical ids.
type Book struct {
	ids   *obs.Sequence
	open  []schema.Order
	index map[uint64]int
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{ids: obs.NewSequence(0), index: make(map[uint64]int)}
}

// Create materializes an admitted intent as a NEW order.
func (b *Book) Create(ts time.Time, intent schema.OrderIntent, delay int, tag string) (schema.Order, error) {
	if intent.Type != schema.OrderTypeMarket {
		return schema.Order{}, errors.Wrapf(exception.ErrUnsupportedOrderType, "order for %s: type %s", intent.Symbol, intent.Type)
	}
	qty := intent.Qty
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 {
		return schema.Order{}, errors.Wrapf(exception.ErrInvalidArgument, "order for %s: zero quantity", intent.Symbol)
	}
	if delay < 0 {
		delay = 0
	}
	o := schema.Order{
		ID:             b.ids.Next(),
		Ts:             ts,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Type:           intent.Type,
		Qty:            qty,
		State:          schema.OrderStateNew,
		DelayRemaining: delay,
		CloseOnly:      intent.Audit.CloseOnly,
		Tag:            tag,
		Audit:          intent.Audit,
	}
	b.index[o.ID] = len(b.open)
	b.open = append(b.open, o)
	return o, nil
}

// Open returns copies of the non-terminal orders in id order.
func (b *Book) Open() []schema.Order {
	out := make([]schema.Order, len(b.open))
	copy(out, b.open)
	return out
}

// Len returns the number of open orders.
func (b *Book) Len() int {
	return len(b.open)
}

// Order returns an open order by id.
func (b *Book) Order(id uint64) (schema.Order, bool) {
	idx, ok := b.index[id]
	if !ok {
		return schema.Order{}, false
	}
	return b.open[idx], true
}

// Update replaces open orders with their processed versions and drops the
// ones that reached a terminal state.
func (b *Book) Update(orders []schema.Order) error {
	for _, o := range orders {
		idx, ok := b.index[o.ID]
		if !ok {
			return errors.Wrapf(exception.ErrOrderUnknown, "order %d", o.ID)
		}
		prev := b.open[idx]
		if prev.State != o.State && !reachable(prev.State, o.State) {
			return errors.Wrapf(exception.ErrOrderInvalidTransition, "order %d: %s -> %s", o.ID, prev.State, o.State)
		}
		b.open[idx] = o
	}
	b.compact()
	return nil
}

// CancelAll cancels every open order and returns them in id order.
func (b *Book) CancelAll() []schema.Order {
	var cancelled []schema.Order
	for i := range b.open {
		o := &b.open[i]
		if err := Transition(o, schema.OrderStateCancelled); err == nil {
			cancelled = append(cancelled, *o)
		}
	}
	b.compact()
	return cancelled
}

func (b *Book) compact() {
	kept := b.open[:0]
	for _, o := range b.open {
		if !o.State.Terminal() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(b.open); i++ {
		b.open[i] = schema.Order{}
	}
	b.open = kept
	clear(b.index)
	for i, o := range b.open {
		b.index[o.ID] = i
	}
}

// reachable allows the NEW -> SUBMITTED -> FILLED hop an order makes when it
// fills on the tick it is first touched.
func reachable(from, to schema.OrderState) bool {
	if CanTransition(from, to) {
		return true
	}
	return from == schema.OrderStateNew && CanTransition(schema.OrderStateSubmitted, to)
}
