package order

import (
	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// CanTransition reports whether an order may move from one state to another.
func CanTransition(from, to schema.OrderState) bool {
	switch from {
	case schema.OrderStateNew:
		switch to {
		case schema.OrderStateSubmitted, schema.OrderStateCancelled, schema.OrderStateRejected:
			return true
		}
	case schema.OrderStateSubmitted:
		switch to {
		case schema.OrderStateFilled, schema.OrderStateCancelled, schema.OrderStateRejected:
			return true
		}
	}
	return false
}

// Transition moves o to state to, or fails with ErrOrderInvalidTransition.
func Transition(o *schema.Order, to schema.OrderState) error {
	if o == nil {
		return exception.ErrNilInstance
	}
	if !CanTransition(o.State, to) {
		return errors.Wrapf(exception.ErrOrderInvalidTransition, "order %d: %s -> %s", o.ID, o.State, to)
	}
	o.State = to
	return nil
}
