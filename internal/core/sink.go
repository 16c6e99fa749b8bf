package core

import "backtest/internal/schema"

// Sink receives every record as the kernel produces it. A sink error aborts
// the run.
type Sink interface {
	OnDecision(schema.Decision) error
	OnOrder(schema.Order) error
	OnFill(schema.Fill) error
	OnEquity(schema.EquityRow) error
	OnTrade(schema.Trade) error
}

// MultiSink fans records out to sinks in order.
type MultiSink []Sink

func (m MultiSink) OnDecision(d schema.Decision) error {
	for _, s := range m {
		if err := s.OnDecision(d); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) OnOrder(o schema.Order) error {
	for _, s := range m {
		if err := s.OnOrder(o); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) OnFill(f schema.Fill) error {
	for _, s := range m {
		if err := s.OnFill(f); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) OnEquity(r schema.EquityRow) error {
	for _, s := range m {
		if err := s.OnEquity(r); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) OnTrade(t schema.Trade) error {
	for _, s := range m {
		if err := s.OnTrade(t); err != nil {
			return err
		}
	}
	return nil
}

// Collector keeps every record in memory.
type Collector struct {
	Decisions []schema.Decision
	Orders    []schema.Order
	Fills     []schema.Fill
	Equity    []schema.EquityRow
	Trades    []schema.Trade
}

func (c *Collector) OnDecision(d schema.Decision) error {
	c.Decisions = append(c.Decisions, d)
	return nil
}

func (c *Collector) OnOrder(o schema.Order) error {
	c.Orders = append(c.Orders, o)
	return nil
}

func (c *Collector) OnFill(f schema.Fill) error {
	c.Fills = append(c.Fills, f)
	return nil
}

func (c *Collector) OnEquity(r schema.EquityRow) error {
	c.Equity = append(c.Equity, r)
	return nil
}

func (c *Collector) OnTrade(t schema.Trade) error {
	c.Trades = append(c.Trades, t)
	return nil
}
