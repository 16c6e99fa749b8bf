package recorder

import (
	"backtest/internal/codec"
	"backtest/internal/obs"
	"backtest/internal/schema"
)

// AuditSink encodes kernel records and appends them to an audit log. Sequence
// numbers are assigned in append order starting at 1.
type AuditSink struct {
	w       *Writer
	seq     *obs.Sequence
	scratch []byte
}

// NewAuditSink wraps a writer.
func NewAuditSink(w *Writer) *AuditSink {
	return &AuditSink{w: w, seq: obs.NewSequence(0)}
}

// Seq returns the sequence number of the last appended record.
func (s *AuditSink) Seq() uint64 {
	return s.seq.Last()
}

func (s *AuditSink) OnDecision(decision schema.Decision) error {
	payload, err := codec.EncodeDecision(decision)
	if err != nil {
		return err
	}
	return s.append(schema.EventDecision, decision.Ts.UnixNano(), payload)
}

func (s *AuditSink) OnOrder(order schema.Order) error {
	payload, err := codec.EncodeOrder(order)
	if err != nil {
		return err
	}
	return s.append(schema.EventOrder, order.Ts.UnixNano(), payload)
}

func (s *AuditSink) OnFill(fill schema.Fill) error {
	s.scratch = codec.EncodeFill(s.scratch, fill)
	return s.append(schema.EventFill, fill.Ts.UnixNano(), s.scratch)
}

func (s *AuditSink) OnEquity(row schema.EquityRow) error {
	s.scratch = codec.EncodeEquity(s.scratch, row)
	return s.append(schema.EventEquity, row.Ts.UnixNano(), s.scratch)
}

func (s *AuditSink) OnTrade(trade schema.Trade) error {
	payload, err := codec.EncodeTrade(trade)
	if err != nil {
		return err
	}
	return s.append(schema.EventTrade, trade.ExitTs.UnixNano(), payload)
}

// OnSummary appends a free-form run summary record.
func (s *AuditSink) OnSummary(tsEvent int64, summary any) error {
	payload, err := codec.EncodeJSON(summary)
	if err != nil {
		return err
	}
	return s.append(schema.EventSummary, tsEvent, payload)
}

// Close flushes and closes the underlying writer.
func (s *AuditSink) Close() error {
	return s.w.Close()
}

func (s *AuditSink) append(eventType schema.EventType, tsEvent int64, payload []byte) error {
	return s.w.Append(schema.NewHeader(eventType, s.seq.Next(), tsEvent), payload)
}
