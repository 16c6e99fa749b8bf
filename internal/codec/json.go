package codec

import (
	"github.com/bytedance/sonic"

	"backtest/internal/schema"
)

// api uses the std-compatible sonic config so that map keys are sorted and
// repeated runs encode to identical bytes.
var api = sonic.ConfigStd

// EncodeJSON serializes a variable-shape record.
func EncodeJSON(v any) ([]byte, error) {
	return api.Marshal(v)
}

// DecodeJSON parses a variable-shape record.
func DecodeJSON(src []byte, v any) error {
	return api.Unmarshal(src, v)
}

// EncodeDecision serializes a risk decision record.
func EncodeDecision(decision schema.Decision) ([]byte, error) {
	return EncodeJSON(decision)
}

// DecodeDecision parses a risk decision record.
func DecodeDecision(src []byte) (schema.Decision, error) {
	var decision schema.Decision
	err := DecodeJSON(src, &decision)
	return decision, err
}

// EncodeTrade serializes a closed trade record.
func EncodeTrade(trade schema.Trade) ([]byte, error) {
	return EncodeJSON(trade)
}

// DecodeTrade parses a closed trade record.
func DecodeTrade(src []byte) (schema.Trade, error) {
	var trade schema.Trade
	err := DecodeJSON(src, &trade)
	return trade, err
}

// EncodeOrder serializes an order record.
func EncodeOrder(order schema.Order) ([]byte, error) {
	return EncodeJSON(order)
}

// DecodeOrder parses an order record.
func DecodeOrder(src []byte) (schema.Order, error) {
	var order schema.Order
	err := DecodeJSON(src, &order)
	return order, err
}

// EncodeJSONIndent serializes v as indented JSON for files meant to be read by people.
func EncodeJSONIndent(v any) ([]byte, error) {
	return api.MarshalIndent(v, "", "  ")
}
