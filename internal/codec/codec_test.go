package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
)

var ts = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFillPayload(t *testing.T) {
	fill := schema.Fill{
		OrderID:   7,
		Symbol:    "BTC",
		Ts:        ts,
		Side:      schema.SideSell,
		Qty:       1.5,
		Price:     99.5,
		Fee:       0.15,
		Slippage:  0.3,
		CloseOnly: true,
		Tag:       "liquidation_end_of_run",
		Costs: schema.FillCosts{
			ReferencePrice: 100,
			IntrabarPrice:  99.8,
			SpreadCost:     0.2,
			SlippageCost:   0.3,
			Fee:            0.15,
		},
		Risk: schema.RiskContext{EntryQty: 3, StopDistance: 2, RiskAmount: 6, RMetricsValid: true},
	}
	buf := EncodeFill(nil, fill)
	assert.Len(t, buf, FillFixedSize+2+3+2+len(fill.Tag))

	got, ok := DecodeFill(buf)
	require.True(t, ok)
	assert.Equal(t, fill, got)

	_, ok = DecodeFill(buf[:FillFixedSize-1])
	assert.False(t, ok)
	_, ok = DecodeFill(buf[:FillFixedSize+3])
	assert.False(t, ok)

	// reuses a large enough buffer
	reused := EncodeFill(make([]byte, 0, 512), fill)
	assert.Equal(t, buf, reused)
}

func TestEquityPayload(t *testing.T) {
	row := schema.EquityRow{
		Ts: ts, Cash: 9990, Equity: 10050, RealizedPnL: 20, UnrealizedPnL: 40,
		UsedMargin: 500, FreeMargin: 9550, Liquidation: "negative_free_margin",
	}
	got, ok := DecodeEquity(EncodeEquity(nil, row))
	require.True(t, ok)
	assert.Equal(t, row, got)

	_, ok = DecodeEquity(make([]byte, EquityFixedSize-1))
	assert.False(t, ok)
}

func TestJSONRecords(t *testing.T) {
	decision := schema.Decision{
		Ts: ts, Symbol: "ETH", Side: schema.SideBuy, SignalType: "breakout_long",
		Confidence: 0.8, StopKind: schema.StopKindStructural, Reason: schema.ReasonInsufficientMargin,
	}
	data, err := EncodeDecision(decision)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"side":"BUY"`)
	back, err := DecodeDecision(data)
	require.NoError(t, err)
	assert.Equal(t, decision, back)

	trade := schema.Trade{Symbol: "ETH", Side: schema.SideSell, Qty: 2, EntryPrice: 10, ExitPrice: 9, EntryTs: ts, ExitTs: ts.Add(time.Hour), PnL: 2}
	data, err = EncodeTrade(trade)
	require.NoError(t, err)
	tradeBack, err := DecodeTrade(data)
	require.NoError(t, err)
	assert.Equal(t, trade, tradeBack)

	_, err = DecodeTrade([]byte("{"))
	assert.Error(t, err)
}
