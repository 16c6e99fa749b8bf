package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func fillAt(ts time.Time, side schema.Side, qty, price, fee float64) schema.Fill {
	return schema.Fill{
		OrderID: 1,
		Ts:      ts,
		Symbol:  "BTC",
		Side:    side,
		Qty:     qty,
		Price:   price,
		Fee:     fee,
	}
}

func TestPositionOpenAndAdd(t *testing.T) {
	pos := Position{Symbol: "BTC"}
	pos, trades := pos.Apply(fillAt(t0, schema.SideBuy, 2, 100, 0.2), 0)
	require.Empty(t, trades)
	pos, trades = pos.Apply(fillAt(t0.Add(time.Minute), schema.SideBuy, 2, 110, 0.2), 0)
	require.Empty(t, trades)

	assert.Equal(t, PositionOpen, pos.State)
	assert.Equal(t, schema.SideBuy, pos.Side)
	assert.InDelta(t, 4, pos.Qty, 1e-12)
	assert.InDelta(t, 105, pos.AvgEntry, 1e-12)
	assert.InDelta(t, 0.4, pos.EntryFees, 1e-12)
	assert.Equal(t, t0, pos.OpenedAt)
}

func TestPositionPartialCloseEmitsTrade(t *testing.T) {
	pos, _ := Position{Symbol: "BTC"}.Apply(fillAt(t0, schema.SideBuy, 10, 100, 1), 0)
	pos, trades := pos.Apply(fillAt(t0.Add(time.Hour), schema.SideSell, 4, 105, 0.4), 0)

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.InDelta(t, 4, tr.Qty, 1e-12)
	assert.InDelta(t, 20, tr.PnL, 1e-9)
	assert.InDelta(t, 0.4+0.4, tr.Fees, 1e-12)
	assert.Equal(t, t0, tr.EntryTs)
	assert.Equal(t, t0.Add(time.Hour), tr.ExitTs)

	assert.Equal(t, PositionReducing, pos.State)
	assert.InDelta(t, 6, pos.Qty, 1e-12)
	assert.InDelta(t, 100, pos.AvgEntry, 1e-12)
	assert.InDelta(t, 20, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.6, pos.EntryFees, 1e-12)
}

func TestPositionExactCloseIsClosed(t *testing.T) {
	pos, _ := Position{Symbol: "BTC"}.Apply(fillAt(t0, schema.SideSell, 3, 50, 0), 0)
	pos, trades := pos.Apply(fillAt(t0.Add(time.Hour), schema.SideBuy, 3, 40, 0), 0)

	require.Len(t, trades, 1)
	assert.InDelta(t, 30, trades[0].PnL, 1e-9)
	assert.Equal(t, schema.SideSell, trades[0].Side)
	assert.Equal(t, PositionClosed, pos.State)
	assert.Zero(t, pos.Qty)
	assert.False(t, pos.IsOpen())
	assert.Equal(t, t0.Add(time.Hour), pos.ClosedAt)
}

func TestPositionDustResidualCloses(t *testing.T) {
	pos, _ := Position{Symbol: "BTC"}.Apply(fillAt(t0, schema.SideBuy, 1, 100, 0), 0)
	pos, trades := pos.Apply(fillAt(t0.Add(time.Hour), schema.SideSell, 0.9999999999995, 101, 0), 0)

	require.Len(t, trades, 1)
	assert.Equal(t, PositionClosed, pos.State)
	assert.Zero(t, pos.Qty)
}

func TestPositionFlipReopensRemainder(t *testing.T) {
	pos, _ := Position{Symbol: "BTC"}.Apply(fillAt(t0, schema.SideBuy, 10, 100, 1), 0)
	flip := fillAt(t0.Add(time.Hour), schema.SideSell, 15, 110, 1.5)
	pos, trades := pos.Apply(flip, 0)

	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, schema.SideBuy, tr.Side)
	assert.InDelta(t, 10, tr.Qty, 1e-12)
	assert.InDelta(t, 100, tr.PnL, 1e-9)
	assert.InDelta(t, 1+1.0, tr.Fees, 1e-12)

	assert.Equal(t, PositionOpen, pos.State)
	assert.Equal(t, schema.SideSell, pos.Side)
	assert.InDelta(t, 5, pos.Qty, 1e-12)
	assert.InDelta(t, 110, pos.AvgEntry, 1e-12)
	assert.InDelta(t, 0.5, pos.EntryFees, 1e-12)
	assert.InDelta(t, 100, pos.RealizedPnL, 1e-9)
	assert.Equal(t, flip.Ts, pos.OpenedAt)
}

func TestPositionMarkTracksExtremes(t *testing.T) {
	pos, _ := Position{Symbol: "BTC"}.Apply(fillAt(t0, schema.SideBuy, 2, 100, 0), 0)
	pos = pos.Mark(schema.Bar{Symbol: "BTC", Ts: t0, Open: 100, High: 108, Low: 95, Close: 104})

	assert.InDelta(t, 8, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 95, pos.MAE(), 1e-12)
	assert.InDelta(t, 108, pos.MFE(), 1e-12)

	_, trades := pos.Apply(fillAt(t0.Add(time.Hour), schema.SideSell, 2, 104, 0), 0)
	require.Len(t, trades, 1)
	assert.InDelta(t, 95, trades[0].MAE, 1e-12)
	assert.InDelta(t, 108, trades[0].MFE, 1e-12)
}

func TestPositionRiskCarriedToTrade(t *testing.T) {
	entry := fillAt(t0, schema.SideBuy, 10, 100, 0)
	entry.Risk = schema.RiskContext{EntryQty: 10, StopDistance: 5, RiskAmount: 50, RMetricsValid: true}
	pos, _ := Position{Symbol: "BTC"}.Apply(entry, 0)
	_, trades := pos.Apply(fillAt(t0.Add(time.Hour), schema.SideSell, 5, 110, 0), 0)

	require.Len(t, trades, 1)
	// half the position closed: risk 25, pnl 50
	assert.InDelta(t, 2, trades[0].RMultiple(), 1e-9)
}

func TestPositionStateText(t *testing.T) {
	for _, s := range []PositionState{PositionFlat, PositionOpen, PositionReducing, PositionClosed} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back PositionState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s PositionState
	assert.Error(t, s.UnmarshalText([]byte("HALF")))
}
