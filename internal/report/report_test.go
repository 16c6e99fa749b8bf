package report

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/codec"
	"backtest/internal/schema"
)

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRunIDIsStable(t *testing.T) {
	cfg := []byte("strategy:\n  name: breakout\n")
	a := RunID(cfg, map[string]float64{"lookback": 20, "x": 1})
	b := RunID(cfg, map[string]float64{"x": 1, "lookback": 20})
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, RunID(cfg, map[string]float64{"lookback": 21, "x": 1}))
	assert.NotEqual(t, a, RunID(append(cfg, ' '), map[string]float64{"lookback": 20, "x": 1}))
}

func TestMaxDrawdown(t *testing.T) {
	rows := []schema.EquityRow{{Equity: 110}, {Equity: 99}, {Equity: 120}, {Equity: 108}}
	assert.InDelta(t, 0.1, MaxDrawdown(100, rows), 1e-12)
	assert.Zero(t, MaxDrawdown(100, nil))
}

func sampleInput() Input {
	fills := []schema.Fill{
		{Symbol: "BTC", Side: schema.SideBuy, Qty: 1, Price: 100, Fee: 0.1, Slippage: 0.05,
			Costs: schema.FillCosts{Fee: 0.1, SlippageCost: 0.05, SpreadCost: 0.02}},
		{Symbol: "BTC", Side: schema.SideSell, Qty: 1, Price: 110, Fee: 0.11, Slippage: 0.05,
			Costs: schema.FillCosts{Fee: 0.11, SlippageCost: 0.05}, Tag: schema.TagLiquidationEndOfRun},
	}
	trades := []schema.Trade{{
		Symbol: "BTC", Side: schema.SideBuy, Qty: 1, EntryPrice: 100, ExitPrice: 110, PnL: 10, Fees: 0.21, Slippage: 0.1,
		Risk: schema.RiskContext{EntryQty: 1, RiskAmount: 5, RMetricsValid: true},
	}}
	return Input{
		RunID:       "run",
		Strategy:    "buy_and_hold",
		Ticks:       2,
		InitialCash: 1000,
		FinalCash:   1000 - 0.21,
		Fills:       fills,
		Trades:      trades,
		Equity:      []schema.EquityRow{{Equity: 1005}, {Equity: 1009.79}},
		Flat:        true,
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleInput())
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1.0, s.WinRate)
	assert.InDelta(t, 2, s.AvgR, 1e-12)
	assert.Equal(t, 1, s.ValidRTrades)
	assert.Equal(t, 1, s.LiquidationFills)
	assert.InDelta(t, 0.00979, s.TotalReturn, 1e-9)
	assert.True(t, s.TotalFees.Equal(decimal.RequireFromString("0.21")))
	assert.True(t, s.TotalSpread.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, s.Reconciliation.OK, s.Reconciliation.Issues)
}

func TestSummarizeFlagsDrift(t *testing.T) {
	in := sampleInput()
	in.FinalCash = 1000
	in.Trades[0].Fees = 0.2
	in.Fills[0].Costs.Fee = 0.09

	rec := Summarize(in).Reconciliation
	assert.False(t, rec.OK)
	assert.Len(t, rec.Issues, 3)

	// open positions hold entry costs not yet on any trade
	in = sampleInput()
	in.Trades = nil
	in.Flat = false
	assert.True(t, Summarize(in).Reconciliation.OK)
}

func TestJSONLWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewJSONLWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.OnFill(schema.Fill{OrderID: 1, Symbol: "BTC", Ts: ts, Side: schema.SideBuy, Qty: 1, Price: 10}))
	require.NoError(t, w.OnFill(schema.Fill{OrderID: 2, Symbol: "BTC", Ts: ts, Side: schema.SideSell, Qty: 1, Price: 11}))
	require.NoError(t, w.OnEquity(schema.EquityRow{Ts: ts, Equity: 1}))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, FileFills))
	require.NoError(t, err)
	defer f.Close()
	var ids []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fill schema.Fill
		require.NoError(t, codec.DecodeJSON(scanner.Bytes(), &fill))
		ids = append(ids, fill.OrderID)
	}
	assert.Equal(t, []uint64{1, 2}, ids)

	info, err := os.Stat(filepath.Join(dir, FileTrades))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSON(path, Summary{RunID: "abc", TotalFees: decimal.RequireFromString("1.5")}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runId": "abc"`)
	assert.Contains(t, string(data), `"totalFees": "1.5"`)
}
