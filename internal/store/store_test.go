package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
)

func TestOptionDSN(t *testing.T) {
	dsn, err := Option{}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432?sslmode=disable", dsn)

	dsn, err = Option{
		Host: "db", Port: 6543, User: "bt", Password: "p@ss", Database: "runs",
		Params: map[string]string{"search_path": "bt", "application_name": "backtest"},
	}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://bt:p%40ss@db:6543/runs?application_name=backtest&search_path=bt&sslmode=disable", dsn)

	dsn, err = Option{ConnString: "host=x", Port: -1}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "host=x", dsn)

	_, err = Option{Port: 70000}.dsn()
	assert.Error(t, err)
}

func TestRunSinkBuffersRecords(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := (&Store{}).NewRunSink("run-1")

	require.NoError(t, sink.OnDecision(schema.Decision{Ts: ts, Symbol: "BTC", Side: schema.SideBuy, Reason: schema.ReasonApproved, Approved: true}))
	require.NoError(t, sink.OnOrder(schema.Order{ID: 1}))
	require.NoError(t, sink.OnFill(schema.Fill{OrderID: 1, Symbol: "BTC", Side: schema.SideBuy, Qty: 2, Price: 10,
		Costs: schema.FillCosts{ReferencePrice: 9.9, SpreadCost: 0.1}}))
	require.NoError(t, sink.OnFill(schema.Fill{OrderID: 2, Symbol: "BTC", Side: schema.SideSell, Qty: 2, Price: 11}))
	require.NoError(t, sink.OnTrade(schema.Trade{Symbol: "BTC", Side: schema.SideBuy, Qty: 2, PnL: 2,
		Risk: schema.RiskContext{EntryQty: 2, RiskAmount: 1, RMetricsValid: true}}))
	require.NoError(t, sink.OnEquity(schema.EquityRow{Ts: ts, Equity: 100, Liquidation: schema.TagLiquidationEndOfRun}))

	require.Len(t, sink.decisions, 1)
	assert.Equal(t, "BUY", sink.decisions[0].Side)
	assert.Equal(t, "approved", sink.decisions[0].Reason)

	require.Len(t, sink.fills, 2)
	assert.Equal(t, 2, sink.fills[1].Seq)
	assert.Equal(t, "run-1", sink.fills[1].RunID)
	assert.Equal(t, 0.1, sink.fills[0].SpreadCost)

	require.Len(t, sink.trades, 1)
	assert.InDelta(t, 2, sink.trades[0].RMultiple, 1e-12)
	assert.True(t, sink.trades[0].RValid)

	require.Len(t, sink.equity, 1)
	assert.Equal(t, schema.TagLiquidationEndOfRun, sink.equity[0].Liquidation)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "backtest_runs", RunRecord{}.TableName())
	assert.Equal(t, "backtest_fills", FillRecord{}.TableName())
}
