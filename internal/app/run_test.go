package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/obs"
	"backtest/internal/ops"
	"backtest/internal/report"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/pkg/exception"
)

const config = `
engine:
  initial_cash: 10000
  max_leverage: 2
execution:
  intrabar_mode: midpoint
cost:
  fee_bps: 10
  slippage_model: fixed_bps
  slippage_bps: 5
strategy:
  name: buy_and_hold
  params:
    stop_pct: 0.1
data:
  dir: unused
`

func loadConfig(t *testing.T) ops.Loaded {
	t.Helper()
	loaded, err := ops.Parse([]byte(config))
	require.NoError(t, err)
	return loaded
}

func series() map[string][]schema.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := map[string][]schema.Bar{}
	for _, sym := range []string{"BTC", "ETH"} {
		base := 100.0
		if sym == "ETH" {
			base = 20
		}
		for i := 0; i < 5; i++ {
			c := base * (1 + 0.01*float64(i))
			out[sym] = append(out[sym], schema.Bar{
				Symbol: sym, Ts: t0.Add(time.Duration(i) * time.Hour),
				Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 10,
			})
		}
	}
	return out
}

func TestRunWritesArtifacts(t *testing.T) {
	loaded := loadConfig(t)
	dir := t.TempDir()
	metrics := obs.NewMetrics(nil)

	out, err := Run(context.Background(), loaded, series(), nil, Options{
		OutDir: dir, Audit: true, JSONL: true, Snapshot: true, Metrics: metrics,
	})
	require.NoError(t, err)

	assert.Equal(t, report.RunID(loaded.Raw, loaded.Strategy.Params), out.RunID)
	assert.Equal(t, 5, out.Summary.Ticks)
	assert.Equal(t, 2, out.Summary.Trades)
	assert.Equal(t, 4, out.Summary.Fills)
	assert.Equal(t, 2, out.Summary.LiquidationFills)
	assert.True(t, out.Summary.Reconciliation.OK, out.Summary.Reconciliation.Issues)
	assert.True(t, out.Summary.TotalFees.IsPositive())
	assert.Equal(t, uint64(4), metrics.Snapshot().EventCounts[schema.EventFill])

	for _, name := range []string{FileSummary, FileSnapshot, report.FileFills, report.FileEquity, report.FileDecisions} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	snap, err := state.ReadSnapshot(filepath.Join(dir, FileSnapshot))
	require.NoError(t, err)
	replayed, err := state.Replay(context.Background(), state.ReplayConfig{
		AuditDir:  filepath.Join(dir, DirAudit),
		Portfolio: state.PortfolioConfig{InitialCash: 10000, MaxLeverage: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, replayed.Fills)
	assert.Equal(t, 4, snap.Fills)
	// the summary record is the last one written before the snapshot
	assert.Equal(t, snap.AuditSeq, replayed.AuditSeq)
	assert.NoError(t, state.CompareSnapshots(snap, replayed.Snapshot(), 1e-8))
}

func TestRunIsDeterministic(t *testing.T) {
	loaded := loadConfig(t)
	a, err := Run(context.Background(), loaded, series(), nil, Options{})
	require.NoError(t, err)
	b, err := Run(context.Background(), loaded, series(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Summary, b.Summary)
	assert.Equal(t, a.Result.Fills, b.Result.Fills)

	c, err := Run(context.Background(), loaded, series(), map[string]float64{"stop_pct": 0.2}, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestRunFailures(t *testing.T) {
	loaded := loadConfig(t)
	loaded.Strategy.Name = "momentum"
	_, err := Run(context.Background(), loaded, series(), nil, Options{})
	assert.ErrorIs(t, err, exception.ErrConfiguration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, loadConfig(t), series(), nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Summary.Ticks)
	assert.NotEmpty(t, out.RunID)
}
