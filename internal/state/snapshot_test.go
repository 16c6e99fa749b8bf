package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/recorder"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

func TestSnapshotWriteRead(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCash: 5_000})
	_, err := p.ApplyFills([]schema.Fill{fillAt(t0, schema.SideSell, 2, 100, 0.5)})
	require.NoError(t, err)

	snap := p.Snapshot(t0.UnixNano())
	snap.AuditSeq = 7
	assert.Equal(t, 1, snap.Fills)
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	require.NoError(t, WriteSnapshot(path, snap))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, PositionOpen, got.Positions[0].State)
	assert.Equal(t, schema.SideSell, got.Positions[0].Side)
}

func TestCompareSnapshotsDetectsDrift(t *testing.T) {
	base := Snapshot{
		Cash:        100,
		RealizedPnL: 5,
		Positions:   []PositionEntry{{Symbol: "BTC", Side: schema.SideBuy, Qty: 1, AvgEntry: 10}},
	}
	require.NoError(t, CompareSnapshots(base, base, 0))

	drift := base
	drift.Cash += 1
	assert.Error(t, CompareSnapshots(base, drift, 0))

	drift = base
	drift.Positions = []PositionEntry{{Symbol: "BTC", Side: schema.SideSell, Qty: 1, AvgEntry: 10}}
	assert.Error(t, CompareSnapshots(base, drift, 0))

	drift = base
	drift.Positions = []PositionEntry{{Symbol: "ETH", Side: schema.SideBuy, Qty: 1, AvgEntry: 10}}
	assert.ErrorIs(t, CompareSnapshots(base, drift, 0), exception.ErrInvariantViolation)

	drift = base
	drift.Fills++
	assert.ErrorIs(t, CompareSnapshots(base, drift, 0), exception.ErrInvariantViolation)

	// the audit position is bookkeeping, not state
	drift = base
	drift.AuditSeq = 99
	assert.NoError(t, CompareSnapshots(base, drift, 0))
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := ReadSnapshot(path)
	assert.ErrorIs(t, err, exception.ErrValidation)
}

func TestReplayRebuildsPortfolioFromAudit(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	sink := recorder.NewAuditSink(w)

	live := NewPortfolio(PortfolioConfig{InitialCash: 10_000})
	fills := []schema.Fill{
		fillAt(t0, schema.SideBuy, 10, 100, 1),
		fillAt(t0.Add(time.Hour), schema.SideSell, 15, 110, 1.5),
		fillAt(t0.Add(2*time.Hour), schema.SideBuy, 2, 105, 0.2),
	}
	for i, fill := range fills {
		fill.OrderID = uint64(i + 1)
		_, err := live.ApplyFills([]schema.Fill{fill})
		require.NoError(t, err)
		require.NoError(t, sink.OnFill(fill))
		require.NoError(t, sink.OnEquity(live.EquityRow(fill.Ts, "")))
	}
	require.NoError(t, sink.Close())

	res, err := Replay(t.Context(), ReplayConfig{
		AuditDir:  dir,
		Portfolio: PortfolioConfig{InitialCash: 10_000},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fills)
	assert.Equal(t, uint64(6), res.AuditSeq)
	assert.Equal(t, fills[2].Ts.UnixNano(), res.LastEventTs)

	actual := res.Snapshot()
	assert.Equal(t, 3, actual.Fills)
	assert.Equal(t, uint64(6), actual.AuditSeq)
	require.NoError(t, CompareSnapshots(live.Snapshot(res.LastEventTs), actual, 0))
	assert.InDelta(t, -3, res.Portfolio.SignedQty("BTC"), 1e-12)
}

func TestReplayRequiresDir(t *testing.T) {
	_, err := Replay(t.Context(), ReplayConfig{})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}
