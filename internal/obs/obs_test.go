package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
)

func TestSequence(t *testing.T) {
	seq := NewSequence(0)
	assert.Equal(t, uint64(0), seq.Last())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seq.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), seq.Last())
	assert.Equal(t, uint64(801), seq.Next())

	var nilSeq *Sequence
	assert.Zero(t, nilSeq.Next())
}

func TestMetricsSink(t *testing.T) {
	m := NewMetrics(prometheus.Labels{"strategy": "breakout"})
	require.NoError(t, m.OnDecision(schema.Decision{Reason: schema.ReasonApproved}))
	require.NoError(t, m.OnDecision(schema.Decision{Reason: schema.ReasonInsufficientMargin}))
	require.NoError(t, m.OnDecision(schema.Decision{Reason: schema.ReasonApproved}))
	require.NoError(t, m.OnOrder(schema.Order{}))
	require.NoError(t, m.OnFill(schema.Fill{}))
	require.NoError(t, m.OnFill(schema.Fill{Tag: schema.TagLiquidationMargin}))
	require.NoError(t, m.OnTrade(schema.Trade{}))
	require.NoError(t, m.OnEquity(schema.EquityRow{Equity: 1234, FreeMargin: -5}))
	m.ObserveTick(3 * time.Millisecond)
	m.ObserveTick(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(schema.ReasonApproved))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fills))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liquidations.WithLabelValues("negative_free_margin")))
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.equity))
	assert.Equal(t, -5.0, testutil.ToFloat64(m.freeMargin))

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.EventCounts[schema.EventDecision])
	assert.Equal(t, uint64(2), snap.EventCounts[schema.EventFill])
	assert.Equal(t, uint64(2), snap.TickLatency.Count)
	assert.Equal(t, time.Millisecond, snap.TickLatency.Min)
	assert.Equal(t, 3*time.Millisecond, snap.TickLatency.Max)
	assert.Equal(t, 2*time.Millisecond, snap.TickLatency.Avg)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.OnFill(schema.Fill{}))
	assert.NoError(t, m.OnEquity(schema.EquityRow{}))
	m.ObserveTick(time.Second)
	assert.Empty(t, m.Snapshot().EventCounts)
}
