package obs

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"backtest/internal/schema"
)

const maxEventType = int(schema.EventSummary)

// Metrics exports kernel activity to a Prometheus registry owned by the
// instance and keeps lightweight counters readable without scraping.
type Metrics struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	fills        prometheus.Counter
	liquidations *prometheus.CounterVec
	trades       prometheus.Counter
	equity       prometheus.Gauge
	freeMargin   prometheus.Gauge
	tickSeconds  prometheus.Histogram

	eventCounts [maxEventType + 1]uint64
	tickLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current counter values.
type Snapshot struct {
	EventCounts map[schema.EventType]uint64
	TickLatency LatencySnapshot
}

// NewMetrics creates metrics registered on a fresh registry. constLabels are
// attached to every series, e.g. a run id.
func NewMetrics(constLabels prometheus.Labels) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest", Name: "decisions_total",
			Help: "Risk decisions by reason code.", ConstLabels: constLabels,
		}, []string{"reason"}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backtest", Name: "fills_total",
			Help: "Simulated fills.", ConstLabels: constLabels,
		}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest", Name: "liquidation_fills_total",
			Help: "Forced liquidation fills by cause.", ConstLabels: constLabels,
		}, []string{"cause"}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backtest", Name: "trades_total",
			Help: "Closed trades.", ConstLabels: constLabels,
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtest", Name: "equity",
			Help: "Account equity at the last tick.", ConstLabels: constLabels,
		}),
		freeMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtest", Name: "free_margin",
			Help: "Free margin at the last tick.", ConstLabels: constLabels,
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "backtest", Name: "tick_duration_seconds",
			Help: "Wall time spent processing one tick.", ConstLabels: constLabels,
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	m.registry.MustRegister(m.decisions, m.fills, m.liquidations, m.trades, m.equity, m.freeMargin, m.tickSeconds)
	return m
}

// Registry returns the registry holding every series of m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OnDecision(decision schema.Decision) error {
	if m == nil {
		return nil
	}
	m.observe(schema.EventDecision)
	m.decisions.WithLabelValues(string(decision.Reason)).Inc()
	return nil
}

func (m *Metrics) OnOrder(schema.Order) error {
	if m == nil {
		return nil
	}
	m.observe(schema.EventOrder)
	return nil
}

func (m *Metrics) OnFill(fill schema.Fill) error {
	if m == nil {
		return nil
	}
	m.observe(schema.EventFill)
	m.fills.Inc()
	if cause, ok := strings.CutPrefix(fill.Tag, "liquidation:"); ok {
		m.liquidations.WithLabelValues(cause).Inc()
	}
	return nil
}

func (m *Metrics) OnEquity(row schema.EquityRow) error {
	if m == nil {
		return nil
	}
	m.observe(schema.EventEquity)
	m.equity.Set(row.Equity)
	m.freeMargin.Set(row.FreeMargin)
	return nil
}

func (m *Metrics) OnTrade(schema.Trade) error {
	if m == nil {
		return nil
	}
	m.observe(schema.EventTrade)
	m.trades.Inc()
	return nil
}

// ObserveTick records the wall time spent on one tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d)
	m.tickSeconds.Observe(d.Seconds())
}

func (m *Metrics) observe(t schema.EventType) {
	idx := int(t)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	return Snapshot{
		EventCounts: eventCounts,
		TickLatency: m.tickLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
