package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/indicator"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var bar = schema.Bar{Symbol: "BTC", Ts: ts, Open: 100, High: 104, Low: 96, Close: 100, Volume: 10}

var account = Account{Equity: 10_000, FreeMargin: 10_000}

func engine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func entry(side schema.Side, stop schema.StopSpec) schema.Signal {
	return schema.Signal{
		Symbol:     "BTC",
		Ts:         ts,
		Side:       side,
		Type:       "entry",
		Confidence: 1,
		Meta:       schema.SignalMeta{Stop: stop},
	}
}

func TestStrictModeWithoutStopFails(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, nil), bar, account, 1, 0, nil)
	require.ErrorIs(t, err, exception.ErrStopUnresolved)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonStrictStopMissing, reason)
	assert.Contains(t, err.Error(), "signal.meta.stop")
}

func TestExplicitStopSizesByRisk(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, schema.ReasonApproved, reason)
	assert.InDelta(t, 20, intent.Qty, 1e-9)
	assert.Equal(t, schema.OrderTypeMarket, intent.Type)

	audit := intent.Audit
	assert.Equal(t, schema.StopSourceExplicit, audit.StopSource)
	assert.True(t, audit.RMetricsValid)
	assert.False(t, audit.UsedLegacyStopProxy)
	assert.InDelta(t, 5, audit.StopDistance, 1e-12)
	assert.InDelta(t, 100, audit.RiskAmount, 1e-9)
	assert.InDelta(t, 100, audit.EffectiveRisk, 1e-9)
	assert.InDelta(t, 2_000, audit.Notional, 1e-9)
	assert.InDelta(t, 2_000, audit.RequiredMargin, 1e-9)
	assert.InDelta(t, 20, audit.OpenQty, 1e-9)
	assert.False(t, audit.Flip)
}

func TestShortStructuralStop(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideSell, schema.StructuralStop{Price: 104}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApproved, reason)
	assert.InDelta(t, -25, intent.Qty, 1e-9)
	assert.Equal(t, schema.StopSourceStructural, intent.Audit.StopSource)
}

func TestStopOnWrongSideRejected(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 101}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonStopWrongSide, reason)
}

func TestLegacyProxyMarksRMetricsInvalid(t *testing.T) {
	e := engine(t, func(c *Config) {
		c.StopResolution = StopResolutionSafe
		c.LegacyStopProxy = true
	})
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, nil), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApproved, reason)
	// bar range 8
	assert.InDelta(t, 12.5, intent.Qty, 1e-9)
	assert.True(t, intent.Audit.UsedLegacyStopProxy)
	assert.False(t, intent.Audit.RMetricsValid)
	assert.Equal(t, schema.StopSourceLegacyProxy, intent.Audit.StopSource)
}

func TestSafeModeWithoutProxyRejects(t *testing.T) {
	e := engine(t, func(c *Config) { c.StopResolution = StopResolutionSafe })
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, nil), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonStopUnresolved, reason)
}

func TestHybridStopNotSupported(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.HybridStop{}), bar, account, 1, 0, nil)
	require.ErrorIs(t, err, exception.ErrNotSupported)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonStopNotSupported, reason)
}

func TestATRStop(t *testing.T) {
	e := engine(t, nil)
	sig := entry(schema.SideBuy, schema.ATRStop{Multiple: 2})

	_, reason, err := e.SignalToOrderIntent(sig, bar, account, 1, 0, indicator.Snapshot{"atr": {Value: 3, Ready: false}})
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonATRNotReady, reason)

	intent, reason, err := e.SignalToOrderIntent(sig, bar, account, 1, 0, indicator.Snapshot{"atr": {Value: 2.5, Ready: true}})
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApproved, reason)
	assert.InDelta(t, 20, intent.Qty, 1e-9)
	assert.Equal(t, schema.StopSourceATR, intent.Audit.StopSource)

	named := entry(schema.SideBuy, schema.ATRStop{Multiple: 1, Indicator: "atr_fast"})
	intent, _, err = e.SignalToOrderIntent(named, bar, account, 1, 0, indicator.Snapshot{"atr_fast": {Value: 10, Ready: true}})
	require.NoError(t, err)
	assert.InDelta(t, 10, intent.Qty, 1e-9)
}

func TestStopFloorWidensSizingDistance(t *testing.T) {
	e := engine(t, func(c *Config) { c.StopFloor = 10 })
	intent, _, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 10, intent.Qty, 1e-9)
	assert.InDelta(t, 10, intent.Audit.StopDistance, 1e-12)
}

func TestNotionalCaps(t *testing.T) {
	perSymbol := engine(t, func(c *Config) { c.MaxNotionalPerSymbol = 1_000 })
	intent, _, err := perSymbol.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 10, intent.Qty, 1e-9)
	assert.True(t, intent.Audit.CapApplied)
	assert.Equal(t, CapMaxNotionalPerSymbol, intent.Audit.CapReason)
	// the budget stays equity × r_per_trade, the capped quantity risks half of it
	assert.InDelta(t, 100, intent.Audit.RiskAmount, 1e-9)
	assert.InDelta(t, 50, intent.Audit.EffectiveRisk, 1e-9)

	pct := engine(t, func(c *Config) {
		c.MaxNotionalPerSymbol = 1_000
		c.MaxNotionalPctEquity = 0.05
	})
	intent, _, err = pct.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 5, intent.Qty, 1e-9)
	assert.Equal(t, CapMaxNotionalPctEquity, intent.Audit.CapReason)
}

func TestMarginTiers(t *testing.T) {
	cases := []struct {
		tier     int
		required float64
	}{
		{1, 2_000},
		{2, 2_000 + 2 + 1 + 10},
		{3, 2_000 + 4 + 2 + 20},
	}
	for _, c := range cases {
		e := engine(t, func(cfg *Config) {
			cfg.MarginBufferTier = c.tier
			cfg.FeeBps = 10
			cfg.SlippageBps = 5
			cfg.AdverseMoveBps = 50
		})
		intent, _, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, account, 1, 0, nil)
		require.NoError(t, err)
		assert.InDelta(t, c.required, intent.Audit.RequiredMargin, 1e-9, "tier %d", c.tier)
		assert.Equal(t, c.tier, intent.Audit.MarginTier)
		assert.InDelta(t, c.required, e.RequiredMargin(20, 100, 1), 1e-9)
	}
}

func TestInsufficientMargin(t *testing.T) {
	e := engine(t, nil)
	poor := Account{Equity: 10_000, FreeMargin: 1_999}
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, poor, 1, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonInsufficientMargin, reason)

	// leverage lowers the requirement
	intent, reason, err = e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, poor, 2, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApproved, reason)
	assert.InDelta(t, 1_000, intent.Audit.RequiredMargin, 1e-9)
}

func TestFlipClosesAndOpens(t *testing.T) {
	e := engine(t, nil)
	intent, reason, err := e.SignalToOrderIntent(entry(schema.SideSell, schema.ExplicitStop{Price: 105}), bar, account, 1, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApprovedFlip, reason)
	assert.InDelta(t, -25, intent.Qty, 1e-9)
	assert.True(t, intent.Audit.Flip)
	assert.InDelta(t, 5, intent.Audit.CloseQty, 1e-12)
	assert.InDelta(t, 20, intent.Audit.OpenQty, 1e-9)
	assert.InDelta(t, 2_500, intent.Audit.Notional, 1e-9)
	assert.InDelta(t, 2_500, intent.Audit.RequiredMargin, 1e-9)
}

func TestFlipMarginCoversNetQuantity(t *testing.T) {
	e := engine(t, nil)
	flip := entry(schema.SideSell, schema.ExplicitStop{Price: 105})

	// 2100 covers the new 20 short but not the 25 traded
	intent, reason, err := e.SignalToOrderIntent(flip, bar, Account{Equity: 10_000, FreeMargin: 2_100}, 1, 5, nil)
	require.NoError(t, err)
	assert.Nil(t, intent)
	assert.Equal(t, schema.ReasonInsufficientMargin, reason)

	intent, reason, err = e.SignalToOrderIntent(flip, bar, Account{Equity: 10_000, FreeMargin: 2_500}, 1, 5, nil)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, schema.ReasonApprovedFlip, reason)
	assert.LessOrEqual(t, intent.Audit.RequiredMargin, intent.Audit.FreeMargin)

	tiered := engine(t, func(cfg *Config) {
		cfg.MarginBufferTier = 2
		cfg.FeeBps = 10
		cfg.AdverseMoveBps = 50
	})
	intent, _, err = tiered.SignalToOrderIntent(flip, bar, account, 1, 5, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, intent.Audit.FeeBuffer, 1e-9)
	assert.InDelta(t, 12.5, intent.Audit.AdverseMoveBuffer, 1e-9)
	assert.InDelta(t, 2_515, intent.Audit.RequiredMargin, 1e-9)
}

func TestExitSignalsAreCloseOnly(t *testing.T) {
	e := engine(t, nil)
	exit := entry(schema.SideSell, nil)
	exit.Type = "sma_cross_exit"

	intent, reason, err := e.SignalToOrderIntent(exit, bar, Account{}, 1, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApprovedCloseOnly, reason)
	assert.InDelta(t, -3, intent.Qty, 1e-12)
	assert.Equal(t, schema.SideSell, intent.Side)
	assert.True(t, intent.Audit.CloseOnly)

	_, reason, err = e.SignalToOrderIntent(exit, bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonNothingToClose, reason)

	reduce := entry(schema.SideBuy, nil)
	reduce.Meta.ReduceOnly = true
	intent, reason, err = e.SignalToOrderIntent(reduce, bar, account, 1, -2, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonApprovedCloseOnly, reason)
	assert.InDelta(t, 2, intent.Qty, 1e-12)
}

func TestIsExit(t *testing.T) {
	assert.True(t, IsExit(schema.Signal{Type: "breakout_exit"}))
	assert.True(t, IsExit(schema.Signal{Type: "CLOSE"}))
	assert.True(t, IsExit(schema.Signal{Type: "long_close"}))
	assert.True(t, IsExit(schema.Signal{Meta: schema.SignalMeta{CloseOnly: true}}))
	assert.False(t, IsExit(schema.Signal{Type: "entry"}))
	assert.False(t, IsExit(schema.Signal{Type: "closeout"}))
}

func TestAdmissionRejections(t *testing.T) {
	e := engine(t, func(c *Config) { c.MaxPositions = 1 })
	stop := schema.ExplicitStop{Price: 95}

	cases := []struct {
		name    string
		signal  schema.Signal
		bar     schema.Bar
		account Account
		current float64
		want    schema.Reason
	}{
		{"no side", entry(schema.SideUnknown, stop), bar, account, 0, schema.ReasonNoSide},
		{"symbol mismatch", func() schema.Signal { s := entry(schema.SideBuy, stop); s.Symbol = "ETH"; return s }(), bar, account, 0, schema.ReasonSymbolMismatch},
		{"invalid bar", entry(schema.SideBuy, stop), schema.Bar{Symbol: "BTC", Ts: ts, Open: 1, High: 0.5, Low: 1, Close: 1}, account, 0, schema.ReasonInvalidBar},
		{"max positions", entry(schema.SideBuy, stop), bar, Account{Equity: 10_000, FreeMargin: 10_000, OpenPositions: 1}, 0, schema.ReasonMaxPositions},
		{"non-positive equity", entry(schema.SideBuy, stop), bar, Account{FreeMargin: 10_000}, 0, schema.ReasonNonPositiveEquity},
		{"pyramiding", entry(schema.SideBuy, stop), bar, account, 2, schema.ReasonPyramiding},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			intent, reason, err := e.SignalToOrderIntent(c.signal, c.bar, c.account, 1, c.current, nil)
			require.NoError(t, err)
			assert.Nil(t, intent)
			assert.Equal(t, c.want, reason)
			assert.False(t, reason.Approved())
		})
	}

	zeroRisk := engine(t, func(c *Config) { c.RPerTrade = 0 })
	_, reason, err := zeroRisk.SignalToOrderIntent(entry(schema.SideBuy, stop), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonNonPositiveRisk, reason)
}

func TestRounding(t *testing.T) {
	e := engine(t, func(c *Config) { c.Rounding = RoundingFloor })
	intent, _, err := e.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 97}), bar, account, 1, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 33.33333333, intent.Qty, 1e-12)

	tiny := engine(t, func(c *Config) { c.Rounding = RoundingFloor })
	_, reason, err := tiny.SignalToOrderIntent(entry(schema.SideBuy, schema.ExplicitStop{Price: 95}), bar, Account{Equity: 1e-7, FreeMargin: 1}, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ReasonZeroQuantity, reason)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.LegacyStopProxy = true
	require.ErrorIs(t, bad.Validate(), exception.ErrConfiguration)

	_, err := NewEngine(Config{RPerTrade: 2})
	require.ErrorIs(t, err, exception.ErrConfiguration)

	_, err = NewEngine(Config{RPerTrade: 0.01, MarginBufferTier: 4})
	require.ErrorIs(t, err, exception.ErrConfiguration)

	_, err = NewEngine(Config{RPerTrade: 0.01, StopResolution: "lenient"})
	require.ErrorIs(t, err, exception.ErrConfiguration)
}
