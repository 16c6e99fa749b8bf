package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
)

func bars(symbol string, closes ...float64) []schema.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]schema.Bar, len(closes))
	for i, c := range closes {
		out[i] = schema.Bar{Symbol: symbol, Ts: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestSMA(t *testing.T) {
	sma := NewSMA("sma", 3)
	for i, bar := range bars("BTC", 1, 2, 3, 4, 5) {
		sma.Update(bar)
		v := sma.Value()
		if i < 2 {
			assert.False(t, v.Ready)
			continue
		}
		require.True(t, v.Ready)
		assert.InDelta(t, float64(i), v.Value, 1e-12)
	}
}

func TestATRWilder(t *testing.T) {
	atr := NewATR("", 2)
	assert.Equal(t, "atr", atr.Name())

	series := bars("BTC", 10, 10, 13)
	atr.Update(series[0])
	assert.False(t, atr.Value().Ready)

	atr.Update(series[1])
	v := atr.Value()
	require.True(t, v.Ready)
	assert.InDelta(t, 2, v.Value, 1e-12)

	// true range uses the gap from the previous close: 14 - 10 = 4
	atr.Update(series[2])
	assert.InDelta(t, (2*1+4)/2.0, atr.Value().Value, 1e-12)
}

func TestSetKeepsIndicatorsPerSymbol(t *testing.T) {
	set := NewSet(func() Indicator { return NewSMA("sma", 2) })
	btc := bars("BTC", 10, 20)
	eth := bars("ETH", 1, 3)
	for i := range btc {
		set.Update(map[string]schema.Bar{"BTC": btc[i], "ETH": eth[i]})
	}

	assert.Equal(t, Value{Value: 15, Ready: true}, set.Snapshot("BTC").Get("sma"))
	assert.Equal(t, Value{Value: 2, Ready: true}, set.Snapshot("ETH").Get("sma"))
	assert.False(t, set.Snapshot("XRP").Get("sma").Ready)

	var nilSet *Set
	nilSet.Update(map[string]schema.Bar{"BTC": btc[0]})
	assert.Nil(t, nilSet.Snapshot("BTC"))
	assert.Equal(t, Value{}, Snapshot(nil).Get("atr"))
}
