package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

func TestBpsFee(t *testing.T) {
	fee, err := NewFeeModel(Config{FeeBps: 10})
	require.NoError(t, err)
	assert.InDelta(t, 1, fee.Fee(1_000, 10), 1e-12)
	assert.InDelta(t, 1, fee.Fee(-1_000, 10), 1e-12)

	_, err = NewFeeModel(Config{FeeBps: -1})
	require.ErrorIs(t, err, exception.ErrConfiguration)
}

func TestSlippageModels(t *testing.T) {
	bar := schema.Bar{Symbol: "BTC", Ts: time.Unix(0, 0).UTC(), Open: 1, High: 1, Low: 1, Close: 1, Volume: 100}

	none, err := NewSlippageModel(Config{})
	require.NoError(t, err)
	assert.Zero(t, none.Cost(1_000, 10, bar))

	fixed, err := NewSlippageModel(Config{SlippageModel: SlippageFixedBps, SlippageBps: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fixed.Cost(1_000, 10, bar), 1e-12)

	volume, err := NewSlippageModel(Config{SlippageModel: SlippageVolume, SlippageBps: 5, SlippageImpact: 10})
	require.NoError(t, err)
	// 10% of the bar volume adds 1 bp
	assert.InDelta(t, 1_000*6e-4, volume.Cost(1_000, 10, bar), 1e-12)

	bar.Volume = 0
	assert.InDelta(t, 0.5, volume.Cost(1_000, 10, bar), 1e-12)
}

func TestSlippageModelRejectsUnknown(t *testing.T) {
	_, err := NewSlippageModel(Config{SlippageModel: "random"})
	require.ErrorIs(t, err, exception.ErrConfiguration)

	_, err = NewSlippageModel(Config{SlippageBps: -2})
	require.ErrorIs(t, err, exception.ErrConfiguration)
}
