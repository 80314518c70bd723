package regime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	v, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, v, 1e-9)

	_, err = SMA([]float64{1, 2}, 3)
	assert.Error(t, err)
	_, err = SMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	v, err := RSI(rising, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	v, err = RSI(flat, 14)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	alternating := make([]float64, 31)
	for i := range alternating {
		alternating[i] = 100 + float64(i%2)
	}
	v, err = RSI(alternating, 14)
	require.NoError(t, err)
	assert.True(t, v > 40 && v < 60, "alternating series should be near neutral, got %.2f", v)
	assert.False(t, math.IsNaN(v))

	_, err = RSI(rising[:14], 14)
	assert.Error(t, err)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()

	_, changed := tr.Observe("SPY", 1)
	assert.False(t, changed, "first observation is not a change")

	_, changed = tr.Observe("SPY", 1)
	assert.False(t, changed)

	prev, changed := tr.Observe("SPY", 2)
	assert.True(t, changed)
	assert.EqualValues(t, 1, prev)

	_, changed = tr.Observe("QQQ", 2)
	assert.False(t, changed, "underlyings are tracked independently")

	last, ok := tr.Last("SPY")
	assert.True(t, ok)
	assert.EqualValues(t, 2, last)
	assert.Len(t, tr.Snapshot(), 2)
}
