package regime

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

func snapshot(vix, fast, slow, rsi float64) models.MarketSnapshot {
	return models.MarketSnapshot{Underlying: "SPY", Price: fast, VIX: vix, FastSMA: fast, SlowSMA: slow, RSI: rsi}
}

func TestDetect_Table(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	tests := []struct {
		name string
		snap models.MarketSnapshot
		want models.Regime
		vol  models.VolatilityState
	}{
		{"low vol uptrend", snapshot(12, 410, 395, 55), models.RegimeBullish, models.VolatilityLow},
		{"normal vol uptrend", snapshot(18, 410, 395, 55), models.RegimeBullish, models.VolatilityNormal},
		{"normal vol downtrend", snapshot(18, 380, 395, 45), models.RegimeBearish, models.VolatilityNormal},
		{"normal vol flat", snapshot(18, 400, 395, 50), models.RegimeSideways, models.VolatilityNormal},
		{"vix 15 is normal", snapshot(15, 400, 400, 50), models.RegimeSideways, models.VolatilityNormal},
		{"vix 25 is high", snapshot(25, 410, 395, 50), models.RegimeHighVolatility, models.VolatilityHigh},
		{"high vol overrides downtrend", snapshot(30, 380, 395, 50), models.RegimeHighVolatility, models.VolatilityHigh},
		{"vix 35 is extreme", snapshot(35, 410, 395, 50), models.RegimeExtreme, models.VolatilityExtreme},
		{"ratio exactly +2%", snapshot(18, 102, 100, 50), models.RegimeBullish, models.VolatilityNormal},
		{"ratio exactly -2%", snapshot(18, 98, 100, 50), models.RegimeBearish, models.VolatilityNormal},
		{"ratio just inside band", snapshot(18, 101.99, 100, 50), models.RegimeSideways, models.VolatilityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := d.Detect(tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Regime)
			assert.Equal(t, tt.vol, a.Volatility)
		})
	}
}

func TestDetect_ExtremeVolatilityAlwaysExtreme(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	for vix := 35.0; vix <= 90; vix += 2.5 {
		for _, fast := range []float64{300, 390, 395, 400, 450} {
			a, err := d.Detect(snapshot(vix, fast, 395, 50))
			require.NoError(t, err)
			if a.Regime != models.RegimeExtreme {
				t.Errorf("vix=%.1f fast=%.0f: got %s, want extreme", vix, fast, a.Regime)
			}
		}
	}
}

func TestDetect_UptrendBelowHighVolIsBullish(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	for vix := 0.0; vix < 25; vix += 1.5 {
		for _, ratio := range []float64{0.02, 0.025, 0.05, 0.2} {
			slow := 395.0
			a, err := d.Detect(snapshot(vix, slow*(1+ratio), slow, 50))
			require.NoError(t, err)
			if a.Regime != models.RegimeBullish {
				t.Errorf("vix=%.1f ratio=%.3f: got %s, want bullish", vix, ratio, a.Regime)
			}
		}
	}
}

func TestDetect_RSIDoesNotChangeRegime(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	for _, rsi := range []float64{5, 29, 50, 71, 95} {
		a, err := d.Detect(snapshot(18, 410, 395, rsi))
		require.NoError(t, err)
		assert.Equal(t, models.RegimeBullish, a.Regime, "rsi=%.0f", rsi)
	}
	a, _ := d.Detect(snapshot(18, 410, 395, 80))
	assert.Equal(t, models.RSIOverbought, a.RSISignal)
	a, _ = d.Detect(snapshot(18, 410, 395, 20))
	assert.Equal(t, models.RSIOversold, a.RSISignal)
}

func TestDetect_BadInputs(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	bad := []models.MarketSnapshot{
		snapshot(math.NaN(), 410, 395, 50),
		snapshot(18, math.Inf(1), 395, 50),
		snapshot(18, 410, 0, 50),
		snapshot(-1, 410, 395, 50),
	}
	for _, s := range bad {
		_, err := d.Detect(s)
		if !errors.Is(err, models.ErrDataUnavailable) {
			t.Errorf("Detect(%+v) error = %v, want ErrDataUnavailable", s, err)
		}
	}
}

func TestBlocksEntry(t *testing.T) {
	assert.True(t, BlocksEntry(models.RSIOverbought, models.BullPutSpread))
	assert.True(t, BlocksEntry(models.RSIOversold, models.BearCallSpread))
	assert.False(t, BlocksEntry(models.RSIOverbought, models.IronCondor))
	assert.False(t, BlocksEntry(models.RSINeutral, models.BullPutSpread))
}
