// Package regime classifies market conditions from volatility and trend indicators.
package regime

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Thresholds are the classification cut points.
type Thresholds struct {
	VIXLow         float64
	VIXHigh        float64
	VIXExtreme     float64
	TrendThreshold float64
	RSIOversold    float64
	RSIOverbought  float64
}

// DefaultThresholds mirrors the shipped configuration defaults.
var DefaultThresholds = Thresholds{
	VIXLow:         15,
	VIXHigh:        25,
	VIXExtreme:     35,
	TrendThreshold: 0.02,
	RSIOversold:    30,
	RSIOverbought:  70,
}

// Analysis is the full breakdown behind a regime decision.
type Analysis struct {
	Underlying string
	Regime     models.Regime
	Volatility models.VolatilityState
	Trend      models.TrendState
	RSISignal  models.RSISignal
	TrendRatio float64 // fast/slow - 1
	VIX        float64
	RSI        float64
}

func (a Analysis) String() string {
	return fmt.Sprintf("%s regime=%s vix=%.2f(%s) trend=%+.4f(%s) rsi=%.1f(%s)",
		a.Underlying, a.Regime, a.VIX, a.Volatility, a.TrendRatio, a.Trend, a.RSI, a.RSISignal)
}

// Detector turns a market snapshot into a regime.
type Detector struct {
	t Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(t Thresholds) *Detector {
	return &Detector{t: t}
}

// Detect classifies the snapshot. Volatility takes precedence over trend:
// extreme volatility yields Extreme, high volatility yields HighVolatility,
// otherwise the trend decides. RSI is reported but never changes the regime.
func (d *Detector) Detect(s models.MarketSnapshot) (Analysis, error) {
	for name, v := range map[string]float64{"vix": s.VIX, "fast_sma": s.FastSMA, "slow_sma": s.SlowSMA, "rsi": s.RSI} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Analysis{}, fmt.Errorf("%w: %s %s is not finite", models.ErrDataUnavailable, s.Underlying, name)
		}
	}
	if s.VIX < 0 {
		return Analysis{}, fmt.Errorf("%w: %s vix %.2f is negative", models.ErrDataUnavailable, s.Underlying, s.VIX)
	}
	if s.SlowSMA <= 0 || s.FastSMA <= 0 {
		return Analysis{}, fmt.Errorf("%w: %s moving averages must be positive (fast=%.2f slow=%.2f)",
			models.ErrDataUnavailable, s.Underlying, s.FastSMA, s.SlowSMA)
	}

	a := Analysis{
		Underlying: s.Underlying,
		VIX:        s.VIX,
		RSI:        s.RSI,
		Volatility: d.Volatility(s.VIX),
		TrendRatio: s.FastSMA/s.SlowSMA - 1,
		RSISignal:  d.RSISignal(s.RSI),
	}
	a.Trend = d.trend(a.TrendRatio)

	switch a.Volatility {
	case models.VolatilityExtreme:
		a.Regime = models.RegimeExtreme
	case models.VolatilityHigh:
		a.Regime = models.RegimeHighVolatility
	default:
		switch a.Trend {
		case models.TrendBullish:
			a.Regime = models.RegimeBullish
		case models.TrendBearish:
			a.Regime = models.RegimeBearish
		default:
			a.Regime = models.RegimeSideways
		}
	}
	return a, nil
}

// Volatility buckets a VIX level.
func (d *Detector) Volatility(vix float64) models.VolatilityState {
	switch {
	case vix >= d.t.VIXExtreme:
		return models.VolatilityExtreme
	case vix >= d.t.VIXHigh:
		return models.VolatilityHigh
	case vix >= d.t.VIXLow:
		return models.VolatilityNormal
	default:
		return models.VolatilityLow
	}
}

// trend compares against the threshold with a small tolerance so that
// ratios computed as exactly ±threshold are not lost to float rounding.
func (d *Detector) trend(ratio float64) models.TrendState {
	const eps = 1e-12
	switch {
	case ratio >= d.t.TrendThreshold-eps:
		return models.TrendBullish
	case ratio <= -d.t.TrendThreshold+eps:
		return models.TrendBearish
	default:
		return models.TrendSideways
	}
}

// RSISignal buckets an RSI reading.
func (d *Detector) RSISignal(rsi float64) models.RSISignal {
	switch {
	case rsi < d.t.RSIOversold:
		return models.RSIOversold
	case rsi > d.t.RSIOverbought:
		return models.RSIOverbought
	default:
		return models.RSINeutral
	}
}

// BlocksEntry reports whether an RSI extreme argues against the strategy:
// overbought markets block bull put spreads, oversold markets block bear call spreads.
func BlocksEntry(signal models.RSISignal, strategy models.StrategyType) bool {
	return (signal == models.RSIOverbought && strategy == models.BullPutSpread) ||
		(signal == models.RSIOversold && strategy == models.BearCallSpread)
}
