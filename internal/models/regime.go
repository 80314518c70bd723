package models

import "fmt"

// Regime is the market classification that drives strategy selection.
type Regime int

const (
	RegimeUnknown        Regime = iota // zero value, never produced by the detector
	RegimeBullish                      // uptrend in low/normal volatility
	RegimeBearish                      // downtrend in low/normal volatility
	RegimeSideways                     // no trend in low/normal volatility
	RegimeHighVolatility               // elevated volatility, trend ignored
	RegimeExtreme                      // panic volatility, no trading
)

var regimeNames = map[Regime]string{
	RegimeUnknown:        "unknown",
	RegimeBullish:        "bullish",
	RegimeBearish:        "bearish",
	RegimeSideways:       "sideways",
	RegimeHighVolatility: "high_volatility",
	RegimeExtreme:        "extreme",
}

func (r Regime) String() string {
	if name, ok := regimeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("regime(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Regime) UnmarshalText(text []byte) error {
	for k, v := range regimeNames {
		if v == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRegime, string(text))
}

// VolatilityState is the VIX bucket.
type VolatilityState int

const (
	VolatilityLow VolatilityState = iota
	VolatilityNormal
	VolatilityHigh
	VolatilityExtreme
)

func (v VolatilityState) String() string {
	switch v {
	case VolatilityLow:
		return "low"
	case VolatilityNormal:
		return "normal"
	case VolatilityHigh:
		return "high"
	case VolatilityExtreme:
		return "extreme"
	default:
		return fmt.Sprintf("volatility(%d)", int(v))
	}
}

// TrendState is the moving-average trend bucket.
type TrendState int

const (
	TrendSideways TrendState = iota
	TrendBullish
	TrendBearish
)

func (t TrendState) String() string {
	switch t {
	case TrendSideways:
		return "sideways"
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	default:
		return fmt.Sprintf("trend(%d)", int(t))
	}
}

// RSISignal buckets the RSI reading.
type RSISignal int

const (
	RSINeutral RSISignal = iota
	RSIOversold
	RSIOverbought
)

func (s RSISignal) String() string {
	switch s {
	case RSINeutral:
		return "neutral"
	case RSIOversold:
		return "oversold"
	case RSIOverbought:
		return "overbought"
	default:
		return fmt.Sprintf("rsi(%d)", int(s))
	}
}
