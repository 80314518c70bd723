package models

import "fmt"

// StrategyType is the spread structure chosen for a regime.
type StrategyType int

const (
	NoTrade StrategyType = iota
	BullPutSpread
	BearCallSpread
	IronCondor
)

var strategyNames = map[StrategyType]string{
	NoTrade:        "no_trade",
	BullPutSpread:  "bull_put_spread",
	BearCallSpread: "bear_call_spread",
	IronCondor:     "iron_condor",
}

func (s StrategyType) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s StrategyType) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, fmt.Errorf("unknown strategy type %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StrategyType) UnmarshalText(text []byte) error {
	for k, v := range strategyNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown strategy type %q", string(text))
}

// Tradable reports whether the strategy results in an order.
func (s StrategyType) Tradable() bool {
	return s == BullPutSpread || s == BearCallSpread || s == IronCondor
}

// Sides returns the option rights whose short leg the strategy sells.
func (s StrategyType) Sides() []OptionRight {
	switch s {
	case BullPutSpread:
		return []OptionRight{RightPut}
	case BearCallSpread:
		return []OptionRight{RightCall}
	case IronCondor:
		return []OptionRight{RightPut, RightCall}
	default:
		return nil
	}
}
