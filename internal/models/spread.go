package models

import (
	"errors"
	"fmt"
	"time"
)

// sharesPerContract is the standard equity option multiplier.
const sharesPerContract = 100.0

// LegSide is the direction of a leg at entry.
type LegSide string

const (
	SideSell LegSide = "sell"
	SideBuy  LegSide = "buy"
)

// Leg is one option contract of a spread.
type Leg struct {
	Symbol string      `json:"symbol"`
	Right  OptionRight `json:"right"`
	Side   LegSide     `json:"side"`
	Strike float64     `json:"strike"`
	Price  float64     `json:"price"` // per-share premium used for the credit
}

// SpreadCandidate is a fully specified spread ready for sizing.
// For iron condors ShortStrike/LongStrike describe the put side; Legs carry both sides.
type SpreadCandidate struct {
	Expiration  time.Time    `json:"expiration"`
	Underlying  string       `json:"underlying"`
	Legs        []Leg        `json:"legs"`
	Strategy    StrategyType `json:"strategy"`
	ShortStrike float64      `json:"short_strike"`
	LongStrike  float64      `json:"long_strike"`
	Width       float64      `json:"width"`
	NetCredit   float64      `json:"net_credit"` // per share
	DTE         int          `json:"dte"`
}

// MaxLossPerContract is the dollar loss of one contract if the spread expires at full width.
func (c *SpreadCandidate) MaxLossPerContract() float64 {
	return (c.Width - c.NetCredit) * sharesPerContract
}

// MaxLoss returns the total max loss for quantity contracts.
func (c *SpreadCandidate) MaxLoss(quantity int) float64 {
	return c.MaxLossPerContract() * float64(quantity)
}

// Key identifies the order slot of the candidate.
func (c *SpreadCandidate) Key() OrderKey {
	return OrderKey{Underlying: c.Underlying, Expiration: c.Expiration.Format("2006-01-02"), Strategy: c.Strategy}
}

// Validate checks candidate invariants against the as-of date.
func (c *SpreadCandidate) Validate(asOf time.Time) error {
	if !c.Strategy.Tradable() {
		return fmt.Errorf("candidate strategy %s is not tradable", c.Strategy)
	}
	if c.Width <= 0 {
		return fmt.Errorf("candidate width must be > 0, got %.2f", c.Width)
	}
	if c.NetCredit <= 0 {
		return fmt.Errorf("candidate credit must be > 0, got %.2f", c.NetCredit)
	}
	if c.NetCredit >= c.Width {
		return fmt.Errorf("candidate credit %.2f must be below width %.2f", c.NetCredit, c.Width)
	}
	if len(c.Legs) == 0 {
		return errors.New("candidate has no legs")
	}
	y, m, d := asOf.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := c.Expiration.Date()
	if time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).Before(today) {
		return fmt.Errorf("candidate expiration %s is before %s",
			c.Expiration.Format("2006-01-02"), today.Format("2006-01-02"))
	}
	return nil
}

// OrderKey is the (underlying, expiration, strategy) slot that may hold one outstanding order.
type OrderKey struct {
	Underlying string
	Expiration string
	Strategy   StrategyType
}

func (k OrderKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Underlying, k.Expiration, k.Strategy)
}
