package models

import (
	"math"
	"time"
)

// MarketSnapshot is the per-cycle observation of one underlying.
type MarketSnapshot struct {
	AsOf       time.Time `json:"as_of"`
	Underlying string    `json:"underlying"`
	Price      float64   `json:"price"`
	VIX        float64   `json:"vix"`
	FastSMA    float64   `json:"fast_sma"`
	SlowSMA    float64   `json:"slow_sma"`
	RSI        float64   `json:"rsi"`
}

// OptionRight is put or call.
type OptionRight string

const (
	RightPut  OptionRight = "put"
	RightCall OptionRight = "call"
)

// OptionQuote is a single contract in a chain snapshot.
type OptionQuote struct {
	Symbol       string      `json:"symbol"`
	Right        OptionRight `json:"right"`
	Strike       float64     `json:"strike"`
	Bid          float64     `json:"bid"`
	Ask          float64     `json:"ask"`
	Delta        float64     `json:"delta"`
	OpenInterest int64       `json:"open_interest"`
}

// Mid returns the bid/ask midpoint.
func (q OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// ChainExpiration groups the quotes of one expiration date.
type ChainExpiration struct {
	Date   time.Time     `json:"date"`
	Quotes []OptionQuote `json:"quotes"`
}

// Find returns the quote with the given right and strike.
func (e ChainExpiration) Find(right OptionRight, strike float64) (OptionQuote, bool) {
	for _, q := range e.Quotes {
		if q.Right == right && math.Abs(q.Strike-strike) <= strikeEpsilon {
			return q, true
		}
	}
	return OptionQuote{}, false
}

// OptionChain is a read-only chain snapshot for one underlying.
type OptionChain struct {
	AsOf        time.Time         `json:"as_of"`
	Underlying  string            `json:"underlying"`
	Expirations []ChainExpiration `json:"expirations"`
}

const strikeEpsilon = 1e-4

// DaysToExpiration counts calendar days from asOf to expiration, floored at zero.
// asOf is read in its own location; expiration is a calendar date and its
// location is ignored.
func DaysToExpiration(asOf, expiration time.Time) int {
	from := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
