package strategy

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

var (
	testAsOf = time.Date(2026, 10, 15, 11, 0, 0, 0, time.UTC)

	putMids  = map[float64]float64{400: 7.0, 395: 5.5, 390: 4.2, 385: 3.0, 380: 1.5, 375: 1.0, 370: 0.65, 365: 0.40}
	putDelta = map[float64]float64{400: -0.50, 395: -0.40, 390: -0.32, 385: -0.25, 380: -0.19, 375: -0.14, 370: -0.10, 365: -0.07}

	callMids  = map[float64]float64{400: 7.0, 405: 5.3, 410: 4.0, 415: 2.8, 420: 1.6, 425: 1.0, 430: 0.6, 435: 0.35}
	callDelta = map[float64]float64{400: 0.50, 405: 0.40, 410: 0.32, 415: 0.25, 420: 0.19, 425: 0.14, 430: 0.10, 435: 0.07}
)

func testQuotes(exp time.Time) []models.OptionQuote {
	var quotes []models.OptionQuote
	add := func(right models.OptionRight, mids, deltas map[float64]float64) {
		code := "P"
		if right == models.RightCall {
			code = "C"
		}
		for strike, mid := range mids {
			quotes = append(quotes, models.OptionQuote{
				Symbol:       fmt.Sprintf("SPY%s%s%08d", exp.Format("060102"), code, int(strike*1000)),
				Right:        right,
				Strike:       strike,
				Bid:          mid - 0.05,
				Ask:          mid + 0.05,
				Delta:        deltas[strike],
				OpenInterest: 1000,
			})
		}
	}
	add(models.RightPut, putMids, putDelta)
	add(models.RightCall, callMids, callDelta)
	return quotes
}

func testChain(days ...int) *models.OptionChain {
	chain := &models.OptionChain{Underlying: "SPY", AsOf: testAsOf}
	for _, d := range days {
		exp := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
		chain.Expirations = append(chain.Expirations, models.ChainExpiration{Date: exp, Quotes: testQuotes(exp)})
	}
	return chain
}

func testBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Pricing:         PricingMid,
		TargetDelta:     0.25,
		DeltaTolerance:  0.10,
		Width:           5,
		MinCredit:       0.50,
		MinCreditPct:    0.10,
		MaxBidAskPct:    0.10,
		MaxBidAskAbs:    0.30,
		MinOpenInterest: 100,
		TargetDTE:       35,
	}
}

// mutateQuote edits the quote with the given right and strike in every expiration.
func mutateQuote(chain *models.OptionChain, right models.OptionRight, strike float64, fn func(q *models.OptionQuote)) {
	for i := range chain.Expirations {
		for j := range chain.Expirations[i].Quotes {
			q := &chain.Expirations[i].Quotes[j]
			if q.Right == right && q.Strike == strike {
				fn(q)
			}
		}
	}
}

// removeQuote drops the quote with the given right and strike from every expiration.
func removeQuote(chain *models.OptionChain, right models.OptionRight, strike float64) {
	for i := range chain.Expirations {
		kept := chain.Expirations[i].Quotes[:0]
		for _, q := range chain.Expirations[i].Quotes {
			if q.Right == right && q.Strike == strike {
				continue
			}
			kept = append(kept, q)
		}
		chain.Expirations[i].Quotes = kept
	}
}
