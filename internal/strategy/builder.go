package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Pricing selects how leg premiums are read from quotes.
type Pricing string

const (
	PricingMid     Pricing = "mid"     // bid/ask midpoint on every leg
	PricingNatural Pricing = "natural" // sell at bid, buy at ask
)

// ironCondorCreditFactor scales the minimum credit for two-sided spreads.
const ironCondorCreditFactor = 1.5

const priceEpsilon = 1e-9

// BuilderConfig holds spread construction parameters.
type BuilderConfig struct {
	Pricing         Pricing
	TargetDelta     float64
	DeltaTolerance  float64
	Width           float64
	MinCredit       float64
	MinCreditPct    float64 // of width
	MaxBidAskPct    float64 // of mid; 0 disables
	MaxBidAskAbs    float64 // dollars; 0 disables
	MinOpenInterest int64
	TargetDTE       int
}

// Builder constructs spread candidates from chain snapshots.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a spread builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Pricing == "" {
		cfg.Pricing = PricingMid
	}
	return &Builder{cfg: cfg}
}

// side is one short/long pair of a spread.
type side struct {
	short  models.OptionQuote
	long   models.OptionQuote
	credit float64
	legs   []models.Leg
}

// Build picks the expiration closest to the target DTE, then builds every side the
// strategy sells. Any missing strike, illiquid quote or non-positive credit fails with
// ErrChainIncomplete; a credit below the configured minimum fails with ErrInsufficientCredit.
func (b *Builder) Build(strategy models.StrategyType, chain *models.OptionChain, asOf time.Time) (*models.SpreadCandidate, error) {
	if !strategy.Tradable() {
		return nil, fmt.Errorf("strategy %s is not tradable", strategy)
	}
	if chain == nil || len(chain.Expirations) == 0 {
		return nil, fmt.Errorf("%w: no expirations", models.ErrChainIncomplete)
	}

	exp, dte, err := b.selectExpiration(chain, asOf)
	if err != nil {
		return nil, err
	}

	candidate := &models.SpreadCandidate{
		Strategy:   strategy,
		Underlying: chain.Underlying,
		Expiration: exp.Date,
		Width:      b.cfg.Width,
		DTE:        dte,
	}
	for i, right := range strategy.Sides() {
		s, err := b.buildSide(exp, right)
		if err != nil {
			return nil, fmt.Errorf("%s %s %s side: %w", chain.Underlying, exp.Date.Format("2006-01-02"), right, err)
		}
		if i == 0 {
			candidate.ShortStrike = s.short.Strike
			candidate.LongStrike = s.long.Strike
		}
		candidate.NetCredit += s.credit
		candidate.Legs = append(candidate.Legs, s.legs...)
	}

	if candidate.NetCredit <= 0 {
		return nil, fmt.Errorf("%w: %s net credit %.2f is not positive",
			models.ErrChainIncomplete, chain.Underlying, candidate.NetCredit)
	}
	if candidate.NetCredit >= candidate.Width {
		return nil, fmt.Errorf("%w: %s net credit %.2f is not below width %.2f",
			models.ErrChainIncomplete, chain.Underlying, candidate.NetCredit, candidate.Width)
	}
	if required := b.requiredCredit(strategy); candidate.NetCredit+priceEpsilon < required {
		return nil, fmt.Errorf("%w: %s %s credit %.2f below required %.2f",
			models.ErrInsufficientCredit, chain.Underlying, strategy, candidate.NetCredit, required)
	}
	if err := candidate.Validate(asOf); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrChainIncomplete, err)
	}
	return candidate, nil
}

// selectExpiration returns the expiration whose DTE is closest to target, earlier on ties.
func (b *Builder) selectExpiration(chain *models.OptionChain, asOf time.Time) (models.ChainExpiration, int, error) {
	exps := make([]models.ChainExpiration, len(chain.Expirations))
	copy(exps, chain.Expirations)
	sort.SliceStable(exps, func(i, j int) bool { return exps[i].Date.Before(exps[j].Date) })

	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	best := -1
	bestDTE := 0
	bestDiff := math.MaxInt
	for i, e := range exps {
		day := time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), 0, 0, 0, 0, time.UTC)
		if day.Before(today) {
			continue
		}
		dte := models.DaysToExpiration(asOf, e.Date)
		diff := dte - b.cfg.TargetDTE
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDTE, bestDiff = i, dte, diff
		}
	}
	if best < 0 {
		return models.ChainExpiration{}, 0, fmt.Errorf("%w: no expiration on or after %s",
			models.ErrChainIncomplete, asOf.Format("2006-01-02"))
	}
	return exps[best], bestDTE, nil
}

// buildSide selects the short strike by delta and pairs it with the long strike
// one width further out of the money.
func (b *Builder) buildSide(exp models.ChainExpiration, right models.OptionRight) (side, error) {
	short, ok := b.findShortStrike(exp, right)
	if !ok {
		return side{}, fmt.Errorf("%w: no %s within delta %.2f±%.2f",
			models.ErrChainIncomplete, right, b.cfg.TargetDelta, b.cfg.DeltaTolerance)
	}

	longStrike := short.Strike - b.cfg.Width
	if right == models.RightCall {
		longStrike = short.Strike + b.cfg.Width
	}
	long, ok := exp.Find(right, longStrike)
	if !ok {
		return side{}, fmt.Errorf("%w: long %s strike %.2f missing", models.ErrChainIncomplete, right, longStrike)
	}

	for _, q := range []models.OptionQuote{short, long} {
		if err := b.checkLiquidity(q); err != nil {
			return side{}, err
		}
	}

	shortPrice, longPrice := short.Mid(), long.Mid()
	if b.cfg.Pricing == PricingNatural {
		shortPrice, longPrice = short.Bid, long.Ask
	}

	return side{
		short:  short,
		long:   long,
		credit: shortPrice - longPrice,
		legs: []models.Leg{
			{Symbol: short.Symbol, Right: right, Side: models.SideSell, Strike: short.Strike, Price: shortPrice},
			{Symbol: long.Symbol, Right: right, Side: models.SideBuy, Strike: long.Strike, Price: longPrice},
		},
	}, nil
}

// findShortStrike returns the quote whose |delta| is closest to target within tolerance.
// Ties go to the strike further out of the money.
func (b *Builder) findShortStrike(exp models.ChainExpiration, right models.OptionRight) (models.OptionQuote, bool) {
	var best models.OptionQuote
	bestDiff := math.MaxFloat64
	found := false
	for _, q := range exp.Quotes {
		if q.Right != right || q.Delta == 0 {
			continue
		}
		diff := math.Abs(math.Abs(q.Delta) - b.cfg.TargetDelta)
		if diff > b.cfg.DeltaTolerance+priceEpsilon {
			continue
		}
		switch {
		case diff < bestDiff-priceEpsilon:
		case math.Abs(diff-bestDiff) <= priceEpsilon && furtherOTM(right, q.Strike, best.Strike):
		default:
			continue
		}
		best, bestDiff, found = q, diff, true
	}
	return best, found
}

func furtherOTM(right models.OptionRight, strike, than float64) bool {
	if right == models.RightPut {
		return strike < than
	}
	return strike > than
}

// checkLiquidity requires a two-sided, uncrossed quote with an acceptable spread.
func (b *Builder) checkLiquidity(q models.OptionQuote) error {
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("%w: %s has no two-sided quote (bid=%.2f ask=%.2f)",
			models.ErrChainIncomplete, q.Symbol, q.Bid, q.Ask)
	}
	if q.Ask < q.Bid {
		return fmt.Errorf("%w: %s quote is crossed (bid=%.2f ask=%.2f)",
			models.ErrChainIncomplete, q.Symbol, q.Bid, q.Ask)
	}
	if q.OpenInterest < b.cfg.MinOpenInterest {
		return fmt.Errorf("%w: %s open interest %d below %d",
			models.ErrChainIncomplete, q.Symbol, q.OpenInterest, b.cfg.MinOpenInterest)
	}

	spread := q.Ask - q.Bid
	absOK := b.cfg.MaxBidAskAbs > 0 && spread <= b.cfg.MaxBidAskAbs+priceEpsilon
	pctOK := b.cfg.MaxBidAskPct > 0 && spread <= b.cfg.MaxBidAskPct*q.Mid()+priceEpsilon
	if (b.cfg.MaxBidAskAbs > 0 || b.cfg.MaxBidAskPct > 0) && !absOK && !pctOK {
		return fmt.Errorf("%w: %s bid/ask spread %.2f too wide", models.ErrChainIncomplete, q.Symbol, spread)
	}
	return nil
}

func (b *Builder) requiredCredit(strategy models.StrategyType) float64 {
	required := math.Max(b.cfg.MinCredit, b.cfg.MinCreditPct*b.cfg.Width)
	if strategy == models.IronCondor {
		required *= ironCondorCreditFactor
	}
	return required
}
