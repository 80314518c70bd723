package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/regime"
	"github.com/eddiefleurent/spread_engine/internal/util"
)

// paperTick is the price increment of simulated quotes and prices.
const paperTick = 0.01

// PaperConfig tunes the simulated market.
type PaperConfig struct {
	BasePrices  map[string]float64 // starting price per underlying
	VIX         float64
	PriceNoise  float64 // stddev of the per-snapshot price move, as a fraction
	FillAfter   int     // polls an order stays pending before it fills
	HistoryDays int
	FastPeriod  int
	SlowPeriod  int
	RSIPeriod   int
	Seed        uint64
}

var defaultBasePrices = map[string]float64{"SPY": 580, "QQQ": 500, "IWM": 220}

type paperOrder struct {
	req    OrderRequest
	status FillStatus
	reason string
	polls  int
}

// PaperConnector simulates quotes, chains and fills. Option prices come from
// Black-Scholes with zero rates and VIX as the volatility of every underlying.
type PaperConnector struct {
	mu         sync.Mutex
	cfg        PaperConfig
	logger     logrus.FieldLogger
	rng        *rand.Rand
	now        func() time.Time
	history    map[string][]float64
	live       map[string]float64
	orders     map[OrderHandle]*paperOrder
	positions  map[string]int
	rejectNext string
}

// NewPaperConnector creates a simulated broker.
func NewPaperConnector(cfg PaperConfig, logger logrus.FieldLogger) *PaperConnector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.VIX <= 0 {
		cfg.VIX = 18
	}
	if cfg.HistoryDays < 2 {
		cfg.HistoryDays = 80
	}
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 20
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = 50
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	return &PaperConnector{
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		now:       time.Now,
		history:   make(map[string][]float64),
		live:      make(map[string]float64),
		orders:    make(map[OrderHandle]*paperOrder),
		positions: make(map[string]int),
	}
}

// SetClock overrides the time used for marks.
func (p *PaperConnector) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetVIX sets the simulated volatility index.
func (p *PaperConnector) SetVIX(vix float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.VIX = vix
}

// SetHistory replaces the daily closes of underlying. The last close becomes the live price.
func (p *PaperConnector) SetHistory(underlying string, closes []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := make([]float64, len(closes))
	copy(h, closes)
	p.history[underlying] = h
	if len(h) > 0 {
		p.live[underlying] = h[len(h)-1]
	}
}

// SetPrice moves the live price of underlying.
func (p *PaperConnector) SetPrice(underlying string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureHistoryLocked(underlying)
	p.live[underlying] = price
}

// RejectNextOrder makes the next SubmitOrder fail with reason.
func (p *PaperConnector) RejectNextOrder(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = reason
}

// RejectOrder marks a working order as rejected by the broker.
func (p *PaperConnector) RejectOrder(handle OrderHandle, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, handle)
	}
	if o.status == FillPending {
		o.status, o.reason = FillRejected, reason
	}
	return nil
}

// SetPosition overrides the held quantity of symbol.
func (p *PaperConnector) SetPosition(symbol string, quantity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if quantity == 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = quantity
}

func (p *PaperConnector) ensureHistoryLocked(underlying string) []float64 {
	if h, ok := p.history[underlying]; ok && len(h) > 0 {
		return h
	}
	price, ok := p.cfg.BasePrices[underlying]
	if !ok {
		price, ok = defaultBasePrices[underlying]
	}
	if !ok {
		price = 100
	}
	h := make([]float64, p.cfg.HistoryDays)
	for i := range h {
		price *= 1 + p.rng.NormFloat64()*0.01
		h[i] = util.RoundToTick(price, paperTick)
	}
	p.history[underlying] = h
	p.live[underlying] = h[len(h)-1]
	return h
}

// GetSnapshot returns the live price with indicators over the daily history.
func (p *PaperConnector) GetSnapshot(ctx context.Context, underlying string) (*models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.ensureHistoryLocked(underlying)
	price := p.live[underlying]
	if p.cfg.PriceNoise > 0 {
		price = util.RoundToTick(price*(1+p.rng.NormFloat64()*p.cfg.PriceNoise), paperTick)
		p.live[underlying] = price
	}

	closes := append(append(make([]float64, 0, len(h)+1), h...), price)
	fast, err := regime.SMA(closes, p.cfg.FastPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %s fast SMA: %v", models.ErrDataUnavailable, underlying, err)
	}
	slow, err := regime.SMA(closes, p.cfg.SlowPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %s slow SMA: %v", models.ErrDataUnavailable, underlying, err)
	}
	rsi, err := regime.RSI(closes, p.cfg.RSIPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %s RSI: %v", models.ErrDataUnavailable, underlying, err)
	}
	return &models.MarketSnapshot{
		AsOf:       p.now(),
		Underlying: underlying,
		Price:      price,
		VIX:        p.cfg.VIX,
		FastSMA:    fast,
		SlowSMA:    slow,
		RSI:        rsi,
	}, nil
}

// GetChain returns ten weekly expirations starting with the first Friday on or after asOf.
func (p *PaperConnector) GetChain(ctx context.Context, underlying string, asOf time.Time) (*models.OptionChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureHistoryLocked(underlying)
	spot := p.live[underlying]

	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}

	interval := 5.0
	if spot < 100 {
		interval = 1
	}
	lo := math.Floor(spot*0.8/interval) * interval
	hi := math.Ceil(spot*1.2/interval) * interval

	chain := &models.OptionChain{AsOf: asOf, Underlying: underlying}
	for week := 0; week < 10; week++ {
		exp := day.AddDate(0, 0, 7*week)
		dte := models.DaysToExpiration(asOf, exp)
		ce := models.ChainExpiration{Date: exp}
		for strike := lo; strike <= hi+1e-9; strike += interval {
			for _, right := range []models.OptionRight{models.RightPut, models.RightCall} {
				ce.Quotes = append(ce.Quotes, p.quoteLocked(underlying, exp, right, strike, spot, dte))
			}
		}
		chain.Expirations = append(chain.Expirations, ce)
	}
	return chain, nil
}

func (p *PaperConnector) quoteLocked(underlying string, exp time.Time, right models.OptionRight, strike, spot float64, dte int) models.OptionQuote {
	price, delta := blackScholes(right, spot, strike, p.cfg.VIX/100, math.Max(float64(dte), 0.5)/365)
	half := math.Min(0.05, math.Max(0.01, price*0.03))
	bid := util.RoundToTick(price-half, paperTick)
	if bid < paperTick {
		bid = 0
	}
	ask := util.RoundToTick(price+half, paperTick)
	moneyness := math.Abs(strike-spot) / spot
	return models.OptionQuote{
		Symbol:       OptionSymbol(underlying, exp, right, strike),
		Right:        right,
		Strike:       strike,
		Bid:          bid,
		Ask:          ask,
		Delta:        math.Round(delta*10000) / 10000,
		OpenInterest: 100 + int64(5000*math.Exp(-moneyness*10)),
	}
}

// blackScholes prices a European option with zero rates and dividends.
func blackScholes(right models.OptionRight, spot, strike, vol, years float64) (price, delta float64) {
	sd := vol * math.Sqrt(years)
	if sd <= 0 || spot <= 0 || strike <= 0 {
		intrinsic := math.Max(0, spot-strike)
		if right == models.RightPut {
			intrinsic = math.Max(0, strike-spot)
		}
		return intrinsic, 0
	}
	d1 := (math.Log(spot/strike) + 0.5*sd*sd) / sd
	d2 := d1 - sd
	if right == models.RightCall {
		return spot*normCDF(d1) - strike*normCDF(d2), normCDF(d1)
	}
	return strike*normCDF(-d2) - spot*normCDF(-d1), normCDF(d1) - 1
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// SubmitOrder accepts a valid order. It rejects with ErrExecutionRejected when the
// request is malformed or a rejection was scheduled.
func (p *PaperConnector) SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrExecutionRejected, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if reason := p.rejectNext; reason != "" {
		p.rejectNext = ""
		return "", fmt.Errorf("%w: %s", models.ErrExecutionRejected, reason)
	}

	handle := OrderHandle("paper-" + uuid.NewString()[:8])
	legs := make([]models.Leg, len(req.Legs))
	copy(legs, req.Legs)
	req.Legs = legs
	p.orders[handle] = &paperOrder{req: req, status: FillPending}
	p.logger.WithFields(logrus.Fields{
		"order": handle, "tag": req.Tag, "limit": req.LimitPrice, "quantity": req.Quantity,
	}).Info("Paper order accepted")
	return handle, nil
}

// PollFills fills an order at its limit once it has been polled more than FillAfter times.
func (p *PaperConnector) PollFills(ctx context.Context, handle OrderHandle) (FillReport, error) {
	if err := ctx.Err(); err != nil {
		return FillReport{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[handle]
	if !ok {
		return FillReport{}, fmt.Errorf("%w: %s", ErrOrderNotFound, handle)
	}

	switch o.status {
	case FillRejected:
		return FillReport{Status: FillRejected, Reason: o.reason}, nil
	case FillFilled:
		return FillReport{Status: FillFilled, Price: o.req.LimitPrice}, nil
	}

	o.polls++
	if o.polls <= p.cfg.FillAfter {
		return FillReport{Status: FillPending}, nil
	}
	o.status = FillFilled
	p.bookLocked(o.req.Legs, o.req.Quantity)
	return FillReport{Status: FillFilled, Price: o.req.LimitPrice}, nil
}

// bookLocked adds quantity contracts of every leg to the held positions, short for sells.
func (p *PaperConnector) bookLocked(legs []models.Leg, quantity int) {
	for _, leg := range legs {
		qty := quantity
		if leg.Side == models.SideSell {
			qty = -qty
		}
		p.positions[leg.Symbol] += qty
		if p.positions[leg.Symbol] == 0 {
			delete(p.positions, leg.Symbol)
		}
	}
}

// Restore books the legs of every open or closing position, so a paper session started
// over an existing ledger holds what that ledger says was filled. Working orders are not
// restored; polling them reports ErrOrderNotFound. It returns the number of positions booked.
func (p *PaperConnector) Restore(ledger []models.Position) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pos := range ledger {
		if pos.State != models.StateOpen && pos.State != models.StateClosing {
			continue
		}
		p.bookLocked(pos.Legs, pos.Quantity)
		n++
	}
	return n
}

// GetMark prices every leg of the position at the live price.
func (p *PaperConnector) GetMark(ctx context.Context, position *models.Position) (Mark, error) {
	if err := ctx.Err(); err != nil {
		return Mark{}, err
	}
	if position == nil || len(position.Legs) == 0 {
		return Mark{}, fmt.Errorf("%w: position has no legs", models.ErrDataUnavailable)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureHistoryLocked(position.Underlying)
	spot := p.live[position.Underlying]
	dte := models.DaysToExpiration(p.now(), position.Expiration)

	var m Mark
	for _, leg := range position.Legs {
		q := p.quoteLocked(position.Underlying, position.Expiration, leg.Right, leg.Strike, spot, dte)
		if leg.Side == models.SideSell {
			m.Mid += q.Mid()
			m.Natural += q.Ask
		} else {
			m.Mid -= q.Mid()
			m.Natural -= q.Bid
		}
	}
	m.Mid = math.Max(0, m.Mid)
	m.Natural = math.Max(m.Mid, m.Natural)
	return m, nil
}

// GetPositions returns held contracts sorted by symbol.
func (p *PaperConnector) GetPositions(ctx context.Context) ([]OptionPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OptionPosition, 0, len(p.positions))
	for sym, qty := range p.positions {
		out = append(out, OptionPosition{Symbol: sym, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

var _ Broker = (*PaperConnector)(nil)
