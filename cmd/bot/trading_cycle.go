package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/spread_engine/internal/broker"
	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/notify"
	"github.com/eddiefleurent/spread_engine/internal/orders"
	"github.com/eddiefleurent/spread_engine/internal/regime"
	"github.com/eddiefleurent/spread_engine/internal/retry"
	"github.com/eddiefleurent/spread_engine/internal/risk"
	"github.com/eddiefleurent/spread_engine/internal/strategy"
	"github.com/eddiefleurent/spread_engine/internal/util"
)

// maxPrefetch bounds concurrent snapshot requests.
const maxPrefetch = 4

// TradingCycle encapsulates the main trading logic
type TradingCycle struct {
	bot        *Bot
	reconciler *Reconciler

	reconcilePending atomic.Bool
	entriesBlocked   atomic.Bool

	mu          sync.Mutex
	lastSummary string
}

// NewTradingCycle creates a new trading cycle handler
func NewTradingCycle(bot *Bot) *TradingCycle {
	return &TradingCycle{
		bot:        bot,
		reconciler: NewReconciler(bot.connector, bot.orders, bot.positions, bot.logger.WithField("component", "reconciler")),
	}
}

// FlagReconcile requests a reconciliation at the start of the next cycle.
func (tc *TradingCycle) FlagReconcile() {
	tc.reconcilePending.Store(true)
}

// unreconciled reports whether the broker view may differ from the ledger.
func (tc *TradingCycle) unreconciled() bool {
	return tc.reconcilePending.Load() || tc.entriesBlocked.Load()
}

// orderUncertain records a submit that failed in a way that may still have placed the
// order, so nothing more is sent until a reconciliation succeeds.
func (tc *TradingCycle) orderUncertain(log logrus.FieldLogger, err error) {
	if errors.Is(err, models.ErrExecutionRejected) || retry.NotSent(err) {
		return
	}
	log.WithError(err).Error("Order outcome unknown, reconciling before sending more orders")
	tc.FlagReconcile()
}

// EntriesBlocked reports whether new entries are suspended by an unresolved reconciliation.
func (tc *TradingCycle) EntriesBlocked() bool {
	return tc.entriesBlocked.Load()
}

// Run executes one trading cycle at now. Only persistence failures and cancellation are
// returned; everything else is logged and retried on a later cycle.
func (tc *TradingCycle) Run(ctx context.Context, now time.Time) error {
	b := tc.bot
	b.logger.Debug("Starting trading cycle")

	if tc.reconcilePending.Load() {
		if err := tc.reconcile(ctx, now); err != nil {
			return err
		}
	} else {
		res, err := b.orders.Resolve(ctx)
		tc.reportFills(res, now)
		if err != nil {
			return fmt.Errorf("resolve orders: %w", err)
		}
	}

	if err := tc.managePositions(ctx, now); err != nil {
		return err
	}

	switch {
	case !b.config.InEntryWindow(now):
		b.logger.Debug("Outside entry window, skipping entries")
	case tc.entriesBlocked.Load():
		b.logger.Warn("Entries blocked until reconciliation succeeds")
	default:
		if err := tc.checkEntries(ctx, now); err != nil {
			return err
		}
	}

	if err := tc.MaybeSummarize(now); err != nil {
		return err
	}
	b.metrics.RecordLedger(b.positions.All())
	b.logger.Debug("Trading cycle complete")
	return nil
}

// reconcile runs the reconciler. Any failure keeps reconciliation flagged and entries
// blocked; a mismatch also raises an alert the first time it is seen.
func (tc *TradingCycle) reconcile(ctx context.Context, now time.Time) error {
	b := tc.bot
	rec, err := tc.reconciler.Reconcile(ctx)
	tc.reportFills(rec.Fills, now)

	switch {
	case err == nil:
		tc.reconcilePending.Store(false)
		if tc.entriesBlocked.Swap(false) {
			b.logger.Info("Reconciliation succeeded, entries resumed")
		}
		b.metrics.SetEntriesBlocked(false)
		return nil
	case errors.Is(err, models.ErrPersistence), ctx.Err() != nil:
		return err
	case errors.Is(err, models.ErrReconciliationMismatch):
		for _, m := range rec.Mismatches {
			b.logger.Errorf("Reconciliation mismatch: %s", m)
		}
		if !tc.entriesBlocked.Load() {
			b.notifier.Notify(notify.ReconcileMismatch(rec.Mismatches, now))
		}
		b.metrics.RecordError("reconcile_mismatch")
	default:
		b.logger.WithError(err).Warn("Reconciliation failed, will retry next cycle")
		b.metrics.RecordError("reconcile")
	}
	tc.entriesBlocked.Store(true)
	b.metrics.SetEntriesBlocked(true)
	return nil
}

func (tc *TradingCycle) reportFills(res orders.Result, now time.Time) {
	b := tc.bot
	for _, p := range res.Opened {
		b.notifier.Notify(notify.TradeOpened(p, now))
	}
	for _, p := range res.Rejected {
		b.metrics.RecordOrderRejected("entry", p.Underlying)
		b.notifier.Notify(notify.OrderRejected(p, now))
	}
	for _, p := range res.Closed {
		b.notifier.Notify(notify.TradeClosed(p, now))
	}
	for _, p := range res.CloseRejected {
		b.metrics.RecordOrderRejected("close", p.Underlying)
	}
	if res.StillWorking > 0 {
		b.logger.Debugf("%d order(s) still working", res.StillWorking)
	}
}

// managePositions marks every open position, closes the ones an exit rule fires for,
// and resubmits close orders for closing positions that have none working. A position
// that entered closing in this cycle waits for the next one.
func (tc *TradingCycle) managePositions(ctx context.Context, now time.Time) error {
	b := tc.bot
	begun := make(map[string]bool)

	for _, p := range b.positions.InState(models.StateOpen) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := b.logger.WithFields(logrus.Fields{"position": shortID(p.ID), "underlying": p.Underlying})

		mark, err := b.connector.GetMark(ctx, &p)
		if err != nil {
			log.WithError(err).Warn("Could not mark position, skipping exit checks")
			b.metrics.RecordError("mark")
			continue
		}
		if err := b.positions.UpdateMark(p.ID, mark.Mid, now); err != nil {
			log.WithError(err).Warn("Failed to record mark")
		}

		signal, ok := b.exits.Evaluate(&p, mark.Mid, now)
		if !ok {
			log.Debugf("Holding: cost to close %.2f vs credit %.2f, %d DTE", mark.Mid, p.EntryCredit, p.CalculateDTE(now))
			continue
		}
		log.Infof("Exit triggered (%s): P&L %.2f per share, %d DTE", signal.Cause, signal.UnrealizedPnL, signal.DTE)

		orderID := tc.submitClose(ctx, &p, mark)
		if _, err := b.positions.BeginClose(p.ID, signal, orderID); err != nil {
			if errors.Is(err, models.ErrPersistence) {
				return err
			}
			log.WithError(err).Error("Failed to move position to closing")
			continue
		}
		begun[p.ID] = true
	}

	for _, p := range b.positions.InState(models.StateClosing) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.ExitOrderID != "" || begun[p.ID] {
			continue
		}
		log := b.logger.WithFields(logrus.Fields{"position": shortID(p.ID), "underlying": p.Underlying})
		if tc.unreconciled() {
			log.Warn("Close resubmission deferred until reconciliation succeeds")
			continue
		}

		mark, err := b.connector.GetMark(ctx, &p)
		if err != nil {
			log.WithError(err).Warn("Could not mark closing position, close resubmission deferred")
			b.metrics.RecordError("mark")
			continue
		}
		orderID := tc.submitClose(ctx, &p, mark)
		if orderID == "" {
			continue
		}
		if _, err := b.positions.SetCloseOrder(p.ID, orderID); err != nil {
			if errors.Is(err, models.ErrPersistence) {
				return err
			}
			log.WithError(err).Error("Failed to record close order")
		}
	}
	return nil
}

// submitClose places a close order at the natural cost rounded up to the tick and
// returns its ID, or "" when the order could not be placed.
func (tc *TradingCycle) submitClose(ctx context.Context, p *models.Position, mark broker.Mark) string {
	b := tc.bot
	tick := b.config.Strategy.TickSize
	limit := util.CeilToTick(mark.Natural, tick)
	if limit < tick {
		limit = tick
	}

	handle, err := b.retry.SubmitWithRetry(ctx, broker.CloseRequest(p, limit))
	if err != nil {
		if errors.Is(err, models.ErrExecutionRejected) {
			b.metrics.RecordOrderRejected("close", p.Underlying)
		} else {
			b.metrics.RecordError("submit")
		}
		log := b.logger.WithField("position", shortID(p.ID))
		log.WithError(err).Warn("Close order not placed, will retry next cycle")
		tc.orderUncertain(log, err)
		return ""
	}
	b.metrics.RecordOrderSubmitted("close", p.Underlying)
	b.logger.Infof("Close order %s placed for %s at %.2f debit", handle, shortID(p.ID), limit)
	return string(handle)
}

// checkEntries prefetches snapshots for every underlying concurrently, then evaluates
// entries one underlying at a time so ledger mutations stay sequential.
func (tc *TradingCycle) checkEntries(ctx context.Context, now time.Time) error {
	b := tc.bot
	underlyings := b.config.Strategy.Underlyings
	snapshots := make([]*models.MarketSnapshot, len(underlyings))
	fetchErrs := make([]error, len(underlyings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPrefetch)
	for i, u := range underlyings {
		g.Go(func() error {
			snapshots[i], fetchErrs[i] = b.connector.GetSnapshot(gctx, u)
			// a missing snapshot only skips its underlying
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range underlyings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tc.unreconciled() {
			b.logger.Warn("Remaining entries skipped until reconciliation succeeds")
			return nil
		}
		if fetchErrs[i] != nil {
			b.logger.WithError(fetchErrs[i]).Warnf("No market snapshot for %s, skipping", u)
			b.metrics.RecordError("snapshot")
			continue
		}
		if err := tc.checkEntry(ctx, snapshots[i], now); err != nil {
			return err
		}
	}
	return nil
}

// checkEntry runs detect → select → build → dedupe → size → submit for one underlying.
// Only persistence failures are returned.
func (tc *TradingCycle) checkEntry(ctx context.Context, snap *models.MarketSnapshot, now time.Time) error {
	b := tc.bot
	u := snap.Underlying
	log := b.logger.WithField("underlying", u)

	analysis, err := b.detector.Detect(*snap)
	if err != nil {
		log.WithError(err).Warn("Regime detection failed, skipping")
		b.metrics.RecordError("regime")
		return nil
	}
	log.Info(analysis.String())
	b.metrics.RecordRegime(u, analysis.Regime)
	if prev, changed := b.tracker.Observe(u, analysis.Regime); changed {
		b.notifier.Notify(notify.RegimeChanged(u, prev, analysis.Regime, now))
	}

	strat, err := strategy.Select(analysis.Regime)
	if err != nil {
		log.WithError(err).Warn("No strategy for regime")
		return nil
	}
	if !strat.Tradable() {
		log.Infof("Regime %s: standing aside", analysis.Regime)
		return nil
	}
	if b.config.Regime.RSIFilter && regime.BlocksEntry(analysis.RSISignal, strat) {
		log.Infof("RSI %.1f (%s) blocks %s entry", analysis.RSI, analysis.RSISignal, strat)
		return nil
	}

	chain, err := b.connector.GetChain(ctx, u, now)
	if err != nil {
		log.WithError(err).Warn("Option chain unavailable, skipping")
		b.metrics.RecordError("chain")
		return nil
	}
	candidate, err := b.builder.Build(strat, chain, now)
	if err != nil {
		log.WithError(err).Infof("No %s candidate", strat)
		return nil
	}

	tick := b.config.Strategy.TickSize
	candidate.NetCredit = util.FloorToTick(candidate.NetCredit, tick)
	if candidate.NetCredit < tick {
		log.Infof("Credit rounds below one tick, skipping %s", strat)
		return nil
	}
	if err := candidate.Validate(now); err != nil {
		log.WithError(err).Info("Candidate invalid after rounding, skipping")
		return nil
	}

	if b.positions.HasPending(candidate.Key()) {
		log.Infof("Entry for %s already working, skipping", candidate.Key())
		return nil
	}

	decision := b.sizer.Size(candidate, risk.Exposure{
		Open:              b.positions.ActiveCount(),
		OpenForUnderlying: b.positions.CountByUnderlying(u),
	})
	if !decision.Approved {
		log.Infof("Sizing declined %s: %s", strat, decision.Reason)
		return nil
	}

	req := broker.OrderRequest{
		Tag:        fmt.Sprintf("entry-%s-%s", u, uuid.NewString()[:8]),
		Legs:       candidate.Legs,
		LimitPrice: candidate.NetCredit,
		Quantity:   decision.Quantity,
	}
	handle, err := b.retry.SubmitWithRetry(ctx, req)
	if err != nil {
		if !errors.Is(err, models.ErrExecutionRejected) {
			log.WithError(err).Warn("Entry order not placed")
			b.metrics.RecordError("submit")
			tc.orderUncertain(log, err)
			return nil
		}
		b.metrics.RecordOrderRejected("entry", u)
		pos, serr := b.positions.Submit(candidate, decision.Quantity, "")
		if serr != nil {
			return fmt.Errorf("record rejected entry: %w", serr)
		}
		rejected, rerr := b.positions.Reject(pos.ID, err.Error())
		if rerr != nil {
			return fmt.Errorf("reject entry %s: %w", pos.ID, rerr)
		}
		b.notifier.Notify(notify.OrderRejected(rejected, now))
		return nil
	}

	b.metrics.RecordOrderSubmitted("entry", u)
	pos, err := b.positions.Submit(candidate, decision.Quantity, string(handle))
	if err != nil {
		return fmt.Errorf("record entry %s: %w", handle, err)
	}
	log.Infof("Submitted %s x%d %.0f/%.0f exp %s for %.2f credit (order %s, position %s)",
		strat, decision.Quantity, candidate.ShortStrike, candidate.LongStrike,
		candidate.Expiration.Format("2006-01-02"), candidate.NetCredit, handle, shortID(pos.ID))
	return nil
}

// MaybeSummarize sends the daily summary once per trading date after the management
// window has closed.
func (tc *TradingCycle) MaybeSummarize(now time.Time) error {
	b := tc.bot
	if !b.config.ManagementClosedFor(now) {
		return nil
	}
	date := b.config.TradingDate(now)

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.lastSummary == date {
		return nil
	}
	tc.lastSummary = date

	open := b.positions.ActiveCount()
	pnl := b.positions.RealizedPnLOn(date, b.config.Location())
	b.logger.Infof("Daily summary %s: %d active position(s), realized P&L $%.2f", date, open, pnl)
	b.notifier.Notify(notify.DailySummary(date, open, pnl, now))
	return nil
}
