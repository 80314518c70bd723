package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/broker"
	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/orders"
)

const positionsFetchTimeout = 8 * time.Second

// fillResolver settles working orders before positions are compared.
type fillResolver interface {
	Resolve(ctx context.Context) (orders.Result, error)
}

// ledgerView is the read side of the ledger used for reconciliation.
type ledgerView interface {
	InState(state models.PositionState) []models.Position
}

// Reconciler checks the ledger against the option positions the broker reports.
type Reconciler struct {
	reporter broker.PositionReporter
	resolver fillResolver
	ledger   ledgerView
	logger   logrus.FieldLogger
}

// Reconciliation is the outcome of one comparison.
type Reconciliation struct {
	Fills      orders.Result
	Mismatches []string
}

// NewReconciler creates a new position reconciler
func NewReconciler(reporter broker.PositionReporter, resolver fillResolver, ledger ledgerView, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		reporter: reporter,
		resolver: resolver,
		ledger:   ledger,
		logger:   logger,
	}
}

// Reconcile resolves pending fills, then compares the signed leg quantities of open and
// closing positions with the broker. Legs of still pending entries may be either held
// or not. Any other difference is returned as models.ErrReconciliationMismatch.
func (r *Reconciler) Reconcile(ctx context.Context) (Reconciliation, error) {
	var rec Reconciliation

	fills, err := r.resolver.Resolve(ctx)
	rec.Fills = fills
	if err != nil {
		return rec, fmt.Errorf("resolve fills: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, positionsFetchTimeout)
	defer cancel()
	held, err := r.reporter.GetPositions(fetchCtx)
	if err != nil {
		return rec, fmt.Errorf("get broker positions: %w", err)
	}

	expected := make(map[string]int)
	for _, state := range []models.PositionState{models.StateOpen, models.StateClosing} {
		for _, p := range r.ledger.InState(state) {
			addLegs(expected, p)
		}
	}
	pending := make(map[string]int)
	for _, p := range r.ledger.InState(models.StatePending) {
		addLegs(pending, p)
	}

	actual := make(map[string]int, len(held))
	for _, h := range held {
		actual[h.Symbol] += h.Quantity
	}

	symbols := make(map[string]struct{})
	for s := range expected {
		symbols[s] = struct{}{}
	}
	for s := range actual {
		symbols[s] = struct{}{}
	}
	for s := range pending {
		symbols[s] = struct{}{}
	}

	for s := range symbols {
		want, got := expected[s], actual[s]
		if got == want || (pending[s] != 0 && got == want+pending[s]) {
			continue
		}
		rec.Mismatches = append(rec.Mismatches, fmt.Sprintf("%s: ledger %d, broker %d", s, want, got))
	}
	sort.Strings(rec.Mismatches)

	r.logger.Infof("Reconciled %d ledger leg(s) against %d broker position(s), %d mismatch(es)",
		len(expected), len(held), len(rec.Mismatches))
	if len(rec.Mismatches) > 0 {
		return rec, fmt.Errorf("%w: %d symbol(s) differ", models.ErrReconciliationMismatch, len(rec.Mismatches))
	}
	return rec, nil
}

// addLegs accumulates the signed contract count of each leg: short legs are negative.
func addLegs(into map[string]int, p models.Position) {
	for _, leg := range p.Legs {
		qty := p.Quantity
		if leg.Side == models.SideSell {
			qty = -qty
		}
		into[leg.Symbol] += qty
	}
}
