package strategy

import (
	"time"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// ExitConfig holds the exit thresholds.
type ExitConfig struct {
	ProfitTargetPct    float64 // fraction of entry credit
	StopLossMultiplier float64 // multiple of entry credit
	DTEExit            int
}

// ExitEvaluator decides whether an open position should be closed.
type ExitEvaluator struct {
	cfg ExitConfig
}

// NewExitEvaluator creates an exit evaluator.
func NewExitEvaluator(cfg ExitConfig) *ExitEvaluator {
	return &ExitEvaluator{cfg: cfg}
}

// Evaluate checks stop-loss, then profit target, then DTE, and reports the first that holds.
// costToClose is the per-share debit to buy the spread back. Only open positions are evaluated.
func (e *ExitEvaluator) Evaluate(p *models.Position, costToClose float64, now time.Time) (*models.ExitSignal, bool) {
	if p == nil || p.State != models.StateOpen {
		return nil, false
	}

	pnl := p.UnrealizedPnL(costToClose)
	dte := p.CalculateDTE(now)
	signal := &models.ExitSignal{At: now, UnrealizedPnL: pnl, CostToClose: costToClose, DTE: dte}

	switch {
	case pnl <= -e.cfg.StopLossMultiplier*p.EntryCredit+priceEpsilon:
		signal.Cause = models.ExitStopLoss
	case pnl >= e.cfg.ProfitTargetPct*p.EntryCredit-priceEpsilon:
		signal.Cause = models.ExitProfitTarget
	case dte <= e.cfg.DTEExit:
		signal.Cause = models.ExitDTE
	default:
		return nil, false
	}
	return signal, true
}
