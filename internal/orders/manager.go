// Package orders resolves working entry and close orders against broker fill reports.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/broker"
	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Config contains configuration for the order manager.
type Config struct {
	CallTimeout time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	CallTimeout: 5 * time.Second,
}

// FillPoller is the broker surface needed to resolve orders.
type FillPoller interface {
	PollFills(ctx context.Context, handle broker.OrderHandle) (broker.FillReport, error)
}

// Ledger is the position bookkeeping the manager drives.
type Ledger interface {
	InState(state models.PositionState) []models.Position
	ConfirmFill(id string, fillPrice float64) (models.Position, error)
	Reject(id, reason string) (models.Position, error)
	ConfirmClose(id string, closeDebit float64) (models.Position, error)
	ClearCloseOrder(id string) (models.Position, error)
}

// Result lists the positions whose state changed during one Resolve call.
type Result struct {
	Opened        []models.Position
	Rejected      []models.Position
	Closed        []models.Position
	CloseRejected []models.Position
	StillWorking  int
}

// Manager handles order status polling.
type Manager struct {
	poller FillPoller
	ledger Ledger
	logger logrus.FieldLogger
	config Config
}

// NewManager creates a new order manager instance.
func NewManager(poller FillPoller, ledger Ledger, logger logrus.FieldLogger, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if poller == nil {
		panic("orders.NewManager: poller must not be nil")
	}
	if ledger == nil {
		panic("orders.NewManager: ledger must not be nil")
	}

	return &Manager{
		poller: poller,
		ledger: ledger,
		logger: logger,
		config: cfg,
	}
}

// Resolve polls every pending entry and every closing position with a working order once.
// Poll failures leave the position untouched for the next cycle; only persistence failures
// are returned.
func (m *Manager) Resolve(ctx context.Context) (Result, error) {
	var res Result

	for _, p := range m.ledger.InState(models.StatePending) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := m.resolveEntry(ctx, p, &res); err != nil {
			return res, err
		}
	}
	for _, p := range m.ledger.InState(models.StateClosing) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if p.ExitOrderID == "" {
			continue
		}
		if err := m.resolveExit(ctx, p, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (m *Manager) resolveEntry(ctx context.Context, p models.Position, res *Result) error {
	log := m.logger.WithFields(logrus.Fields{"position": p.ID, "order": p.EntryOrderID})
	if p.EntryOrderID == "" {
		updated, err := m.ledger.Reject(p.ID, "entry order was never acknowledged")
		if err != nil {
			return fmt.Errorf("reject unacknowledged entry %s: %w", p.ID, err)
		}
		res.Rejected = append(res.Rejected, updated)
		return nil
	}

	report, err := m.poll(ctx, p.EntryOrderID)
	switch {
	case errors.Is(err, broker.ErrOrderNotFound):
		log.Warn("Entry order unknown to broker, rejecting position")
		report = broker.FillReport{Status: broker.FillRejected, Reason: "order not found at broker"}
	case err != nil:
		log.Warnf("Error checking entry order status: %v", err)
		res.StillWorking++
		return nil
	}

	switch report.Status {
	case broker.FillFilled:
		updated, err := m.ledger.ConfirmFill(p.ID, report.Price)
		if err != nil {
			return fmt.Errorf("confirm fill of %s: %w", p.ID, err)
		}
		log.Infof("Entry filled at %.2f", report.Price)
		res.Opened = append(res.Opened, updated)
	case broker.FillRejected:
		updated, err := m.ledger.Reject(p.ID, report.Reason)
		if err != nil {
			return fmt.Errorf("reject %s: %w", p.ID, err)
		}
		log.Warnf("Entry order rejected: %s", report.Reason)
		res.Rejected = append(res.Rejected, updated)
	default:
		res.StillWorking++
	}
	return nil
}

func (m *Manager) resolveExit(ctx context.Context, p models.Position, res *Result) error {
	log := m.logger.WithFields(logrus.Fields{"position": p.ID, "order": p.ExitOrderID})

	report, err := m.poll(ctx, p.ExitOrderID)
	switch {
	case errors.Is(err, broker.ErrOrderNotFound):
		log.Warn("Close order unknown to broker, clearing it for resubmission")
		report = broker.FillReport{Status: broker.FillRejected, Reason: "order not found at broker"}
	case err != nil:
		log.Warnf("Error checking close order status: %v", err)
		res.StillWorking++
		return nil
	}

	switch report.Status {
	case broker.FillFilled:
		updated, err := m.ledger.ConfirmClose(p.ID, report.Price)
		if err != nil {
			return fmt.Errorf("confirm close of %s: %w", p.ID, err)
		}
		log.Infof("Close filled at %.2f, realized P&L $%.2f", report.Price, updated.RealizedPnL)
		res.Closed = append(res.Closed, updated)
	case broker.FillRejected:
		updated, err := m.ledger.ClearCloseOrder(p.ID)
		if err != nil {
			return fmt.Errorf("clear close order of %s: %w", p.ID, err)
		}
		log.Warnf("Close order rejected (%s), position stays closing", report.Reason)
		res.CloseRejected = append(res.CloseRejected, updated)
	default:
		res.StillWorking++
	}
	return nil
}

func (m *Manager) poll(ctx context.Context, orderID string) (broker.FillReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	return m.poller.PollFills(callCtx, broker.OrderHandle(orderID))
}
