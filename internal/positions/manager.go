// Package positions owns the position ledger. Every state change goes through the
// Manager, which persists synchronously before the change is considered done.
package positions

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/storage"
)

// ErrNotFound is returned for an unknown position ID.
var ErrNotFound = errors.New("position not found")

// Manager holds the in-memory ledger backed by a storage.Interface.
type Manager struct {
	mu        sync.RWMutex
	store     storage.Interface
	logger    logrus.FieldLogger
	positions map[string]*models.Position
	now       func() time.Time
	newID     func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for entry and exit dates.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides position ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager creates a manager over store. Call Load before use.
func NewManager(store storage.Interface, logger logrus.FieldLogger, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		store:     store,
		logger:    logger,
		positions: make(map[string]*models.Position),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory ledger with the persisted one.
func (m *Manager) Load() error {
	loaded, err := m.store.LoadPositions()
	if err != nil {
		return fmt.Errorf("%w: loading ledger: %v", models.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*models.Position, len(loaded))
	for i := range loaded {
		p := loaded[i]
		m.positions[p.ID] = &p
	}
	m.logger.Infof("Loaded %d positions (%d active)", len(loaded), m.activeCountLocked())
	return nil
}

// Submit records a pending position for an entry order the broker accepted.
func (m *Manager) Submit(c *models.SpreadCandidate, quantity int, orderID string) (models.Position, error) {
	if c == nil {
		return models.Position{}, fmt.Errorf("submit: nil candidate")
	}
	if quantity < 1 {
		return models.Position{}, fmt.Errorf("submit: quantity must be >= 1, got %d", quantity)
	}

	p := models.NewPosition(m.newID(), c, quantity, m.now())
	p.EntryOrderID = orderID

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SavePosition(p); err != nil {
		return models.Position{}, fmt.Errorf("%w: saving new position %s: %v", models.ErrPersistence, p.ID, err)
	}
	m.positions[p.ID] = p
	m.logger.WithFields(logrus.Fields{
		"position": p.ID, "underlying": p.Underlying, "strategy": p.Strategy, "quantity": quantity,
	}).Info("Position pending")
	return p.Copy(), nil
}

// ConfirmFill moves a pending position to open. A positive fill price replaces the
// limit credit recorded at submission.
func (m *Manager) ConfirmFill(id string, fillPrice float64) (models.Position, error) {
	return m.mutate(id, func(p *models.Position) error {
		if fillPrice > 0 {
			p.EntryCredit = fillPrice
		}
		p.EntryDate = m.now().UTC()
		return p.TransitionState(models.StateOpen, models.ConditionOrderFilled)
	})
}

// Reject moves a pending position to rejected.
func (m *Manager) Reject(id, reason string) (models.Position, error) {
	if reason == "" {
		reason = "rejected by broker"
	}
	return m.mutate(id, func(p *models.Position) error {
		p.RejectReason = reason
		return p.TransitionState(models.StateRejected, models.ConditionOrderRejected)
	})
}

// BeginClose moves an open position to closing. orderID may be empty when the close
// order could not be placed; the position is then picked up for resubmission.
func (m *Manager) BeginClose(id string, signal *models.ExitSignal, orderID string) (models.Position, error) {
	if signal == nil {
		return models.Position{}, fmt.Errorf("begin close %s: nil exit signal", id)
	}
	return m.mutate(id, func(p *models.Position) error {
		p.ExitCause = string(signal.Cause)
		p.ExitOrderID = orderID
		p.LastMark = signal.CostToClose
		p.LastMarkAt = signal.At
		return p.TransitionState(models.StateClosing, models.ConditionExitTriggered)
	})
}

// SetCloseOrder records a (re)submitted close order for a closing position.
func (m *Manager) SetCloseOrder(id, orderID string) (models.Position, error) {
	return m.mutate(id, func(p *models.Position) error {
		if p.State != models.StateClosing {
			return fmt.Errorf("%w: position %s is %s, not closing", models.ErrInvalidTransition, id, p.State)
		}
		p.ExitOrderID = orderID
		return nil
	})
}

// ClearCloseOrder forgets a close order the broker rejected. The position stays closing.
func (m *Manager) ClearCloseOrder(id string) (models.Position, error) {
	return m.mutate(id, func(p *models.Position) error {
		if p.State != models.StateClosing {
			return fmt.Errorf("%w: position %s is %s, not closing", models.ErrInvalidTransition, id, p.State)
		}
		p.ExitOrderID = ""
		return nil
	})
}

// ConfirmClose moves a closing position to closed and books the realized P&L.
func (m *Manager) ConfirmClose(id string, closeDebit float64) (models.Position, error) {
	return m.mutate(id, func(p *models.Position) error {
		p.CloseDebit = closeDebit
		p.RealizedPnL = p.DollarPnL(p.EntryCredit - closeDebit)
		p.ExitDate = m.now().UTC()
		return p.TransitionState(models.StateClosed, models.ConditionCloseFilled)
	})
}

// UpdateMark records the latest cost to close. Marks are not persisted.
func (m *Manager) UpdateMark(id string, costToClose float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.LastMark = costToClose
	p.LastMarkAt = at
	return nil
}

// mutate applies fn to the position and persists it. If fn or the save fails the
// position is restored to its previous value.
func (m *Manager) mutate(id string, fn func(p *models.Position) error) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	backup := p.Copy()
	if err := fn(p); err != nil {
		*p = backup
		return models.Position{}, err
	}
	if err := m.store.SavePosition(p); err != nil {
		*p = backup
		return models.Position{}, fmt.Errorf("%w: saving position %s: %v", models.ErrPersistence, id, err)
	}

	m.logger.WithFields(logrus.Fields{
		"position": id, "from": backup.State, "to": p.State,
	}).Debug("Position updated")
	return p.Copy(), nil
}

// Get returns a copy of the position.
func (m *Manager) Get(id string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return p.Copy(), true
}

// All returns copies of every position ordered by creation time.
func (m *Manager) All() []models.Position {
	return m.filter(func(*models.Position) bool { return true })
}

// Active returns copies of every non-terminal position.
func (m *Manager) Active() []models.Position {
	return m.filter((*models.Position).IsActive)
}

// InState returns copies of positions in the given state.
func (m *Manager) InState(state models.PositionState) []models.Position {
	return m.filter(func(p *models.Position) bool { return p.State == state })
}

// ActiveCount returns the number of non-terminal positions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, p := range m.positions {
		if p.IsActive() {
			n++
		}
	}
	return n
}

// CountByUnderlying returns the number of active positions on underlying.
func (m *Manager) CountByUnderlying(underlying string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if p.IsActive() && p.Underlying == underlying {
			n++
		}
	}
	return n
}

// HasPending reports whether an entry order for key is still awaiting a fill.
func (m *Manager) HasPending(key models.OrderKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.positions {
		if p.State == models.StatePending && p.Key() == key {
			return true
		}
	}
	return false
}

// RealizedPnLOn sums realized dollar P&L of positions closed on date (YYYY-MM-DD in loc).
func (m *Manager) RealizedPnLOn(date string, loc *time.Location) float64 {
	if loc == nil {
		loc = time.UTC
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.positions {
		if p.State == models.StateClosed && p.ExitDate.In(loc).Format("2006-01-02") == date {
			total += p.RealizedPnL
		}
	}
	return total
}

func (m *Manager) filter(keep func(*models.Position) bool) []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, p.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
