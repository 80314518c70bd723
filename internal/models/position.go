package models

import (
	"fmt"
	"strings"
	"time"
)

// Position represents a credit spread position tracked in the ledger.
type Position struct {
	StateMachine *StateMachine `json:"-"`     // Runtime only, excluded from JSON
	State        PositionState `json:"state"` // Canonical persisted state
	Legs         []Leg         `json:"legs"`
	ID           string        `json:"id"`
	Underlying   string        `json:"underlying"`
	EntryOrderID string        `json:"entry_order_id,omitempty"`
	ExitOrderID  string        `json:"exit_order_id,omitempty"`
	ExitCause    string        `json:"exit_cause,omitempty"`
	RejectReason string        `json:"reject_reason,omitempty"`
	Expiration   time.Time     `json:"expiration"`
	CreatedAt    time.Time     `json:"created_at"`
	EntryDate    time.Time     `json:"entry_date,omitempty"`
	ExitDate     time.Time     `json:"exit_date,omitempty"`
	LastMarkAt   time.Time     `json:"last_mark_at,omitempty"`
	Strategy     StrategyType  `json:"strategy"`
	Width        float64       `json:"width"`
	EntryCredit  float64       `json:"entry_credit"` // per share; the limit until filled, then the fill price
	LastMark     float64       `json:"last_mark"`    // per-share cost to close
	CloseDebit   float64       `json:"close_debit,omitempty"`
	RealizedPnL  float64       `json:"realized_pnl,omitempty"` // dollars
	Quantity     int           `json:"quantity"`
}

// NewPosition creates a pending position from a sized candidate.
func NewPosition(id string, candidate *SpreadCandidate, quantity int, createdAt time.Time) *Position {
	legs := make([]Leg, len(candidate.Legs))
	copy(legs, candidate.Legs)
	return &Position{
		ID:           id,
		Underlying:   candidate.Underlying,
		Strategy:     candidate.Strategy,
		Legs:         legs,
		Expiration:   candidate.Expiration,
		Width:        candidate.Width,
		EntryCredit:  candidate.NetCredit,
		Quantity:     quantity,
		CreatedAt:    createdAt.UTC(),
		StateMachine: NewStateMachine(),
		State:        StatePending,
	}
}

// Key returns the order slot of the position.
func (p *Position) Key() OrderKey {
	return OrderKey{Underlying: p.Underlying, Expiration: p.Expiration.Format("2006-01-02"), Strategy: p.Strategy}
}

// CalculateDTE returns the days to expiration as of the given time.
func (p *Position) CalculateDTE(asOf time.Time) int {
	return DaysToExpiration(asOf, p.Expiration)
}

// UnrealizedPnL returns the per-share P&L if closed at costToClose.
func (p *Position) UnrealizedPnL(costToClose float64) float64 {
	return p.EntryCredit - costToClose
}

// DollarPnL converts a per-share P&L into dollars for the whole position.
func (p *Position) DollarPnL(perShare float64) float64 {
	return perShare * sharesPerContract * float64(p.Quantity)
}

// MaxLoss is the dollar loss if the spread expires at full width.
func (p *Position) MaxLoss() float64 {
	return (p.Width - p.EntryCredit) * sharesPerContract * float64(p.Quantity)
}

// TransitionState moves the position to a new state
func (p *Position) TransitionState(to PositionState, condition string) error {
	err := p.ensureMachine().Transition(to, condition)
	if err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}

	p.State = to

	if to == StateOpen && p.EntryDate.IsZero() {
		p.EntryDate = time.Now().UTC()
	}
	if to == StateClosed && p.ExitDate.IsZero() {
		p.ExitDate = time.Now().UTC()
	}
	return nil
}

// GetCurrentState returns the canonical persisted state
func (p *Position) GetCurrentState() PositionState {
	return p.State
}

// IsActive reports whether the position still counts against risk capacity.
func (p *Position) IsActive() bool {
	return !p.State.IsTerminal()
}

// ensureMachine ensures the StateMachine is initialized from persisted state
func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil || p.StateMachine.GetCurrentState() != p.State {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// Copy returns a deep copy safe to hand outside the ledger.
func (p *Position) Copy() Position {
	cp := *p
	cp.Legs = make([]Leg, len(p.Legs))
	copy(cp.Legs, p.Legs)
	cp.StateMachine = p.StateMachine.Copy()
	return cp
}

// ValidateState ensures the position data is consistent with its state
func (p *Position) ValidateState() error {
	if !p.State.IsKnown() {
		return fmt.Errorf("position %s: unknown state %q", p.ID, p.State)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s in state %s: Quantity must be > 0 (current: %d)",
			p.ID, p.State, p.Quantity)
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("position %s in state %s: Legs must not be empty", p.ID, p.State)
	}
	if p.EntryCredit <= 0 {
		return fmt.Errorf("position %s in state %s: EntryCredit must be positive (current: %.2f)",
			p.ID, p.State, p.EntryCredit)
	}

	switch p.State {
	case StatePending, StateRejected:
		if !p.EntryDate.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryDate must be zero before a fill (current: %v)",
				p.ID, p.State, p.EntryDate)
		}
		if p.State == StateRejected && strings.TrimSpace(p.RejectReason) == "" {
			return fmt.Errorf("position %s in state %s: RejectReason must be set", p.ID, p.State)
		}
	case StateOpen:
		if p.EntryDate.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryDate must be set for open positions", p.ID, p.State)
		}
		if strings.TrimSpace(p.ExitCause) != "" {
			return fmt.Errorf("position %s in state %s: ExitCause must be empty for open positions (current: %s)",
				p.ID, p.State, p.ExitCause)
		}
	case StateClosing:
		if strings.TrimSpace(p.ExitCause) == "" {
			return fmt.Errorf("position %s in state %s: ExitCause must be set for closing positions", p.ID, p.State)
		}
	case StateClosed:
		if p.EntryDate.IsZero() || p.ExitDate.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryDate and ExitDate must be set", p.ID, p.State)
		}
		if p.ExitDate.Before(p.EntryDate) {
			return fmt.Errorf("position %s in state %s: EntryDate (%v) must not be after ExitDate (%v)",
				p.ID, p.State, p.EntryDate, p.ExitDate)
		}
	}
	return nil
}

// GetStateDescription returns a human-readable state description
func (p *Position) GetStateDescription() string {
	return p.ensureMachine().GetStateDescription()
}
