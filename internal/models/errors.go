package models

import (
	"errors"
	"fmt"
)

// Error classes shared by the engine components. Callers branch on them with errors.Is.
var (
	// ErrDataUnavailable means a snapshot or chain could not be used this cycle.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrChainIncomplete means the chain lacked a usable strike, offset strike or liquid quote.
	ErrChainIncomplete = fmt.Errorf("%w: option chain incomplete", ErrDataUnavailable)
	// ErrInsufficientCredit means the spread could be built but pays too little.
	ErrInsufficientCredit = fmt.Errorf("%w: insufficient credit", ErrDataUnavailable)
	// ErrConfiguration marks invalid thresholds detected at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrExecutionRejected means the broker refused an order.
	ErrExecutionRejected = errors.New("execution rejected")
	// ErrPersistence means the ledger could not be flushed after a transition.
	ErrPersistence = errors.New("persistence failure")
	// ErrReconciliationMismatch means the ledger disagrees with the broker after a gap.
	ErrReconciliationMismatch = errors.New("stale reconciliation mismatch")
	// ErrInvalidTransition is returned for state changes outside the transition table.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownRegime is returned for regime values outside the enum.
	ErrUnknownRegime = errors.New("unknown regime")
)
