package storage

import (
	"fmt"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Interface defines the contract for position ledger persistence.
//
// Implementations must be safe for concurrent use. SavePosition is an upsert keyed
// by position ID and must be durable when it returns nil; a failed save leaves the
// previously persisted copy untouched.
type Interface interface {
	LoadPositions() ([]models.Position, error)
	SavePosition(pos *models.Position) error
	Close() error
}

// Backend names accepted by NewStorage.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStorage opens the ledger for the configured backend.
func NewStorage(backend, path string) (Interface, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// restorePosition rebuilds runtime state of a decoded position and checks it.
func restorePosition(p *models.Position) error {
	p.StateMachine = models.NewStateMachineFromState(p.State)
	if err := p.ValidateState(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	return nil
}

var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
