package regime

import (
	"sync"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Tracker remembers the last regime seen per underlying for change detection.
type Tracker struct {
	mu   sync.Mutex
	last map[string]models.Regime
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]models.Regime)}
}

// Observe records the regime and returns the previous one and whether it changed.
// The first observation for an underlying is never reported as a change.
func (t *Tracker) Observe(underlying string, r models.Regime) (previous models.Regime, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, seen := t.last[underlying]
	t.last[underlying] = r
	return previous, seen && previous != r
}

// Last returns the last observed regime for the underlying.
func (t *Tracker) Last(underlying string) (models.Regime, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.last[underlying]
	return r, ok
}

// Snapshot copies the current regimes by underlying.
func (t *Tracker) Snapshot() map[string]models.Regime {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.Regime, len(t.last))
	for k, v := range t.last {
		out[k] = v
	}
	return out
}
