package positions

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/storage"
)

var testNow = time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestManager(t *testing.T) (*Manager, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	seq := 0
	m := NewManager(store, quietLogger(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("pos-%d", seq) }),
	)
	require.NoError(t, m.Load())
	return m, store
}

func candidate(underlying string, strategy models.StrategyType) *models.SpreadCandidate {
	return &models.SpreadCandidate{
		Strategy:    strategy,
		Underlying:  underlying,
		Expiration:  time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
		ShortStrike: 400,
		LongStrike:  395,
		Width:       5,
		NetCredit:   2.00,
		Legs: []models.Leg{
			{Symbol: "S", Right: models.RightPut, Side: models.SideSell, Strike: 400},
			{Symbol: "L", Right: models.RightPut, Side: models.SideBuy, Strike: 395},
		},
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m, store := newTestManager(t)

	p, err := m.Submit(candidate("SPY", models.BullPutSpread), 2, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, p.State)
	assert.Equal(t, "entry-1", p.EntryOrderID)
	assert.Equal(t, 1, m.ActiveCount())
	assert.True(t, m.HasPending(p.Key()))

	p, err = m.ConfirmFill(p.ID, 1.95)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, p.State)
	assert.InDelta(t, 1.95, p.EntryCredit, 1e-9)
	assert.True(t, p.EntryDate.Equal(testNow))
	assert.False(t, m.HasPending(p.Key()))

	sig := &models.ExitSignal{At: testNow, Cause: models.ExitProfitTarget, CostToClose: 0.95}
	p, err = m.BeginClose(p.ID, sig, "exit-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateClosing, p.State)
	assert.Equal(t, "profit-target", p.ExitCause)
	assert.Equal(t, "exit-1", p.ExitOrderID)

	p, err = m.ConfirmClose(p.ID, 0.95)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, p.State)
	// (1.95 - 0.95) * 100 * 2
	assert.InDelta(t, 200.0, p.RealizedPnL, 1e-9)
	assert.Equal(t, 0, m.ActiveCount())
	assert.InDelta(t, 200.0, m.RealizedPnLOn("2026-10-15", time.UTC), 1e-9)
	assert.Zero(t, m.RealizedPnLOn("2026-10-14", time.UTC))

	stored, ok := store.Stored(p.ID)
	require.True(t, ok)
	assert.Equal(t, models.StateClosed, stored.State)
	assert.Equal(t, 4, store.GetSaveCallCount(), "one save per transition")
}

func TestManager_Reject(t *testing.T) {
	m, _ := newTestManager(t)
	p, err := m.Submit(candidate("SPY", models.BullPutSpread), 1, "entry-1")
	require.NoError(t, err)

	p, err = m.Reject(p.ID, "insufficient buying power")
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, p.State)
	assert.Equal(t, "insufficient buying power", p.RejectReason)
	assert.Equal(t, 0, m.ActiveCount(), "rejection releases capacity")

	_, err = m.ConfirmFill(p.ID, 2.0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestManager_InvalidTransitionsLeavePositionUnchanged(t *testing.T) {
	m, store := newTestManager(t)
	p, err := m.Submit(candidate("SPY", models.BullPutSpread), 1, "entry-1")
	require.NoError(t, err)

	_, err = m.BeginClose(p.ID, &models.ExitSignal{Cause: models.ExitDTE}, "x")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = m.ConfirmClose(p.ID, 1.0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = m.ClearCloseOrder(p.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, ok := m.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatePending, got.State)
	assert.Empty(t, got.ExitCause)
	assert.Zero(t, got.CloseDebit)
	assert.Equal(t, 1, store.GetSaveCallCount())

	_, err = m.ConfirmFill("missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_PersistenceFailureRollsBack(t *testing.T) {
	m, store := newTestManager(t)
	p, err := m.Submit(candidate("SPY", models.BullPutSpread), 1, "entry-1")
	require.NoError(t, err)

	store.SetSaveError(errors.New("disk full"))

	_, err = m.ConfirmFill(p.ID, 1.90)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)

	got, _ := m.Get(p.ID)
	assert.Equal(t, models.StatePending, got.State)
	assert.InDelta(t, 2.00, got.EntryCredit, 1e-9)
	assert.True(t, got.EntryDate.IsZero())

	_, err = m.Submit(candidate("QQQ", models.BullPutSpread), 1, "entry-2")
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 1, len(m.All()), "failed submit must not enter the ledger")

	// The machine was rolled back too, so the transition succeeds once storage recovers.
	store.SetSaveError(nil)
	got, err = m.ConfirmFill(p.ID, 1.90)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, got.State)
}

func TestManager_CloseOrderRejectedStaysClosing(t *testing.T) {
	m, _ := newTestManager(t)
	p, _ := m.Submit(candidate("SPY", models.BullPutSpread), 1, "entry-1")
	_, err := m.ConfirmFill(p.ID, 0)
	require.NoError(t, err)
	_, err = m.BeginClose(p.ID, &models.ExitSignal{Cause: models.ExitStopLoss, CostToClose: 6}, "exit-1")
	require.NoError(t, err)

	got, err := m.ClearCloseOrder(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosing, got.State)
	assert.Empty(t, got.ExitOrderID)

	got, err = m.SetCloseOrder(p.ID, "exit-2")
	require.NoError(t, err)
	assert.Equal(t, "exit-2", got.ExitOrderID)
	assert.Len(t, m.InState(models.StateClosing), 1)
}

func TestManager_Counts(t *testing.T) {
	m, _ := newTestManager(t)
	a, _ := m.Submit(candidate("SPY", models.BullPutSpread), 1, "1")
	_, _ = m.Submit(candidate("SPY", models.IronCondor), 1, "2")
	c, _ := m.Submit(candidate("QQQ", models.BearCallSpread), 1, "3")
	_, err := m.Reject(c.ID, "no")
	require.NoError(t, err)

	assert.Equal(t, 2, m.ActiveCount())
	assert.Equal(t, 2, m.CountByUnderlying("SPY"))
	assert.Equal(t, 0, m.CountByUnderlying("QQQ"))
	assert.True(t, m.HasPending(a.Key()))
	assert.False(t, m.HasPending(c.Key()), "rejected orders do not block the slot")

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestManager_UpdateMarkIsNotPersisted(t *testing.T) {
	m, store := newTestManager(t)
	p, _ := m.Submit(candidate("SPY", models.BullPutSpread), 1, "1")
	saves := store.GetSaveCallCount()

	require.NoError(t, m.UpdateMark(p.ID, 1.25, testNow))
	got, _ := m.Get(p.ID)
	assert.InDelta(t, 1.25, got.LastMark, 1e-9)
	assert.Equal(t, saves, store.GetSaveCallCount())
	assert.ErrorIs(t, m.UpdateMark("missing", 1, testNow), ErrNotFound)
}

func TestManager_LoadRestoresLedger(t *testing.T) {
	store := storage.NewMockStorage()
	first := NewManager(store, quietLogger())
	require.NoError(t, first.Load())
	p, err := first.Submit(candidate("SPY", models.BullPutSpread), 1, "1")
	require.NoError(t, err)
	_, err = first.ConfirmFill(p.ID, 0)
	require.NoError(t, err)

	second := NewManager(store, quietLogger())
	require.NoError(t, second.Load())
	assert.Equal(t, 1, second.ActiveCount())
	_, err = second.BeginClose(p.ID, &models.ExitSignal{Cause: models.ExitDTE}, "")
	require.NoError(t, err)

	store.SetLoadError(errors.New("boom"))
	assert.ErrorIs(t, second.Load(), models.ErrPersistence)
}
