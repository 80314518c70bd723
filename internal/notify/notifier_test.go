package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

var testNow = time.Date(2026, 10, 15, 16, 5, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingSender struct {
	err    error
	events []Event
	mu     sync.Mutex
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSender) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// blockingSender holds the worker inside Send until release is closed.
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSender) Name() string { return "blocking" }

func (b *blockingSender) Send(_ context.Context, _ Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestNotifier_DeliversToAllSenders(t *testing.T) {
	a, b := &recordingSender{}, &recordingSender{}
	n := NewNotifier(quietLogger(), 8, nil, a, b)

	assert.True(t, n.Notify(Lifecycle(EventStartup, "engine started", testNow)))
	assert.True(t, n.Notify(DailySummary("2026-10-15", 2, 125.5, testNow)))
	n.Close()

	assert.Equal(t, []EventType{EventStartup, EventDailySummary}, a.types())
	assert.Equal(t, a.types(), b.types())
}

func TestNotifier_FiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(quietLogger(), 8, []EventType{EventTradeClosed}, rec)

	assert.False(t, n.Notify(Lifecycle(EventStartup, "engine started", testNow)))
	assert.True(t, n.Notify(Event{Type: EventTradeClosed, Message: "closed"}))
	n.Close()

	require.Equal(t, []EventType{EventTradeClosed}, rec.types())
	assert.False(t, rec.events[0].Time.IsZero(), "missing time is stamped")
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	blocker := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	n := NewNotifier(quietLogger(), 1, nil, blocker)

	require.True(t, n.Notify(Lifecycle(EventStartup, "first", testNow)))
	select {
	case <-blocker.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	assert.True(t, n.Notify(Lifecycle(EventStartup, "queued", testNow)))
	assert.False(t, n.Notify(Lifecycle(EventStartup, "dropped", testNow)))
	assert.Equal(t, int64(1), n.Dropped())

	close(blocker.release)
	n.Close()
}

func TestNotifier_SenderErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	failing := &recordingSender{err: errors.New("boom")}
	ok := &recordingSender{}
	n := NewNotifier(l, 4, nil, failing, ok)
	n.Notify(Lifecycle(EventShutdown, "bye", testNow))
	n.Close()

	assert.Len(t, ok.events, 1, "a failing sender does not stop the others")
	assert.Contains(t, buf.String(), "Notification delivery failed")
}

func TestNotifier_ClosedOrNil(t *testing.T) {
	n := NewNotifier(quietLogger(), 1, nil)
	n.Close()
	n.Close()
	assert.False(t, n.Notify(Lifecycle(EventStartup, "late", testNow)))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Notify(Lifecycle(EventStartup, "nil", testNow)))
}

func TestParseEventTypes(t *testing.T) {
	got, err := ParseEventTypes([]string{"trade_opened", " Daily_Summary "})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventTradeOpened, EventDailySummary}, got)

	_, err = ParseEventTypes([]string{"trade_opened", "margin_call"})
	assert.Error(t, err)
}

func TestEventConstructors(t *testing.T) {
	p := models.Position{
		ID:          "pos-1",
		Underlying:  "SPY",
		Strategy:    models.BullPutSpread,
		Quantity:    2,
		Width:       5,
		EntryCredit: 1.50,
		ExitCause:   string(models.ExitProfitTarget),
		RealizedPnL: 150,
		Expiration:  time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
	}

	opened := TradeOpened(p, testNow)
	assert.Equal(t, EventTradeOpened, opened.Type)
	assert.Contains(t, opened.Message, "SPY")
	assert.InDelta(t, 700.0, opened.Data["max_loss"], 1e-9)

	closed := TradeClosed(p, testNow)
	assert.Contains(t, closed.Message, "profit-target")
	assert.Contains(t, closed.Message, "$150.00")

	changed := RegimeChanged("QQQ", models.RegimeSideways, models.RegimeBullish, testNow)
	assert.Equal(t, models.RegimeBullish.String(), changed.Data["to"])

	mismatch := ReconcileMismatch([]string{"SPY261120P00400000: ledger -1, broker 0"}, testNow)
	assert.Contains(t, mismatch.Message, "entries blocked")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	require.NoError(t, NewLogSender(l).Send(context.Background(), DailySummary("2026-10-15", 1, -20, testNow)))
	assert.Contains(t, buf.String(), `"event":"daily_summary"`)
	assert.Contains(t, buf.String(), `"date":"2026-10-15"`)
}
