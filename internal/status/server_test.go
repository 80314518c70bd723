package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/storage"
)

var testNow = time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

type fakeLedger struct {
	positions []models.Position
}

func (f *fakeLedger) All() []models.Position { return f.positions }

func (f *fakeLedger) Get(id string) (models.Position, bool) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, true
		}
	}
	return models.Position{}, false
}

func testLedger() *fakeLedger {
	exp := time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)
	entry := testNow.Add(-48 * time.Hour)
	return &fakeLedger{positions: []models.Position{
		{
			ID: "open-1", Underlying: "SPY", Strategy: models.BullPutSpread, State: models.StateOpen,
			Quantity: 2, Width: 5, EntryCredit: 1.50, LastMark: 0.50, LastMarkAt: testNow,
			Expiration: exp, EntryDate: entry,
		},
		{
			ID: "closed-1", Underlying: "QQQ", Strategy: models.BearCallSpread, State: models.StateClosed,
			Quantity: 1, Width: 5, EntryCredit: 1.20, CloseDebit: 2.20, RealizedPnL: -100,
			Expiration: exp, EntryDate: entry, ExitDate: testNow, ExitCause: string(models.ExitStopLoss),
		},
	}}
}

func newTestServer(token string) *Server {
	l := logrus.New()
	l.SetOutput(io.Discard)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("spread_engine_cycles_total 1\n"))
	})
	return NewServer(Config{Addr: ":0", AuthToken: token}, testLedger(), metrics, l,
		WithClock(func() time.Time { return testNow }),
		WithEntriesBlocked(func() bool { return true }),
	)
}

func get(t *testing.T, s *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer("secret"), "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["entries_blocked"])
	assert.Equal(t, float64(testNow.Unix()), body["timestamp"])
}

func TestAuth(t *testing.T) {
	s := newTestServer("secret")

	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/positions", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/positions", map[string]string{"Authorization": "Bearer wrong"}).Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/api/positions", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/api/stats", map[string]string{"X-Auth-Token": "secret"}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/metrics", nil).Code)

	open := newTestServer("")
	assert.Equal(t, http.StatusOK, get(t, open, "/api/positions", nil).Code)
}

func TestPositions(t *testing.T) {
	s := newTestServer("")

	var active []PositionView
	require.NoError(t, json.Unmarshal(get(t, s, "/api/positions", nil).Body.Bytes(), &active))
	require.Len(t, active, 1)
	v := active[0]
	assert.Equal(t, "open-1", v.ID)
	assert.Equal(t, 36, v.DTE)
	assert.InDelta(t, 200.0, v.PnL, 1e-9)
	assert.InDelta(t, 66.666, v.PnLPercent, 1e-2)
	assert.InDelta(t, 700.0, v.MaxLoss, 1e-9)
	assert.True(t, v.IsProfit)

	var all []PositionView
	require.NoError(t, json.Unmarshal(get(t, s, "/api/positions?all=true", nil).Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestPositionByID(t *testing.T) {
	s := newTestServer("")

	rec := get(t, s, "/api/positions/closed-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v PositionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "closed", v.State)
	assert.Equal(t, "stop-loss", v.ExitCause)
	assert.InDelta(t, -100.0, v.PnL, 1e-9)
	assert.False(t, v.IsProfit)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/positions/missing", nil).Code)
}

func TestStats(t *testing.T) {
	var stats storage.Statistics
	require.NoError(t, json.Unmarshal(get(t, newTestServer(""), "/api/stats", nil).Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.Equal(t, 1, stats.OpenPositions)
	assert.InDelta(t, -100.0, stats.TotalPnL, 1e-9)
}

func TestMetricsMounted(t *testing.T) {
	rec := get(t, newTestServer(""), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spread_engine_cycles_total")
}
