package broker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) GetSnapshot(ctx context.Context, underlying string) (*models.MarketSnapshot, error) {
	args := m.Called(ctx, underlying)
	s, _ := args.Get(0).(*models.MarketSnapshot)
	return s, args.Error(1)
}

func (m *mockBroker) GetChain(ctx context.Context, underlying string, asOf time.Time) (*models.OptionChain, error) {
	args := m.Called(ctx, underlying, asOf)
	c, _ := args.Get(0).(*models.OptionChain)
	return c, args.Error(1)
}

func (m *mockBroker) SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderHandle), args.Error(1)
}

func (m *mockBroker) PollFills(ctx context.Context, handle OrderHandle) (FillReport, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(FillReport), args.Error(1)
}

func (m *mockBroker) GetMark(ctx context.Context, position *models.Position) (Mark, error) {
	args := m.Called(ctx, position)
	return args.Get(0).(Mark), args.Error(1)
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]OptionPosition, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]OptionPosition)
	return p, args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOrderRequestValidate(t *testing.T) {
	leg := models.Leg{Symbol: "X", Side: models.SideSell}
	assert.NoError(t, OrderRequest{Legs: []models.Leg{leg}, Quantity: 1, LimitPrice: 1.5}.Validate())
	assert.Error(t, OrderRequest{Quantity: 1, LimitPrice: 1.5}.Validate())
	assert.Error(t, OrderRequest{Legs: []models.Leg{leg}, LimitPrice: 1.5}.Validate())
	assert.Error(t, OrderRequest{Legs: []models.Leg{leg}, Quantity: 1}.Validate())
}

func TestOptionSymbol(t *testing.T) {
	exp := time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SPY261120P00400000", OptionSymbol("SPY", exp, models.RightPut, 400))
	assert.Equal(t, "IWM261120C00212500", OptionSymbol("IWM", exp, models.RightCall, 212.5))
}

func TestCloseRequestFlipsSides(t *testing.T) {
	p := &models.Position{
		ID:       "pos-1",
		Quantity: 3,
		Legs: []models.Leg{
			{Symbol: "S", Side: models.SideSell, Strike: 400},
			{Symbol: "L", Side: models.SideBuy, Strike: 395},
		},
	}
	req := CloseRequest(p, 0.75)
	assert.True(t, req.Closing)
	assert.Equal(t, 3, req.Quantity)
	assert.Equal(t, 0.75, req.LimitPrice)
	assert.Equal(t, models.SideBuy, req.Legs[0].Side)
	assert.Equal(t, models.SideSell, req.Legs[1].Side)
	assert.Equal(t, models.SideSell, p.Legs[0].Side, "position legs are untouched")
}

func TestCircuitBreakerTripsOnInfrastructureErrors(t *testing.T) {
	inner := &mockBroker{}
	inner.On("GetSnapshot", mock.Anything, "SPY").Return(nil, errors.New("connection reset"))

	cb := NewCircuitBreakerConnector(inner, CircuitBreakerSettings{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 3, FailureRatio: 0.5,
	}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.GetSnapshot(context.Background(), "SPY")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.GetSnapshot(context.Background(), "SPY")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertNumberOfCalls(t, "GetSnapshot", 3)
}

func TestCircuitBreakerIgnoresRejectionsAndMissingData(t *testing.T) {
	inner := &mockBroker{}
	inner.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(OrderHandle(""), models.ErrExecutionRejected)
	inner.On("GetChain", mock.Anything, "SPY", mock.Anything).
		Return(nil, models.ErrChainIncomplete)

	cb := NewCircuitBreakerConnector(inner, CircuitBreakerSettings{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 2, FailureRatio: 0.5,
	}, quietLogger())

	for i := 0; i < 5; i++ {
		_, err := cb.SubmitOrder(context.Background(), OrderRequest{})
		assert.ErrorIs(t, err, models.ErrExecutionRejected)
		_, err = cb.GetChain(context.Background(), "SPY", time.Now())
		assert.ErrorIs(t, err, models.ErrDataUnavailable)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerPassesResults(t *testing.T) {
	inner := &mockBroker{}
	inner.On("PollFills", mock.Anything, OrderHandle("o-1")).
		Return(FillReport{Status: FillFilled, Price: 1.25}, nil)
	inner.On("GetPositions", mock.Anything).
		Return([]OptionPosition{{Symbol: "S", Quantity: -1}}, nil)
	inner.On("GetMark", mock.Anything, mock.Anything).Return(Mark{Mid: 1, Natural: 1.1}, nil)

	cb := NewCircuitBreakerConnector(inner, DefaultCircuitBreakerSettings, quietLogger())
	fill, err := cb.PollFills(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, FillFilled, fill.Status)

	pos, err := cb.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, pos, 1)

	m, err := cb.GetMark(context.Background(), &models.Position{})
	require.NoError(t, err)
	assert.Equal(t, 1.1, m.Natural)
	inner.AssertExpectations(t)
}

func TestRateLimitedConnector(t *testing.T) {
	inner := &mockBroker{}
	inner.On("GetSnapshot", mock.Anything, "SPY").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "calls run under the call timeout")
		}).
		Return(&models.MarketSnapshot{Underlying: "SPY"}, nil)

	rl := NewRateLimitedConnector(inner, 1000, 2, time.Second)
	for i := 0; i < 3; i++ {
		s, err := rl.GetSnapshot(context.Background(), "SPY")
		require.NoError(t, err)
		assert.Equal(t, "SPY", s.Underlying)
	}
	inner.AssertNumberOfCalls(t, "GetSnapshot", 3)
}

func TestRateLimitedConnector_CanceledContext(t *testing.T) {
	inner := &mockBroker{}
	rl := NewRateLimitedConnector(inner, 0.001, 1, 0)

	// drain the single token
	inner.On("GetPositions", mock.Anything).Return([]OptionPosition{}, nil).Once()
	_, err := rl.GetPositions(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rl.GetPositions(ctx)
	assert.ErrorIs(t, err, ErrNotSent, "a call the limiter held back never reached the broker")
	assert.ErrorIs(t, err, context.Canceled)
	inner.AssertNumberOfCalls(t, "GetPositions", 1)
}
