// Package broker defines the connector boundary to market data and order execution,
// with resilience wrappers and a simulated paper connector.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Connector is everything the decision engine needs from a broker.
//
// GetSnapshot and GetChain return errors wrapping models.ErrDataUnavailable when data
// is missing. SubmitOrder returns an error wrapping models.ErrExecutionRejected when the
// broker refuses the order; any other error is an infrastructure failure.
type Connector interface {
	GetSnapshot(ctx context.Context, underlying string) (*models.MarketSnapshot, error)
	GetChain(ctx context.Context, underlying string, asOf time.Time) (*models.OptionChain, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	PollFills(ctx context.Context, handle OrderHandle) (FillReport, error)
	GetMark(ctx context.Context, position *models.Position) (Mark, error)
}

// PositionReporter reports the broker's view of held option contracts.
type PositionReporter interface {
	GetPositions(ctx context.Context) ([]OptionPosition, error)
}

// Broker is a connector that can also report positions.
type Broker interface {
	Connector
	PositionReporter
}

// OrderHandle identifies a submitted order.
type OrderHandle string

// OrderRequest is a multi-leg limit order. LimitPrice is per share: a credit for
// entries, a debit for closes.
type OrderRequest struct {
	Tag        string
	Legs       []models.Leg
	LimitPrice float64
	Quantity   int
	Closing    bool
}

// Validate checks the request before it is sent.
func (r OrderRequest) Validate() error {
	if len(r.Legs) == 0 {
		return errors.New("order has no legs")
	}
	if r.Quantity < 1 {
		return fmt.Errorf("order quantity must be >= 1, got %d", r.Quantity)
	}
	if r.LimitPrice <= 0 {
		return fmt.Errorf("order limit price must be positive, got %.2f", r.LimitPrice)
	}
	return nil
}

// FillStatus is the broker-side state of an order.
type FillStatus string

const (
	FillPending  FillStatus = "pending"
	FillFilled   FillStatus = "filled"
	FillRejected FillStatus = "rejected"
)

// FillReport is the result of polling an order.
type FillReport struct {
	Status FillStatus
	Price  float64 // per-share fill price when filled
	Reason string  // rejection reason
}

// Mark is the current per-share cost to buy a spread back.
type Mark struct {
	Mid     float64 // leg midpoints
	Natural float64 // pay the ask on shorts, receive the bid on longs
}

// OptionPosition is a held contract. Quantity is negative for short positions.
type OptionPosition struct {
	Symbol   string
	Quantity int
}

// OptionSymbol formats an OCC option symbol: TICKER + YYMMDD + C/P + strike*1000 padded to 8 digits.
func OptionSymbol(underlying string, expiration time.Time, right models.OptionRight, strike float64) string {
	code := "P"
	if right == models.RightCall {
		code = "C"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), code, int(strike*1000+0.5))
}

// CloseRequest builds the order that buys back every leg of a position.
func CloseRequest(p *models.Position, limitPrice float64) OrderRequest {
	legs := make([]models.Leg, len(p.Legs))
	for i, leg := range p.Legs {
		legs[i] = leg
		if leg.Side == models.SideSell {
			legs[i].Side = models.SideBuy
		} else {
			legs[i].Side = models.SideSell
		}
	}
	return OrderRequest{
		Tag:        "close-" + p.ID,
		Legs:       legs,
		LimitPrice: limitPrice,
		Quantity:   p.Quantity,
		Closing:    true,
	}
}

// CircuitBreakerConnector wraps a Broker with circuit breaker functionality
type CircuitBreakerConnector struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips at 60% failures over at least 5 calls.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerConnector wraps broker. Missing data and broker rejections are
// answers, not outages, so they do not count as failures.
func NewCircuitBreakerConnector(broker Broker, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerConnector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, models.ErrDataUnavailable) ||
				errors.Is(err, models.ErrExecutionRejected) ||
				errors.Is(err, ErrOrderNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerConnector{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the breaker state.
func (c *CircuitBreakerConnector) State() gobreaker.State {
	return c.breaker.State()
}

func (c *CircuitBreakerConnector) GetSnapshot(ctx context.Context, underlying string) (*models.MarketSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.MarketSnapshot, error) {
		return b.GetSnapshot(ctx, underlying)
	})
}

func (c *CircuitBreakerConnector) GetChain(ctx context.Context, underlying string, asOf time.Time) (*models.OptionChain, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OptionChain, error) {
		return b.GetChain(ctx, underlying, asOf)
	})
}

func (c *CircuitBreakerConnector) SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (OrderHandle, error) {
		return b.SubmitOrder(ctx, req)
	})
}

func (c *CircuitBreakerConnector) PollFills(ctx context.Context, handle OrderHandle) (FillReport, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (FillReport, error) {
		return b.PollFills(ctx, handle)
	})
}

func (c *CircuitBreakerConnector) GetMark(ctx context.Context, position *models.Position) (Mark, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (Mark, error) {
		return b.GetMark(ctx, position)
	})
}

func (c *CircuitBreakerConnector) GetPositions(ctx context.Context) ([]OptionPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionPosition, error) {
		return b.GetPositions(ctx)
	})
}

// ErrOrderNotFound is returned when polling an unknown order handle.
var ErrOrderNotFound = errors.New("order not found")

// ErrNotSent marks a call that failed before the request left the process.
var ErrNotSent = errors.New("request not sent")

var _ Broker = (*CircuitBreakerConnector)(nil)
