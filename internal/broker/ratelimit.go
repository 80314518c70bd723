package broker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// RateLimitedConnector spaces broker calls with a token bucket and bounds each call
// with a timeout.
type RateLimitedConnector struct {
	broker      Broker
	limiter     *rate.Limiter
	callTimeout time.Duration
}

// NewRateLimitedConnector allows rps calls per second with the given burst.
// A zero callTimeout leaves calls bounded only by the caller's context.
func NewRateLimitedConnector(broker Broker, rps float64, burst int, callTimeout time.Duration) *RateLimitedConnector {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedConnector{
		broker:      broker,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		callTimeout: callTimeout,
	}
}

func (r *RateLimitedConnector) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: rate limiter: %w", ErrNotSent, err)
	}
	if r.callTimeout <= 0 {
		return ctx, func() {}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	return callCtx, cancel, nil
}

// limited waits for a token and runs fn under the call timeout.
func limited[T any](ctx context.Context, r *RateLimitedConnector, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel, err := r.begin(ctx)
	if err != nil {
		return zero, err
	}
	defer cancel()
	return fn(callCtx)
}

func (r *RateLimitedConnector) GetSnapshot(ctx context.Context, underlying string) (*models.MarketSnapshot, error) {
	return limited(ctx, r, func(ctx context.Context) (*models.MarketSnapshot, error) {
		return r.broker.GetSnapshot(ctx, underlying)
	})
}

func (r *RateLimitedConnector) GetChain(ctx context.Context, underlying string, asOf time.Time) (*models.OptionChain, error) {
	return limited(ctx, r, func(ctx context.Context) (*models.OptionChain, error) {
		return r.broker.GetChain(ctx, underlying, asOf)
	})
}

func (r *RateLimitedConnector) SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	return limited(ctx, r, func(ctx context.Context) (OrderHandle, error) {
		return r.broker.SubmitOrder(ctx, req)
	})
}

func (r *RateLimitedConnector) PollFills(ctx context.Context, handle OrderHandle) (FillReport, error) {
	return limited(ctx, r, func(ctx context.Context) (FillReport, error) {
		return r.broker.PollFills(ctx, handle)
	})
}

func (r *RateLimitedConnector) GetMark(ctx context.Context, position *models.Position) (Mark, error) {
	return limited(ctx, r, func(ctx context.Context) (Mark, error) {
		return r.broker.GetMark(ctx, position)
	})
}

func (r *RateLimitedConnector) GetPositions(ctx context.Context) ([]OptionPosition, error) {
	return limited(ctx, r, func(ctx context.Context) ([]OptionPosition, error) {
		return r.broker.GetPositions(ctx)
	})
}

var _ Broker = (*RateLimitedConnector)(nil)
