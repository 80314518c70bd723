// Package retry resubmits broker orders that failed for transient reasons.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/spread_engine/internal/broker"
	"github.com/eddiefleurent/spread_engine/internal/models"
)

// OrderSubmitter is the part of broker.Connector the client needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderHandle, error)
}

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     2,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     10 * time.Second,
	Timeout:        1 * time.Minute,
}

type Client struct {
	submitter OrderSubmitter
	logger    logrus.FieldLogger
	config    Config
}

// NewClient creates a retrying submitter. Non-positive config values fall back to DefaultConfig.
func NewClient(submitter OrderSubmitter, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		submitter: submitter,
		logger:    logger,
		config:    cfg,
	}
}

// SubmitWithRetry submits req, retrying with jittered backoff only while every failed
// attempt provably never reached the broker. Rejections and ambiguous failures are
// returned at once; when the returned error satisfies NotSent no order was placed.
func (c *Client) SubmitWithRetry(ctx context.Context, req broker.OrderRequest) (broker.OrderHandle, error) {
	submitCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("operation canceled: %w: %w", ctx.Err(), broker.ErrNotSent)
		}
		select {
		case <-submitCtx.Done():
			return "", fmt.Errorf("submit timed out after %v: %w: %w", c.config.Timeout, submitCtx.Err(), broker.ErrNotSent)
		default:
		}

		c.logger.Debugf("Submit attempt %d/%d for %s", attempt+1, c.config.MaxRetries+1, req.Tag)

		handle, err := c.submitter.SubmitOrder(submitCtx, req)
		if err == nil {
			if attempt > 0 {
				c.logger.Infof("Order %s placed on attempt %d: %s", req.Tag, attempt+1, handle)
			}
			return handle, nil
		}

		lastErr = err
		c.logger.Warnf("Submit attempt %d for %s failed: %v", attempt+1, req.Tag, err)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		c.logger.Infof("Transient error detected, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return "", fmt.Errorf("operation canceled during backoff: %w: %w", ctx.Err(), broker.ErrNotSent)
		case <-submitCtx.Done():
			return "", fmt.Errorf("submit timed out during backoff: %w: %w", submitCtx.Err(), broker.ErrNotSent)
		}
	}

	return "", fmt.Errorf("failed to submit %s: %w", req.Tag, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Warnf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransientError reports whether a failed submit may be sent again. Orders are not
// idempotent, so only failures that never reached the broker qualify.
func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	// an open breaker will not close within our backoff
	if errors.Is(err, context.Canceled) || errors.Is(err, gobreaker.ErrOpenState) {
		return false
	}
	return NotSent(err)
}

// NotSent reports whether err proves the order never reached the broker: the rate
// limiter or the circuit breaker refused the call, or the connection was refused.
func NotSent(err error) bool {
	if err == nil || errors.Is(err, models.ErrExecutionRejected) {
		return false
	}
	if errors.Is(err, broker.ErrNotSent) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}
