// Package resilience provides in-process retry for calls to external
// providers. Retries here absorb transient blips; anything that outlives
// them falls through to the task queue's coarser redelivery.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Config controls retry behavior with exponential backoff and jitter.
type Config struct {
	// MaxAttempts counts the first try. 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff. Default: 10s.
	MaxBackoff time.Duration

	// JitterFraction spreads the delay by up to this fraction either
	// way, so simultaneous failures don't retry in lockstep. Default: 0.25.
	JitterFraction float64

	// ShouldRetry overrides the default transient-error check.
	ShouldRetry func(err error) bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// DoVal runs fn until it succeeds, returns a non-retryable error, the
// attempts run out, or the context is done.
func DoVal[T any](ctx context.Context, cfg Config, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !cfg.ShouldRetry(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		zap.L().Warn("resilience: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Do is DoVal for operations with no return value.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func backoff(attempt int, cfg Config) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	if cfg.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.JitterFraction
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
