package raster

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds retries of transient object-store failures.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    100 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}
}

// BreakerSettings configures the circuit breaker around a remote source.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// BreakerSource wraps a remote ChunkSource with retries and a circuit
// breaker. Missing objects count as successes so sparse stores do not trip it.
type BreakerSource struct {
	next    ChunkSource
	breaker *gobreaker.CircuitBreaker[[]byte]
	retry   RetryPolicy
	logger  *slog.Logger
	sleepFn func(context.Context, time.Duration) error
}

// NewBreakerSource wraps next.
func NewBreakerSource(next ChunkSource, settings BreakerSettings, retry RetryPolicy, logger *slog.Logger) *BreakerSource {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	b := &BreakerSource{
		next:    next,
		retry:   retry,
		logger:  logger,
		sleepFn: sleepCtx,
	}
	b.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("raster source circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return b
}

// GetObject fetches key through the breaker, retrying transient failures.
// The body is buffered so retries and the breaker see the whole transfer.
func (b *BreakerSource) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt <= b.retry.MaxRetries; attempt++ {
		data, err := b.breaker.Execute(func() ([]byte, error) {
			return readObject(ctx, b.next, key)
		})
		if err == nil {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		lastErr = err
		if !retryable(err) || attempt == b.retry.MaxRetries {
			break
		}
		wait := b.backoff(attempt)
		b.logger.Debug("retrying raster object fetch", "key", key, "attempt", attempt+1, "wait", wait, "error", err)
		if err := b.sleepFn(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// State reports the breaker state, for health checks.
func (b *BreakerSource) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerSource) Describe() string {
	return describe(b.next)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

// backoff is exponential with full jitter, clamped to [MinWait, MaxWait].
func (b *BreakerSource) backoff(attempt int) time.Duration {
	base := float64(b.retry.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(b.retry.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(b.retry.MinWait)
	if base <= minWait {
		return b.retry.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
