package core

import (
	"context"
	"time"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest is called once per request with the chi route pattern
	// (not the raw path) as endpoint, keeping label cardinality bounded.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RateLimiter decides whether a client may issue another request.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed bool
	// Limit is the burst size of the bucket.
	Limit int
	// Remaining is the number of whole tokens left after this request.
	Remaining int
	// RetryAfter is how long until a token is available when denied.
	RetryAfter time.Duration
}

// HealthProbe checks one dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}
