package core

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"darkspot/internal/types"
)

// defaultLimiterIdleTTL is how long an unused client bucket is kept.
const defaultLimiterIdleTTL = 10 * time.Minute

// MemoryRateLimiter keeps one token bucket per key in process memory. In
// Lambda mode each instance limits independently.
type MemoryRateLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateLimiter allows rps requests per second per key with the
// given burst.
func NewMemoryRateLimiter(rps float64, burst int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultLimiterIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token from key's bucket.
func (l *MemoryRateLimiter) Allow(key string) RateLimitResult {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := RateLimitResult{Limit: l.burst}
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return res
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res
	}
	res.Allowed = true
	res.Remaining = int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
	return res
}

// Len returns the number of tracked keys.
func (l *MemoryRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryRateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

// RateLimit enforces per client IP limits. It passes through when no
// RateLimiter is configured. X-RateLimit-Limit and X-RateLimit-Remaining are
// set on every checked request; denied requests also get Retry-After and a
// 429 body. /health is never limited.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimiter == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ip := types.GetClientIP(r.Context())
		if ip == "" {
			ip = extractClientIP(r, s.trustProxyHeaders())
		}

		result := s.RateLimiter.Allow(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("client_ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry later.",
					RequestID: types.GetRequestID(r.Context()),
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
