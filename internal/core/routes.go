package core

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"darkspot/internal/types"
)

// defaultRequestTimeout applies when the config leaves REQUEST_TIMEOUT unset.
// API Gateway cuts requests at 30s.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
}

// MountRoutes registers the global middleware chain, the /v1 group, the
// root-level routes and the JSON 404/405 handlers.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.NotFound(s.handleNotFound)
	s.router.MethodNotAllowed(s.handleMethodNotAllowed)

	s.router.Route("/v1", s.mountV1)
	for _, registrar := range s.RootRouteRegistrars {
		registrar(s.router)
	}

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering Rationale:
//  1. Recoverer       - Catches panics; outermost to catch all failures.
//  2. ContextTimeout  - Sets soft deadline before the gateway hard timeout.
//  3. RequestID       - Correlation ID, client IP and request logger.
//  4. SecurityHeaders - Present on every response including errors.
//  5. RequestLogger   - Structured logging (redacted headers).
//  6. CORS            - Answers preflights before they are counted.
//  7. Metrics         - Request latency and count by route pattern.
//  8. RateLimit       - Per client IP token buckets.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware(s.Logger, s.trustProxyHeaders()))
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(s.RateLimit)
}

// mountV1 registers the /v1 endpoints. Handler routes come from
// V1RouteRegistrars, populated by main to avoid an import cycle.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "no route for "+r.Method+" "+r.URL.Path, nil))
}

// errCodeMethodNotAllowed is only written by the 405 handler, which sets the
// status itself.
const errCodeMethodNotAllowed = "method_not_allowed"

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	requestID := types.GetRequestID(r.Context())
	JSON(w, r, http.StatusMethodNotAllowed, APIErrorResponse{
		Error: ErrorDetail{
			Code:      errCodeMethodNotAllowed,
			Message:   "method " + r.Method + " is not allowed on " + r.URL.Path,
			RequestID: requestID,
		},
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) trustProxyHeaders() bool {
	return s.Config != nil && s.Config.Security.TrustProxyHeaders
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
// Handlers observe it through ctx; the response on expiry is theirs to write.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates a UUID,
// and stores it, the client IP and a logger carrying both in the context.
func RequestIDMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}
			ip := extractClientIP(r, trustProxy)

			ctx := types.WithRequestID(r.Context(), requestID)
			ctx = types.WithClientIP(ctx, ip)
			ctx = types.WithLogger(ctx, logger.With("request_id", requestID))

			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractClientIP returns the first X-Forwarded-For hop when trustProxy is
// set, otherwise the host part of RemoteAddr.
func extractClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
