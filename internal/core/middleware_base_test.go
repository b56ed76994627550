package core

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"darkspot/internal/types"
)

func TestResponseCapture_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rc := &responseCapture{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rc.Write([]byte("ok"))
	rc.WriteHeader(http.StatusTeapot)

	if rc.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want first implicit 200", rc.statusCode)
	}
	if rc.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
}

func TestRecoverer_WritesJSON500(t *testing.T) {
	srv := &Server{Logger: discardLogger()}
	h := srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(`bad "value"`)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `{"error":{"code":"internal_unexpected_error","message":"an unexpected error occurred","request_id":"req-1"}}`
	if rec.Body.String() != want {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRecoverer_RepanicsOnAbort(t *testing.T) {
	srv := &Server{Logger: discardLogger()}
	h := srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rv := recover(); rv != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rv)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestEscapeJSON(t *testing.T) {
	got := escapeJSON("a\"b\\c\nd\te\r")
	want := `a\"b\\c\nd\te\r`
	if got != want {
		t.Errorf("escapeJSON() = %q, want %q", got, want)
	}
}

func TestRequestLogger_RedactsHeadersAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestLogger(logger, []string{"authorization"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/raster", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("User-Agent", "probe")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "secret-token") {
		t.Error("authorization header leaked into logs")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected redacted marker")
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=404") {
		t.Errorf("expected WARN with status 404, got %s", out)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := &Server{}
	rec := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		preflight  bool
		wantOrigin string
		wantStatus int
		wantVary   bool
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://a.example", method: http.MethodPost, wantOrigin: "*", wantStatus: 200},
		{name: "listed origin", allowed: []string{"https://a.example"}, origin: "https://a.example", method: http.MethodGet, wantOrigin: "https://a.example", wantStatus: 200, wantVary: true},
		{name: "unlisted origin", allowed: []string{"https://a.example"}, origin: "https://b.example", method: http.MethodGet, wantStatus: 200},
		{name: "preflight", allowed: []string{"*"}, origin: "https://a.example", method: http.MethodOptions, preflight: true, wantOrigin: "*", wantStatus: 204},
		{name: "plain options reaches router", allowed: []string{"*"}, method: http.MethodOptions, wantOrigin: "*", wantStatus: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			NewCORSMiddleware(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Vary") == "Origin"; got != tt.wantVary {
				t.Errorf("Vary: Origin = %v, want %v", got, tt.wantVary)
			}
		})
	}
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := ContextTimeoutMiddleware(time.Second)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("expected a deadline on the request context")
	}
	if time.Until(deadline) > time.Second {
		t.Errorf("deadline too far in the future: %v", deadline)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var gotID, gotIP string
	var gotLogger *slog.Logger
	fallback := discardLogger()
	h := RequestIDMiddleware(discardLogger(), false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = types.GetRequestID(r.Context())
		gotIP = types.GetClientIP(r.Context())
		gotLogger = types.LoggerFromContext(r.Context(), fallback)
	}))

	t.Run("generates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if len(gotID) != 36 {
			t.Errorf("generated id %q is not a UUID", gotID)
		}
		if rec.Header().Get("X-Request-Id") != gotID {
			t.Error("response header should echo the request id")
		}
		if gotIP != "198.51.100.4" {
			t.Errorf("client ip = %q", gotIP)
		}
		if gotLogger == fallback {
			t.Error("expected a request-scoped logger in context")
		}
	})

	t.Run("propagates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if gotID != "abc-123" {
			t.Errorf("request id = %q, want propagated value", gotID)
		}
	})

	t.Run("rejects oversized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", strings.Repeat("x", 200))
		h.ServeHTTP(httptest.NewRecorder(), req)
		if len(gotID) != 36 {
			t.Errorf("oversized id should be replaced, got %d chars", len(gotID))
		}
	})
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", "", false, "192.0.2.1"},
		{"xff ignored when untrusted", "192.0.2.1:1234", "203.0.113.9", false, "192.0.2.1"},
		{"xff first hop when trusted", "10.0.0.1:1234", "203.0.113.9, 10.0.0.2", true, "203.0.113.9"},
		{"garbage xff falls back", "10.0.0.1:1234", "not-an-ip", true, "10.0.0.1"},
		{"remote addr without port", "192.0.2.1", "", false, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(req, tt.trust); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	srv := &Server{}
	called := false
	srv.MetricsMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("next handler was not called")
	}
}

func TestMetricsMiddleware_UnmatchedRoute(t *testing.T) {
	m := &mockMetricsCollector{}
	srv := &Server{Metrics: m}
	srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(context.Background()))

	if len(m.calls) != 1 || m.calls[0].endpoint != "unmatched" || m.calls[0].status != "404" {
		t.Errorf("calls = %+v", m.calls)
	}
}
