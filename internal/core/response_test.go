package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"darkspot/internal/types"
)

func requestWithID(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	return req.WithContext(types.WithRequestID(req.Context(), "req-xyz"))
}

func TestJSON_WritesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithID(http.MethodGet, ""), http.StatusCreated, APIResponse{Data: map[string]int{"n": 1}})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != `{"data":{"n":1}}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithID(http.MethodGet, ""), http.StatusOK, math.NaN())

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.RequestID != "req-xyz" {
		t.Errorf("request_id = %q", resp.Error.RequestID)
	}
}

func TestError_AppError(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationInvalidLat, http.StatusBadRequest},
		{types.ErrCodeNotFoundDarkSpots, http.StatusNotFound},
		{types.ErrCodeRateLimit, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamStorage, http.StatusBadGateway},
		{types.ErrCodeUnavailable, http.StatusServiceUnavailable},
		{types.ErrCodeInternalRasterRead, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			inner := errors.New("s3: connection reset")
			err := fmt.Errorf("wrapped: %w", types.NewAppErrorWithDetails(tt.code, "public message", inner, map[string]any{"k": "v"}))

			rec := httptest.NewRecorder()
			Error(rec, requestWithID(http.MethodGet, ""), err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if strings.Contains(rec.Body.String(), "connection reset") {
				t.Error("wrapped cause leaked to client")
			}
			var resp APIErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error.Code != string(tt.code) || resp.Error.Message != "public message" {
				t.Errorf("error = %+v", resp.Error)
			}
			if resp.Error.Details["k"] != "v" {
				t.Errorf("details = %v", resp.Error.Details)
			}
			if resp.Error.RequestID != "req-xyz" {
				t.Errorf("request_id = %q", resp.Error.RequestID)
			}
		})
	}
}

func TestError_GenericError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, requestWithID(http.MethodGet, ""), errors.New("database password is hunter2"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Error("generic error message leaked")
	}
	if !strings.Contains(rec.Body.String(), string(types.ErrCodeInternalUnexpected)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"lat": 45.5, "lon": -122.6}`},
		{name: "empty", body: ``, wantErr: "must not be empty"},
		{name: "syntax", body: `{"lat": }`, wantErr: "malformed JSON"},
		{name: "truncated", body: `{"lat": 4`, wantErr: "malformed JSON"},
		{name: "wrong type", body: `{"lat": "north"}`, wantErr: "invalid value for field"},
		{name: "unknown field", body: `{"lat": 1, "elevation": 3}`, wantErr: `unknown field in request body: "elevation"`},
		{name: "two values", body: `{"lat": 1} {"lat": 2}`, wantErr: "single JSON object"},
		{name: "too large", body: `{"lat": 1, "lon": "` + strings.Repeat("a", maxRequestBodySize) + `"}`, wantErr: "must not exceed 1MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			var dst payload
			err := DecodeJSON(rec, requestWithID(http.MethodPost, tt.body), &dst)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.Lat == nil || *dst.Lat != 45.5 {
					t.Errorf("lat = %v", dst.Lat)
				}
				return
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error %v is not an AppError", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidJSON {
				t.Errorf("code = %q", appErr.Code)
			}
			if !strings.Contains(appErr.Message, tt.wantErr) {
				t.Errorf("message = %q, want substring %q", appErr.Message, tt.wantErr)
			}
		})
	}
}
