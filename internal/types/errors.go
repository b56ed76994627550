package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services MUST use these instead of
// hardcoded strings; the prefix determines the HTTP status.
const (
	// Validation (400)
	ErrCodeValidationInvalidLat      ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon      ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationInvalidRadius   ErrorCode = "validation_invalid_radius"
	ErrCodeValidationInvalidCount    ErrorCode = "validation_invalid_count"
	ErrCodeValidationRadiusTooLarge  ErrorCode = "validation_radius_too_large"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField    ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidQueryArg ErrorCode = "validation_invalid_query_parameter"

	// Rate limiting (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundDarkSpots       ErrorCode = "not_found_dark_spots"
	ErrCodeNotFoundOutsideCoverage ErrorCode = "not_found_outside_coverage"
	ErrCodeNotFoundRoute           ErrorCode = "not_found_route"

	// Internal/Upstream (500/502/503)
	ErrCodeInternalRasterRead    ErrorCode = "internal_raster_read_error"
	ErrCodeInternalRasterCorrupt ErrorCode = "internal_raster_corrupt"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStorage       ErrorCode = "upstream_storage_unavailable"
	ErrCodeUnavailable           ErrorCode = "service_unavailable"

	// Request lifecycle (499, 504). The caller gave up or ran out of time;
	// neither says anything about the raster.
	ErrCodeRequestCanceled ErrorCode = "request_canceled"
	ErrCodeRequestTimeout  ErrorCode = "request_timeout"
)

// StatusClientClosedRequest is the non-standard status recorded when the
// client disconnected before a response was written.
const StatusClientClosedRequest = 499

// MessageNoDarkSpots is the client-facing text for an empty search result.
// The legacy frontend displays it verbatim.
const MessageNoDarkSpots = "Could not find any dark spots nearby. You might be out of the map coverage."

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeRequestCanceled):
		return StatusClientClosedRequest // 499
	case s == string(ErrCodeRequestTimeout):
		return http.StatusGatewayTimeout // 504
	case s == string(ErrCodeUnavailable):
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type. Domain and handler errors
// are expressed as AppError so that formatting, status mapping and error
// chains stay consistent.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf returns the ErrorCode of the first AppError in err's chain, or
// ErrCodeInternalUnexpected when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsContextError reports whether err stems from a cancelled or expired
// context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// FromContextError converts a context error into a request lifecycle
// AppError. It returns nil when err is not a context error.
func FromContextError(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(ErrCodeRequestTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrCodeRequestCanceled, "request was cancelled", err)
	default:
		return nil
	}
}
