package core

import (
	"errors"
	"math"
	"testing"

	"darkspot/internal/types"
)

type searchPayload struct {
	Lat      *float64 `json:"lat" validate:"required,finite,latitude"`
	Lon      *float64 `json:"lon" validate:"required,finite,longitude"`
	RadiusKM *float64 `json:"radius,omitempty" validate:"omitempty,finite,radius_km"`
	Count    *int     `json:"count,omitempty" validate:"omitempty,spot_count"`
}

type batchPayload struct {
	Queries []searchPayload `json:"queries" validate:"required,min=1,max=3,dive"`
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(discardLogger())
	v.SetLimits(500, 10)

	tests := []struct {
		name     string
		in       searchPayload
		wantCode types.ErrorCode
		field    string
	}{
		{name: "valid minimal", in: searchPayload{Lat: f64(45), Lon: f64(-120)}},
		{name: "valid full", in: searchPayload{Lat: f64(-90), Lon: f64(180), RadiusKM: f64(500), Count: intp(10)}},
		{name: "missing lat", in: searchPayload{Lon: f64(0)}, wantCode: types.ErrCodeValidationMissingField, field: "lat"},
		{name: "lat out of range", in: searchPayload{Lat: f64(91), Lon: f64(0)}, wantCode: types.ErrCodeValidationInvalidLat, field: "lat"},
		{name: "lat NaN", in: searchPayload{Lat: f64(math.NaN()), Lon: f64(0)}, wantCode: types.ErrCodeValidationInvalidLat, field: "lat"},
		{name: "lon out of range", in: searchPayload{Lat: f64(0), Lon: f64(-180.5)}, wantCode: types.ErrCodeValidationInvalidLon, field: "lon"},
		{name: "lon infinite", in: searchPayload{Lat: f64(0), Lon: f64(math.Inf(1))}, wantCode: types.ErrCodeValidationInvalidLon, field: "lon"},
		{name: "radius above limit", in: searchPayload{Lat: f64(0), Lon: f64(0), RadiusKM: f64(501)}, wantCode: types.ErrCodeValidationInvalidRadius, field: "radius"},
		{name: "radius negative", in: searchPayload{Lat: f64(0), Lon: f64(0), RadiusKM: f64(-1)}, wantCode: types.ErrCodeValidationInvalidRadius, field: "radius"},
		{name: "count above limit", in: searchPayload{Lat: f64(0), Lon: f64(0), Count: intp(11)}, wantCode: types.ErrCodeValidationInvalidCount, field: "count"},
		{name: "count negative", in: searchPayload{Lat: f64(0), Lon: f64(0), Count: intp(-2)}, wantCode: types.ErrCodeValidationInvalidCount, field: "count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.in)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error %v is not an AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
			list, ok := appErr.Details["validation_errors"].([]ValidationError)
			if !ok || len(list) == 0 {
				t.Fatalf("details = %v", appErr.Details)
			}
			if list[0].Field != tt.field {
				t.Errorf("field = %q, want %q", list[0].Field, tt.field)
			}
		})
	}
}

func TestValidator_CollectsAllErrors(t *testing.T) {
	v := NewValidator(nil)
	result := v.ValidateStructWithWarnings(searchPayload{Lat: f64(100), Lon: f64(200), Count: intp(0)})

	if result.IsValid() {
		t.Fatal("expected invalid result")
	}
	// A non-nil pointer to zero is not omitted.
	if len(result.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %+v", len(result.Errors), result.Errors)
	}
}

func TestValidator_BatchDive(t *testing.T) {
	v := NewValidator(discardLogger())

	ok := batchPayload{Queries: []searchPayload{{Lat: f64(1), Lon: f64(2)}}}
	if err := v.ValidateStruct(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tooMany := batchPayload{Queries: make([]searchPayload, 4)}
	for i := range tooMany.Queries {
		tooMany.Queries[i] = searchPayload{Lat: f64(1), Lon: f64(2)}
	}
	var appErr *types.AppError
	if err := v.ValidateStruct(tooMany); !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationInvalidField {
		t.Errorf("too many queries error = %v", err)
	}

	bad := batchPayload{Queries: []searchPayload{{Lat: f64(1), Lon: f64(2)}, {Lat: f64(95), Lon: f64(2)}}}
	err := v.ValidateStruct(bad)
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationInvalidLat {
		t.Errorf("nested error = %v", err)
	}
}

func TestValidator_WholeNumber(t *testing.T) {
	type legacyPayload struct {
		Radius *float64 `json:"radius,omitempty" validate:"omitempty,finite,whole_number,radius_km"`
	}
	v := NewValidator(discardLogger())

	for _, ok := range []float64{1, 14, 200} {
		if err := v.ValidateStruct(legacyPayload{Radius: f64(ok)}); err != nil {
			t.Errorf("radius %v: unexpected error %v", ok, err)
		}
	}

	var appErr *types.AppError
	err := v.ValidateStruct(legacyPayload{Radius: f64(12.5)})
	if !errors.As(err, &appErr) {
		t.Fatalf("radius 12.5: error %v is not an AppError", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidRadius {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeValidationInvalidRadius)
	}
	if appErr.Message != "radius must be a whole number" {
		t.Errorf("message = %q", appErr.Message)
	}
}

func TestValidator_SetLimitsIgnoresNonPositive(t *testing.T) {
	v := NewValidator(nil)
	v.SetLimits(0, -1)
	if v.maxRadiusKM != defaultMaxRadiusKM || v.maxCount != defaultMaxCount {
		t.Errorf("limits = (%v, %d)", v.maxRadiusKM, v.maxCount)
	}
}

func TestTagToErrorCode(t *testing.T) {
	tests := []struct {
		tag, field string
		want       types.ErrorCode
	}{
		{"required", "queries", types.ErrCodeValidationMissingField},
		{"latitude", "lat", types.ErrCodeValidationInvalidLat},
		{"longitude", "lon", types.ErrCodeValidationInvalidLon},
		{"finite", "lat", types.ErrCodeValidationInvalidLat},
		{"finite", "radius", types.ErrCodeValidationInvalidRadius},
		{"whole_number", "radius", types.ErrCodeValidationInvalidRadius},
		{"finite", "queries", types.ErrCodeValidationInvalidField},
		{"max", "queries", types.ErrCodeValidationInvalidField},
	}
	for _, tt := range tests {
		if got := tagToErrorCode(tt.tag, tt.field); got != string(tt.want) {
			t.Errorf("tagToErrorCode(%q, %q) = %q, want %q", tt.tag, tt.field, got, tt.want)
		}
	}
}
