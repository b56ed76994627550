package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"darkspot/internal/types"
)

// Default request limits, used until SetLimits is called.
const (
	defaultMaxRadiusKM = 1000.0
	defaultMaxCount    = 50
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether there are no blocking errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the search-specific tags:
//
//	finite       float is neither NaN nor infinite
//	whole_number float has no fractional part
//	radius_km    0 < radius <= configured maximum
//	spot_count   1 <= count <= configured maximum
//
// Field names in errors come from json tags.
type Validator struct {
	validate    *validator.Validate
	logger      *slog.Logger
	maxRadiusKM float64
	maxCount    int
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		maxRadiusKM: defaultMaxRadiusKM,
		maxCount:    defaultMaxCount,
	}
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v.validate, "finite", validateFinite)
	mustRegister(v.validate, "whole_number", validateWholeNumber)
	mustRegister(v.validate, "radius_km", v.validateRadius)
	mustRegister(v.validate, "spot_count", v.validateCount)
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("core: register validation %q: %v", tag, err))
	}
}

// SetLimits sets the upper bounds enforced by radius_km and spot_count.
// Non-positive values keep the current bound.
func (v *Validator) SetLimits(maxRadiusKM float64, maxCount int) {
	if maxRadiusKM > 0 {
		v.maxRadiusKM = maxRadiusKM
	}
	if maxCount > 0 {
		v.maxCount = maxCount
	}
}

// ValidateStruct validates s and returns an AppError whose code comes from
// the first failure and whose details list every failure under
// "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

// ValidateStructWithWarnings validates s and returns every failure.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validation failed unexpectedly", "error", err)
		return ValidationResult{Errors: []ValidationError{{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: "request could not be validated",
		}}}
	}

	result := ValidationResult{Errors: make([]ValidationError, 0, len(verrs))}
	for _, fe := range verrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag(), fe.Field()),
			Message: v.message(fe),
		})
	}
	return result
}

// tagToErrorCode maps a failed tag, and for generic tags the field name, to
// an error code.
func tagToErrorCode(tag, field string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "latitude":
		return string(types.ErrCodeValidationInvalidLat)
	case "longitude":
		return string(types.ErrCodeValidationInvalidLon)
	case "radius_km":
		return string(types.ErrCodeValidationInvalidRadius)
	case "spot_count":
		return string(types.ErrCodeValidationInvalidCount)
	}
	switch field {
	case "lat":
		return string(types.ErrCodeValidationInvalidLat)
	case "lon":
		return string(types.ErrCodeValidationInvalidLon)
	case "radius":
		return string(types.ErrCodeValidationInvalidRadius)
	case "count":
		return string(types.ErrCodeValidationInvalidCount)
	}
	return string(types.ErrCodeValidationInvalidField)
}

func (v *Validator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "latitude":
		return fmt.Sprintf("%s must be a latitude between -90 and 90", fe.Field())
	case "longitude":
		return fmt.Sprintf("%s must be a longitude between -180 and 180", fe.Field())
	case "finite":
		return fmt.Sprintf("%s must be a finite number", fe.Field())
	case "whole_number":
		return fmt.Sprintf("%s must be a whole number", fe.Field())
	case "radius_km":
		return fmt.Sprintf("%s must be greater than 0 and at most %g km", fe.Field(), v.maxRadiusKM)
	case "spot_count":
		return fmt.Sprintf("%s must be between 1 and %d", fe.Field(), v.maxCount)
	case "max":
		return fmt.Sprintf("%s must contain at most %s items", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s items", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func validateFinite(fl validator.FieldLevel) bool {
	f, ok := floatValue(fl.Field())
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validateWholeNumber(fl validator.FieldLevel) bool {
	f, ok := floatValue(fl.Field())
	return ok && f == math.Trunc(f)
}

func (v *Validator) validateRadius(fl validator.FieldLevel) bool {
	f, ok := floatValue(fl.Field())
	return ok && f > 0 && f <= v.maxRadiusKM
}

func (v *Validator) validateCount(fl validator.FieldLevel) bool {
	f, ok := floatValue(fl.Field())
	return ok && f >= 1 && f <= float64(v.maxCount) && f == math.Trunc(f)
}

func floatValue(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}
