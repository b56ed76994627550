// Package config defines the process configuration of the dark-spot API.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"darkspot/internal/types"
)

// SecretString is an alias for types.SecretString so secrets stay redacted
// in logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"darkspot-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	Server        ServerConfig
	Raster        RasterConfig
	Search        SearchConfig
	AWS           AWSConfig
	Minio         MinioConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000" validate:"required,numeric"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s" validate:"gt=0"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"35s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	// Lambda switches cmd/api to the API Gateway v2 adapter. It is also
	// enabled automatically when AWS_LAMBDA_FUNCTION_NAME is set.
	Lambda bool `envconfig:"LAMBDA_MODE" default:"false"`
}

// RasterConfig locates the radiance store and tunes how it is read.
type RasterConfig struct {
	// URI is a local path, file:///path, s3://bucket/prefix or
	// minio://bucket/prefix.
	URI                string        `envconfig:"RASTER_URI" validate:"required"`
	CacheBytes         int64         `envconfig:"RASTER_CACHE_BYTES" default:"268435456" validate:"gte=0"`
	MaxConcurrentReads int64         `envconfig:"RASTER_MAX_CONCURRENT_READS" default:"16" validate:"gte=1"`
	FetchConcurrency   int           `envconfig:"RASTER_FETCH_CONCURRENCY" default:"8" validate:"gte=1"`
	FetchTimeout       time.Duration `envconfig:"RASTER_FETCH_TIMEOUT" default:"20s" validate:"gt=0"`
	BreakerFailures    uint32        `envconfig:"RASTER_BREAKER_FAILURES" default:"5" validate:"gte=1"`
	BreakerOpenTimeout time.Duration `envconfig:"RASTER_BREAKER_OPEN_TIMEOUT" default:"30s"`
	RetryAttempts      int           `envconfig:"RASTER_RETRY_ATTEMPTS" default:"2" validate:"gte=0,lte=10"`
}

// SearchConfig bounds the work a single request may ask for.
type SearchConfig struct {
	DefaultRadiusKM float64 `envconfig:"SEARCH_DEFAULT_RADIUS_KM" default:"200" validate:"gt=0"`
	MaxRadiusKM     float64 `envconfig:"SEARCH_MAX_RADIUS_KM" default:"1000" validate:"gtefield=DefaultRadiusKM"`
	DefaultCount    int     `envconfig:"SEARCH_DEFAULT_COUNT" default:"5" validate:"gte=1"`
	MaxCount        int     `envconfig:"SEARCH_MAX_COUNT" default:"50" validate:"gtefield=DefaultCount"`
	MaxWindowPixels int     `envconfig:"SEARCH_MAX_WINDOW_PIXELS" default:"25000000" validate:"gte=0"`
	MaxBatch        int     `envconfig:"SEARCH_MAX_BATCH" default:"25" validate:"gte=1"`
}

// AWSConfig holds regional configuration for S3, SSM and CloudWatch.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MinioConfig is only required when RASTER_URI uses the minio scheme.
type MinioConfig struct {
	Endpoint  string       `envconfig:"MINIO_ENDPOINT"`
	AccessKey string       `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey SecretString `envconfig:"MINIO_SECRET_KEY"`
	UseSSL    bool         `envconfig:"MINIO_USE_SSL" default:"true"`
	Region    string       `envconfig:"MINIO_REGION"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimitEnabled   bool     `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS       float64  `envconfig:"RATE_LIMIT_RPS" default:"5" validate:"gt=0"`
	RateLimitBurst     int      `envconfig:"RATE_LIMIT_BURST" default:"20" validate:"gte=1"`
	// TrustProxyHeaders makes the client IP come from X-Forwarded-For. Enable
	// only behind a proxy that overwrites the header.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string        `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string        `envconfig:"METRIC_NAMESPACE" default:"DarkSpot"`
	FlushInterval   time.Duration `envconfig:"METRICS_FLUSH_INTERVAL" default:"60s"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
