package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"darkspot/internal/raster"
)

// ConfigError is returned by LoadConfig with a category to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: MINIO_SECRET_KEY_SSM_PARAM holds
// the SSM path whose value becomes MINIO_SECRET_KEY.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout caps the whole secret resolution step.
const ssmTimeout = 30 * time.Second

// loaderDeps holds the process-environment hooks so tests need not mutate
// global state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the process configuration:
//
//  1. forces the process timezone to UTC;
//  2. loads .env if present (never overriding the real environment);
//  3. outside APP_ENV=local, resolves *_SSM_PARAM pointers through provider;
//  4. populates Config from envconfig tags and attaches build metadata;
//  5. runs struct validation, then checks that the raster URI parses and
//     that MinIO credentials are present when the URI needs them.
//
// provider may be nil for local runs or when no pointers are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	if deps.dotenv != nil {
		_ = deps.dotenv()
	}

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateRaster(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validateRaster() error {
	loc, err := raster.ParseLocation(c.Raster.URI)
	if err != nil {
		return &ConfigError{Type: ErrValidation, Message: "RASTER_URI is invalid", Err: err}
	}
	if loc.Scheme != raster.SchemeMinio {
		return nil
	}
	var missing []string
	if c.Minio.Endpoint == "" {
		missing = append(missing, "MINIO_ENDPOINT")
	}
	if c.Minio.AccessKey == "" {
		missing = append(missing, "MINIO_ACCESS_KEY")
	}
	if !c.Minio.SecretKey.IsSet() {
		missing = append(missing, "MINIO_SECRET_KEY")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("minio raster location requires %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// RasterLocation parses Raster.URI. LoadConfig has already validated it.
func (c *Config) RasterLocation() (raster.Location, error) {
	return raster.ParseLocation(c.Raster.URI)
}

// ConnectConfig maps the AWS, MinIO and breaker settings onto the raster
// package's connection options.
func (c *Config) ConnectConfig(logger *slog.Logger) raster.ConnectConfig {
	retry := raster.DefaultRetryPolicy()
	retry.MaxRetries = c.Raster.RetryAttempts
	return raster.ConnectConfig{
		AWSRegion:   c.AWS.Region,
		AWSEndpoint: c.AWS.EndpointURL,
		Minio: raster.MinioConfig{
			Endpoint:  c.Minio.Endpoint,
			AccessKey: c.Minio.AccessKey,
			SecretKey: c.Minio.SecretKey,
			UseSSL:    c.Minio.UseSSL,
			Region:    c.Minio.Region,
		},
		Breaker: raster.BreakerSettings{
			ConsecutiveFailures: c.Raster.BreakerFailures,
			OpenTimeout:         c.Raster.BreakerOpenTimeout,
		},
		Retry:  retry,
		Logger: logger,
	}
}

// StoreOptions maps the cache and concurrency settings onto raster.Options.
func (c *Config) StoreOptions(logger *slog.Logger) raster.Options {
	return raster.Options{
		CacheBytes:         c.Raster.CacheBytes,
		MaxConcurrentReads: c.Raster.MaxConcurrentReads,
		FetchConcurrency:   c.Raster.FetchConcurrency,
		FetchTimeout:       c.Raster.FetchTimeout,
		Logger:             logger,
	}
}

// SlogLevel converts LogLevel to a slog.Level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// resolveSSMParams resolves every *_SSM_PARAM pointer whose target variable
// is not already set and exports the values. A variable that is already set
// wins over SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	targets := make(map[string]string) // ssm path -> target variable
	var order []string

	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		if _, dup := targets[path]; !dup {
			order = append(order, path)
		}
		targets[path] = target
	}
	if len(order) == 0 {
		return nil
	}

	if provider == nil {
		names := make([]string, 0, len(order))
		for _, p := range order {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(names, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, order)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(order)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range order {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, targets[path])
			continue
		}
		if err := deps.setEnv(targets[path], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targets[path]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
