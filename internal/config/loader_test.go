package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// testSecretProvider is a configurable mock for testing SSM resolution.
type testSecretProvider struct {
	values     map[string]string
	err        error
	calledWith []string
	callCount  int
}

func (p *testSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	p.callCount++
	p.calledWith = append(p.calledWith, keys...)
	if p.err != nil {
		return nil, p.err
	}
	result := make(map[string]string)
	for _, k := range keys {
		if v, ok := p.values[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

// testDeps uses the real environment but routes writes through t.Setenv so
// resolved secrets are cleaned up, and skips .env loading.
func testDeps(t *testing.T) loaderDeps {
	t.Helper()
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv: func(k, v string) error {
			t.Setenv(k, v)
			return nil
		},
		environ: os.Environ,
	}
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("RASTER_URI", "/data/radiance.zarr")
}

func requireConfigError(t *testing.T, err error, want ConfigErrorType) *ConfigError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Type != want {
		t.Fatalf("error type = %s, want %s (%v)", cfgErr.Type, want, err)
	}
	return cfgErr
}

func TestLoadConfig_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("Server.Port = %q, want 8000", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 29*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 29s", cfg.Server.RequestTimeout)
	}
	if cfg.Search.DefaultRadiusKM != 200 {
		t.Errorf("Search.DefaultRadiusKM = %v, want 200", cfg.Search.DefaultRadiusKM)
	}
	if cfg.Search.DefaultCount != 5 {
		t.Errorf("Search.DefaultCount = %d, want 5", cfg.Search.DefaultCount)
	}
	if cfg.Raster.CacheBytes != 256<<20 {
		t.Errorf("Raster.CacheBytes = %d, want %d", cfg.Raster.CacheBytes, 256<<20)
	}
	if cfg.Raster.FetchTimeout != 20*time.Second {
		t.Errorf("Raster.FetchTimeout = %v, want 20s", cfg.Raster.FetchTimeout)
	}
	if len(cfg.Security.CorsAllowedOrigins) != 1 || cfg.Security.CorsAllowedOrigins[0] != "*" {
		t.Errorf("CorsAllowedOrigins = %v, want [*]", cfg.Security.CorsAllowedOrigins)
	}
	if cfg.Observability.MetricsBackend != "prometheus" {
		t.Errorf("MetricsBackend = %q, want prometheus", cfg.Observability.MetricsBackend)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want dev", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Error("LoadConfig should force UTC")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SEARCH_MAX_COUNT", "10")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("METRICS_BACKEND", "cloudwatch")

	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Search.MaxCount != 10 {
		t.Errorf("Search.MaxCount = %d, want 10", cfg.Search.MaxCount)
	}
	if len(cfg.Security.CorsAllowedOrigins) != 2 {
		t.Errorf("CorsAllowedOrigins = %v, want 2 entries", cfg.Security.CorsAllowedOrigins)
	}
	if cfg.Security.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.Security.RateLimitRPS)
	}
	if cfg.Observability.MetricsBackend != "cloudwatch" {
		t.Errorf("MetricsBackend = %q", cfg.Observability.MetricsBackend)
	}
}

func TestLoadConfig_MissingRasterURI(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("RASTER_URI", "")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	cfgErr := requireConfigError(t, err, ErrValidation)
	if !strings.Contains(cfgErr.Error(), "URI") {
		t.Errorf("error should mention the raster URI, got: %v", cfgErr)
	}
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"unknown environment", "APP_ENV", "qa"},
		{"unknown metrics backend", "METRICS_BACKEND", "statsd"},
		{"max count below default", "SEARCH_MAX_COUNT", "2"},
		{"max radius below default", "SEARCH_MAX_RADIUS_KM", "50"},
		{"non-numeric port", "PORT", "http"},
		{"unsupported raster scheme", "RASTER_URI", "gs://bucket/radiance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := loadConfigWithDeps(nil, testDeps(t))
			requireConfigError(t, err, ErrValidation)
		})
	}
}

func TestLoadConfig_ParsingFailure(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("RASTER_CACHE_BYTES", "lots")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	requireConfigError(t, err, ErrParsing)
}

func TestLoadConfig_MinioRequiresCredentials(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("RASTER_URI", "minio://rasters/viirs")
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("MINIO_ACCESS_KEY", "")
	t.Setenv("MINIO_SECRET_KEY", "")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	cfgErr := requireConfigError(t, err, ErrMissingEnv)
	for _, name := range []string{"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY"} {
		if !strings.Contains(cfgErr.Message, name) {
			t.Errorf("message should list %s, got %q", name, cfgErr.Message)
		}
	}

	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	t.Setenv("MINIO_SECRET_KEY", "minioadmin")
	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}
	if cfg.Minio.SecretKey.Unmask() != "minioadmin" {
		t.Error("secret key not loaded")
	}
}

func TestLoadConfig_ResolvesSSMOutsideLocal(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("RASTER_URI", "minio://rasters/viirs")
	t.Setenv("MINIO_ENDPOINT", "minio.internal:9000")
	t.Setenv("MINIO_ACCESS_KEY", "reader")
	unsetEnv(t, "MINIO_SECRET_KEY")
	t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/prod/darkspot/minio/secret")

	provider := &testSecretProvider{values: map[string]string{
		"/prod/darkspot/minio/secret": "from-ssm",
	}}
	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}
	if provider.callCount != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount)
	}
	if cfg.Minio.SecretKey.Unmask() != "from-ssm" {
		t.Errorf("MINIO_SECRET_KEY = %q, want from-ssm", cfg.Minio.SecretKey.Unmask())
	}
}

func TestLoadConfig_EnvironmentBeatsSSM(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "dev")
	t.Setenv("MINIO_SECRET_KEY", "from-env")
	t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/dev/darkspot/minio/secret")

	provider := &testSecretProvider{values: map[string]string{"/dev/darkspot/minio/secret": "from-ssm"}}
	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}
	if provider.callCount != 0 {
		t.Errorf("provider should not be called when the target is set, got %d calls", provider.callCount)
	}
	if cfg.Minio.SecretKey.Unmask() != "from-env" {
		t.Errorf("secret = %q, want from-env", cfg.Minio.SecretKey.Unmask())
	}
}

func TestLoadConfig_LocalSkipsSSM(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/local/ignored")

	provider := &testSecretProvider{}
	if _, err := loadConfigWithDeps(provider, testDeps(t)); err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}
	if provider.callCount != 0 {
		t.Errorf("provider called %d times in local env", provider.callCount)
	}
}

func TestResolveSSMParams_Errors(t *testing.T) {
	t.Run("nil provider", func(t *testing.T) {
		unsetEnv(t, "MINIO_SECRET_KEY")
		t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/prod/x")
		err := resolveSSMParams(nil, testDeps(t))
		cfgErr := requireConfigError(t, err, ErrSSMResolution)
		if !strings.Contains(cfgErr.Message, "MINIO_SECRET_KEY") {
			t.Errorf("message should name the target variable: %q", cfgErr.Message)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		unsetEnv(t, "MINIO_SECRET_KEY")
		t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/prod/x")
		err := resolveSSMParams(&testSecretProvider{err: errors.New("denied")}, testDeps(t))
		requireConfigError(t, err, ErrSSMResolution)
	})

	t.Run("parameter not returned", func(t *testing.T) {
		unsetEnv(t, "MINIO_SECRET_KEY")
		t.Setenv("MINIO_SECRET_KEY_SSM_PARAM", "/prod/x")
		err := resolveSSMParams(&testSecretProvider{values: map[string]string{}}, testDeps(t))
		cfgErr := requireConfigError(t, err, ErrSSMResolution)
		if !strings.Contains(cfgErr.Message, "not found") {
			t.Errorf("unexpected message: %q", cfgErr.Message)
		}
	})
}

func TestConfig_ConnectConfig(t *testing.T) {
	cfg := &Config{
		AWS:   AWSConfig{Region: "eu-central-1", EndpointURL: "http://localstack:4566"},
		Minio: MinioConfig{Endpoint: "minio:9000", AccessKey: "ak", SecretKey: SecretString("sk"), UseSSL: false},
		Raster: RasterConfig{
			BreakerFailures:    3,
			BreakerOpenTimeout: 10 * time.Second,
			RetryAttempts:      4,
		},
	}
	cc := cfg.ConnectConfig(slog.Default())

	if cc.AWSRegion != "eu-central-1" || cc.AWSEndpoint != "http://localstack:4566" {
		t.Errorf("AWS settings not mapped: %+v", cc)
	}
	if cc.Minio.Endpoint != "minio:9000" || cc.Minio.SecretKey.Unmask() != "sk" {
		t.Errorf("MinIO settings not mapped: %+v", cc.Minio)
	}
	if cc.Breaker.ConsecutiveFailures != 3 || cc.Breaker.OpenTimeout != 10*time.Second {
		t.Errorf("breaker settings not mapped: %+v", cc.Breaker)
	}
	if cc.Retry.MaxRetries != 4 {
		t.Errorf("Retry.MaxRetries = %d, want 4", cc.Retry.MaxRetries)
	}
}

func TestConfig_StoreOptions(t *testing.T) {
	cfg := &Config{Raster: RasterConfig{
		CacheBytes:         1 << 20,
		MaxConcurrentReads: 3,
		FetchConcurrency:   2,
		FetchTimeout:       5 * time.Second,
	}}
	opts := cfg.StoreOptions(slog.Default())

	if opts.CacheBytes != 1<<20 || opts.MaxConcurrentReads != 3 || opts.FetchConcurrency != 2 {
		t.Errorf("store limits not mapped: %+v", opts)
	}
	if opts.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v, want 5s", opts.FetchTimeout)
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
