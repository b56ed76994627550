package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"darkspot/internal/raster"
)

// ValidationResult is the pass/fail outcome of a check with a message for
// the operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is the interface used by validators that make outbound calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Validator holds the dependencies of the input checks.
type Validator struct {
	httpClient HTTPClient
	logger     *slog.Logger
	// minioScheme is the scheme used for the MinIO liveness probe.
	minioScheme string
}

// NewValidator creates a Validator with a 10-second HTTP client.
func NewValidator(logger *slog.Logger) *Validator {
	return NewValidatorWithDeps(&http.Client{Timeout: 10 * time.Second}, logger)
}

// NewValidatorWithDeps creates a Validator with an injected HTTP client.
func NewValidatorWithDeps(httpClient HTTPClient, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{httpClient: httpClient, logger: logger, minioScheme: "https"}
}

// validateTimeout bounds each active probe, including DNS and TLS.
const validateTimeout = 15 * time.Second

// ValidateRasterURI checks that input parses as a raster location. Local
// stores are opened to confirm the metadata is readable; object store
// contents are checked by the API at startup, with its own credentials.
func (v *Validator) ValidateRasterURI(ctx context.Context, input string) ValidationResult {
	loc, err := raster.ParseLocation(strings.TrimSpace(input))
	if err != nil {
		return ValidationResult{Valid: false, Message: err.Error()}
	}
	if loc.Scheme != raster.SchemeFile {
		return ValidationResult{Valid: true, Message: fmt.Sprintf("%s location format validated", loc.Scheme)}
	}

	openCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	store, err := raster.Open(openCtx, raster.NewFileSource(loc.Prefix), raster.Options{Logger: v.logger})
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("cannot open raster at %s: %v", loc.Prefix, err)}
	}
	info := store.Info()
	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("raster opened: %dx%d, %g deg pixels, %s", info.Height, info.Width, info.Resolution, info.Codec),
	}
}

// hostnameRegex matches DNS names and IPv4 literals.
var hostnameRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

// ValidateMinioEndpoint checks the host[:port] format and probes the
// MinIO liveness endpoint /minio/health/live.
func (v *Validator) ValidateMinioEndpoint(ctx context.Context, input string) ValidationResult {
	endpoint := strings.TrimSpace(input)
	if endpoint == "" {
		return ValidationResult{Valid: false, Message: "MinIO endpoint must not be empty"}
	}
	if strings.Contains(endpoint, "://") {
		return ValidationResult{Valid: false, Message: "MinIO endpoint must not include a scheme (use host[:port])"}
	}

	host := endpoint
	if strings.Contains(endpoint, ":") {
		h, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid host:port %q: %v", endpoint, err)}
		}
		if port == "" {
			return ValidationResult{Valid: false, Message: "port must not be empty"}
		}
		host = h
	}
	if !hostnameRegex.MatchString(host) {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid host %q", host)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	probeURL := (&url.URL{Scheme: v.minioScheme, Host: endpoint, Path: "/minio/health/live"}).String()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("User-Agent", "DarkSpot-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("MinIO liveness probe failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("MinIO liveness probe returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("MinIO endpoint %s is live", endpoint)}
}

// ValidateCORSOrigins accepts "*" or a comma-separated list of http(s)
// origins without paths.
func (v *Validator) ValidateCORSOrigins(_ context.Context, input string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Valid: false, Message: "at least one origin is required"}
	}

	origins := strings.Split(input, ",")
	for _, raw := range origins {
		o := strings.TrimSpace(raw)
		if o == "*" {
			if len(origins) > 1 {
				return ValidationResult{Valid: false, Message: "* cannot be combined with other origins"}
			}
			continue
		}
		u, err := url.Parse(o)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ValidationResult{Valid: false, Message: fmt.Sprintf("%q is not an http(s) origin", o)}
		}
		if (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
			return ValidationResult{Valid: false, Message: fmt.Sprintf("origin %q must not have a path or query", o)}
		}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%d origin(s) accepted", len(origins))}
}

// ValidateRegex checks input against pattern, for values that cannot be
// actively probed.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s does not match expected format (pattern: %s)", fieldName, pattern),
		}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format validated", fieldName)}
}

// truncateBody returns at most n bytes of body, marking truncation.
func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
