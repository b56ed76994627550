package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType indicates whether an SSM parameter is stored as a
// SecureString (encrypted) or a plain String.
type ParameterType int

const (
	ParamSecureString ParameterType = iota
	ParamString
)

// InputSource describes how the value for a bootstrap step is obtained.
type InputSource int

const (
	// SourcePrompt means the operator provides the value interactively.
	SourcePrompt InputSource = iota
	// SourceFixed means the value is a constant default.
	SourceFixed
)

// BootstrapStep defines a single parameter populated during bootstrap.
type BootstrapStep struct {
	// HumanLabel is the display name shown to the operator.
	HumanLabel string

	// SSMCategoryKey is the category/key portion of the SSM path, e.g.
	// "raster/uri" becomes "/{env}/darkspot/raster/uri".
	SSMCategoryKey string

	// EnvVar is the variable the API reads the value into. Its pointer
	// variable is EnvVar + "_SSM_PARAM".
	EnvVar string

	ParamType ParameterType
	Source    InputSource

	// FixedValue is used when Source is SourceFixed.
	FixedValue string

	// Prompt is the instructional text shown when Source is SourcePrompt.
	Prompt string

	// ValidateFn checks operator input. Nil accepts any non-empty value.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret masks the input during entry.
	IsSecret bool

	// Optional steps skip on empty input, and are auto-skipped when
	// SkipOptional is set on the runner.
	Optional bool

	// Phase groups steps for display.
	Phase string
}

// maxRetries is the number of validation failures tolerated per step.
const maxRetries = 5

// errSkipped is returned by promptAndValidate when the operator skips a
// parameter.
var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory returns the ordered list of parameters the API can resolve
// from SSM.
func BuildInventory(v *Validator) []BootstrapStep {
	return []BootstrapStep{
		{
			HumanLabel:     "Raster URI",
			SSMCategoryKey: "raster/uri",
			EnvVar:         "RASTER_URI",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt: `Location of the radiance Zarr store, one of:
     s3://bucket/prefix      (read with the Lambda role)
     minio://bucket/prefix   (requires the MinIO parameters below)
     /absolute/path          (container images with a baked-in raster)
   Paste the location here:`,
			ValidateFn: v.ValidateRasterURI,
			Phase:      "Raster Storage",
		},
		{
			HumanLabel:     "MinIO Endpoint (optional)",
			SSMCategoryKey: "minio/endpoint",
			EnvVar:         "MINIO_ENDPOINT",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt:         `MinIO host[:port] without scheme (or press Enter to skip):`,
			ValidateFn:     v.ValidateMinioEndpoint,
			Optional:       true,
			Phase:          "Raster Storage",
		},
		{
			HumanLabel:     "MinIO Access Key (optional)",
			SSMCategoryKey: "minio/access_key",
			EnvVar:         "MINIO_ACCESS_KEY",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt:         `MinIO access key (or press Enter to skip):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^[A-Za-z0-9+/=_.-]{3,128}$`, "MinIO Access Key")
			},
			Optional: true,
			Phase:    "Raster Storage",
		},
		{
			HumanLabel:     "MinIO Secret Key (optional)",
			SSMCategoryKey: "minio/secret_key",
			EnvVar:         "MINIO_SECRET_KEY",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt:         `MinIO secret key (or press Enter to skip):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^.{8,}$`, "MinIO Secret Key")
			},
			IsSecret: true,
			Optional: true,
			Phase:    "Raster Storage",
		},
		{
			HumanLabel:     "CORS Allowed Origins",
			SSMCategoryKey: "security/cors_allowed_origins",
			EnvVar:         "CORS_ALLOWED_ORIGINS",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt: `Comma-separated origins allowed to call the API from a browser,
   e.g. https://darkspot.example.org, or * for any origin:`,
			ValidateFn: v.ValidateCORSOrigins,
			Phase:      "API Settings",
		},
		{
			HumanLabel:     "Metrics Backend",
			SSMCategoryKey: "observability/metrics_backend",
			EnvVar:         "METRICS_BACKEND",
			ParamType:      ParamString,
			Source:         SourceFixed,
			FixedValue:     "cloudwatch",
			Phase:          "API Settings",
		},
	}
}

// BootstrapRunner orchestrates the bootstrap loop.
type BootstrapRunner struct {
	SSM       *SSMManager
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// SkipOptional auto-skips every Optional step. Set by --skip-minio.
	SkipOptional bool

	// scanner is shared so buffered input is not lost between prompts.
	scanner *bufio.Scanner

	// inventoryOverride lets tests inject steps. Nil uses BuildInventory.
	inventoryOverride []BootstrapStep
}

// NewBootstrapRunner creates a BootstrapRunner with production dependencies.
func NewBootstrapRunner(bctx *BootstrapContext) *BootstrapRunner {
	return &BootstrapRunner{
		SSM:       NewSSMManager(bctx),
		Validator: NewValidator(bctx.Logger),
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

// Run walks the inventory: probe SSM, obtain the value, validate, write.
func (r *BootstrapRunner) Run(ctx context.Context) error {
	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator)
	}

	var currentPhase string
	var results []stepResult

	for i, step := range inventory {
		if step.Phase != currentPhase {
			currentPhase = step.Phase
			r.printPhaseHeader(currentPhase)
		}

		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	r.printSummary(results)
	return nil
}

// stepResult records the outcome of processing a single bootstrap step.
type stepResult struct {
	Label  string
	Action string // "written", "skipped", "overwritten"
	Path   string
}

func (r *BootstrapRunner) processStep(ctx context.Context, step BootstrapStep) (stepResult, error) {
	path := r.SSM.SSMPath(step.SSMCategoryKey)
	result := stepResult{Label: step.HumanLabel, Path: path}

	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Stderr, "  Skipped (--skip-minio)\n")
		result.Action = "skipped"
		return result, nil
	}

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return result, fmt.Errorf("checking existence of %s: %w", path, err)
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptSkipOrOverwrite()
		if err != nil {
			return result, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
	}

	var value string
	switch step.Source {
	case SourcePrompt:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
		if err != nil {
			return result, err
		}
	case SourceFixed:
		value = step.FixedValue
		fmt.Fprintf(r.Stderr, "  Using fixed value: %s\n", value)
	}

	if step.ParamType == ParamSecureString {
		err = r.SSM.PutSecret(ctx, path, value, exists)
	} else {
		err = r.SSM.PutString(ctx, path, value)
	}
	if err != nil {
		return result, fmt.Errorf("writing SSM parameter %s: %w", path, err)
	}

	result.Action = "written"
	if exists {
		result.Action = "overwritten"
	}
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

// promptAndValidate prompts until the input validates, up to maxRetries
// failures. Secret inputs are masked and never echoed.
func (r *BootstrapRunner) promptAndValidate(ctx context.Context, step BootstrapStep) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var input string
		var err error
		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			choice, choiceErr := r.promptSkipOrRetry()
			if choiceErr != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, choiceErr)
			}
			if choice == "skip" {
				return "", errSkipped
			}
			// Retrying after empty input does not consume an attempt.
			attempt--
			continue
		}

		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}
		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

func (r *BootstrapRunner) getScanner() *bufio.Scanner {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	return r.scanner
}

// scanLine reads one line from the shared scanner, or io.EOF.
func (r *BootstrapRunner) scanLine() (string, error) {
	s := r.getScanner()
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.Text(), nil
}

func (r *BootstrapRunner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput disables echo when stdin is a terminal and falls back to
// line reading for piped input.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(password), nil
	}
	return r.scanLine()
}

// promptSkipOrOverwrite returns "skip" or "overwrite".
func (r *BootstrapRunner) promptSkipOrOverwrite() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  [S]kip or [O]verwrite? ")
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "s", "skip":
			return "skip", nil
		case "o", "overwrite":
			return "overwrite", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'O' to overwrite.\n")
		}
	}
}

// promptSkipOrRetry returns "skip" or "retry".
func (r *BootstrapRunner) promptSkipOrRetry() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  No input received. [S]kip this parameter or [R]etry? ")
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "s", "skip":
			return "skip", nil
		case "r", "retry":
			return "retry", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'R' to retry.\n")
		}
	}
}

func (r *BootstrapRunner) printPhaseHeader(phase string) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Phase: %s\n", phase)
	fmt.Fprintf(r.Stderr, "============================================================\n")
}

func (r *BootstrapRunner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")

	counts := map[string]int{}
	for _, res := range results {
		counts[res.Action]++
		fmt.Fprintf(r.Stderr, "  %-14s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Label)
	}

	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Total: %d parameters\n", len(results))
	fmt.Fprintf(r.Stderr, "  Written: %d | Overwritten: %d | Skipped: %d\n",
		counts["written"], counts["overwritten"], counts["skipped"])
	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "\n")
	fmt.Fprintf(r.Stderr, "  Next step: set the NAME_SSM_PARAM pointers on the API function.\n")
	fmt.Fprintf(r.Stderr, "  Run: bootstrap --env=<env> --export-pointers=lambda.env\n")
	fmt.Fprintf(r.Stderr, "\n")
}
