package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	SSM         *SSMManager
	Stderr      io.Writer

	// IncludeLocalDefaults adds localDefaults, which win over SSM values
	// for the same variable.
	IncludeLocalDefaults bool
}

// localDefaults make an exported file usable with `go run ./cmd/api`.
var localDefaults = map[string]string{
	"APP_ENV":         "local",
	"LOG_FORMAT":      "text",
	"METRICS_BACKEND": "prometheus",
}

// inventoryVars returns the env var and SSM key of every inventory step.
func inventoryVars() []BootstrapStep {
	return BuildInventory(NewValidatorWithDeps(nil, nil))
}

// ExportEnvFile reads every inventory parameter back from SSM and writes a
// dotenv file with mode 0600. Missing parameters are listed in a comment.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.OutputPath == "" {
		return fmt.Errorf("output path must not be empty")
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	env := make(map[string]string)
	var missing []string
	for _, step := range inventoryVars() {
		if cfg.IncludeLocalDefaults {
			if _, ok := localDefaults[step.EnvVar]; ok {
				continue
			}
		}
		path := cfg.SSM.SSMPath(step.SSMCategoryKey)
		exists, err := cfg.SSM.ParameterExists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			missing = append(missing, step.EnvVar)
			fmt.Fprintf(stderr, "  %-22s not set (%s)\n", step.EnvVar, path)
			continue
		}
		value, err := cfg.SSM.GetParameterValue(ctx, path, step.ParamType == ParamSecureString)
		if err != nil {
			return err
		}
		env[step.EnvVar] = value
		fmt.Fprintf(stderr, "  %-22s exported\n", step.EnvVar)
	}
	if cfg.IncludeLocalDefaults {
		for k, v := range localDefaults {
			env[k] = v
		}
	}

	body, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding env file: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Exported from SSM %s\n", ssmPrefix(cfg.Environment))
	b.WriteString("# Contains decrypted secrets. Do not commit.\n")
	if len(missing) > 0 {
		fmt.Fprintf(&b, "# Not set in SSM: %s\n", strings.Join(missing, ", "))
	}
	b.WriteString(body)
	b.WriteString("\n")

	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	return nil
}

// pointerVars maps NAME_SSM_PARAM to the SSM path for env, the form
// config.LoadConfig resolves at startup.
func pointerVars(env string) map[string]string {
	vars := map[string]string{"APP_ENV": env}
	for _, step := range inventoryVars() {
		vars[step.EnvVar+"_SSM_PARAM"] = ssmPrefix(env) + step.SSMCategoryKey
	}
	return vars
}

// writePointerFile writes pointerVars(env) as a dotenv file.
func writePointerFile(path, env string) error {
	body, err := godotenv.Marshal(pointerVars(env))
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body+"\n"), 0o644)
}
