package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and validates the deployment manifest at configPath.
//
// The manifest is decoded as YAML when its extension is .yaml or .yml and as
// JSON otherwise. ${VAR} references inside string values are expanded after
// decoding, from the process environment first and then from a .env file next
// to the manifest, which is re-read on every call. If a .checksums file sits next to the
// manifest, the manifest must match its recorded BLAKE3 hash.
//
// Any parse failure or missing required field returns an error wrapping
// ErrMissingField. There is no partial success.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultManifest
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest %s: %w", ErrMissingField, absPath, err)
	}

	if err := verifyManifestHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := decode(absPath, data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %w", ErrMissingField, absPath, err)
	}
	cfg.SourcePath = absPath

	dotenv, err := readDotEnv(filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%w: read .env: %w", ErrMissingField, err)
	}
	expandFields(cfg, dotenv)

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// decode parses raw manifest bytes according to the file extension.
func decode(path string, data []byte) (*Config, error) {
	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var root any
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, err
		}
		if _, ok := root.(map[string]any); !ok {
			return nil, fmt.Errorf("manifest is not a mapping")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("manifest is not a JSON object")
		}
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// validateRequired checks every required field in manifest order and reports
// the first one that is absent or empty.
func validateRequired(cfg *Config) error {
	values := map[string]bool{
		"gitPath":       cfg.GitPath != "",
		"bashPath":      cfg.BashPath != "",
		"htdocsPath":    cfg.HtdocsPath != "",
		"mergerPath":    cfg.MergerPath != "",
		"deployBranch":  cfg.DeployBranch != "",
		"htdocsBranch":  cfg.HtdocsBranch != "",
		"eventTypes":    len(cfg.EventTypes) > 0,
		"payloadSecret": cfg.PayloadSecret != "" && !envVarPattern.MatchString(cfg.PayloadSecret),
		"deployScript":  cfg.DeployScript != "",
	}

	for _, field := range RequiredFields() {
		if !values[field] {
			return &MissingFieldError{Field: field}
		}
	}
	return nil
}

// applyDefaults fills optional service settings and parses their typed forms.
func applyDefaults(cfg *Config) error {
	svc := &cfg.ServiceConfig

	if svc.Listen == "" {
		svc.Listen = DefaultListen
	}
	if svc.WebhookPath == "" {
		svc.WebhookPath = DefaultWebhookPath
	}
	if !strings.HasPrefix(svc.WebhookPath, "/") {
		return fmt.Errorf("webhookPath must start with '/' (got %q)", svc.WebhookPath)
	}

	if svc.LogLevel == "" {
		svc.LogLevel = DefaultLogLevel
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(svc.LogLevel)] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error (got %q)", svc.LogLevel)
	}

	if svc.LogFormat == "" {
		svc.LogFormat = DefaultLogFormat
	}
	if svc.LogFormat != "json" && svc.LogFormat != "text" {
		return fmt.Errorf("logFormat must be one of: json, text (got %q)", svc.LogFormat)
	}

	maxBody, err := ParseSize(svc.MaxBodySize)
	if err != nil {
		return fmt.Errorf("invalid maxBodySize %q: %w", svc.MaxBodySize, err)
	}
	svc.MaxBodyBytes = maxBody

	svc.CommandTimeoutDur = DefaultCommandTimeout
	if svc.CommandTimeout != "" {
		d, err := time.ParseDuration(svc.CommandTimeout)
		if err != nil {
			return fmt.Errorf("invalid commandTimeout %q: %w", svc.CommandTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("commandTimeout must not be negative")
		}
		svc.CommandTimeoutDur = d
	}

	for i, p := range cfg.ExcludeFiles {
		if strings.ContainsAny(p, "\r\n") {
			return fmt.Errorf("excludeFiles[%d] must not contain a line break", i)
		}
	}

	if svc.WorkDir == "" {
		svc.WorkDir = filepath.Dir(cfg.SourcePath)
	}
	if svc.LockPath == "" {
		svc.LockPath = filepath.Join(svc.WorkDir, DefaultLockName)
	}

	return nil
}

// ParseSize parses size strings like "1MB", "512KB" or "2048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// readDotEnv parses dir/.env without touching the process environment.
// A missing file yields an empty map.
func readDotEnv(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return map[string]string{}, nil
	}
	return godotenv.Read(envPath)
}

// expandFields interpolates every string value of a decoded manifest.
// Substituted text is never parsed again.
func expandFields(cfg *Config, dotenv map[string]string) {
	expand := func(s *string) { *s = interpolateEnv(*s, dotenv) }
	expandAll := func(list []string) {
		for i := range list {
			expand(&list[i])
		}
	}

	for _, s := range []*string{
		&cfg.GitPath, &cfg.BashPath, &cfg.HtdocsPath, &cfg.MergerPath,
		&cfg.DeployBranch, &cfg.HtdocsBranch, &cfg.PayloadSecret,
		&cfg.DeployScript, &cfg.LogPath,
		&cfg.Listen, &cfg.WebhookPath, &cfg.MaxBodySize, &cfg.LogLevel,
		&cfg.LogFormat, &cfg.CommandTimeout, &cfg.WorkDir, &cfg.LockPath,
		&cfg.HistoryPath,
	} {
		expand(s)
	}
	expandAll(cfg.EventTypes)
	expandAll(cfg.PreDeploy)
	expandAll(cfg.PostDeploy)
	expandAll(cfg.ExcludeFiles)
}

// interpolateEnv replaces ${VAR} with the process environment value, falling
// back to dotenv. Undefined variables are left as-is (not expanded).
func interpolateEnv(input string, dotenv map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		if value, exists := dotenv[varName]; exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}
