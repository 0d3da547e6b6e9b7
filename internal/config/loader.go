package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/venhook/webhook"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults applied by Load.
const (
	DefaultListen      = "127.0.0.1:8090"
	DefaultWebhookPath = "/webhooks/venmail"
	DefaultInboundPath = "/webhooks/inbound"
	DefaultSQLitePath  = "./data/venhook.db"
	DefaultMetricsPath = "/metrics"
	DefaultDedupTTL    = 24 * time.Hour
	DefaultEventBuffer = 256
)

// Load reads, interpolates, defaults and validates the configuration file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	cfg.Hash = ComputeBlake3(data)
	return cfg, nil
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded from the
// environment before decoding.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = DefaultWebhookPath
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = webhook.HeaderSignature
	}
	if cfg.Webhook.EventHeader == "" {
		cfg.Webhook.EventHeader = webhook.HeaderEvent
	}
	if cfg.Inbound.Path == "" {
		cfg.Inbound.Path = DefaultInboundPath
	}
	if cfg.Inbound.Header == "" {
		cfg.Inbound.Header = webhook.HeaderSharedSecret
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Dedup.TTL <= 0 {
		cfg.Dedup.TTL = DefaultDedupTTL
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = DefaultEventBuffer
	}
}

// resolveSecrets replaces secret_ref entries with the referenced environment
// variable. SecretRef takes precedence over Secret.
func resolveSecrets(cfg *Config) error {
	if ref := cfg.Webhook.SecretRef; ref != "" {
		v, ok := os.LookupEnv(ref)
		if !ok {
			return fmt.Errorf("webhook: secret_ref %q not found in environment", ref)
		}
		cfg.Webhook.Secret = v
	}
	if ref := cfg.Inbound.SecretRef; ref != "" {
		v, ok := os.LookupEnv(ref)
		if !ok {
			return fmt.Errorf("inbound: secret_ref %q not found in environment", ref)
		}
		cfg.Inbound.Secret = v
	}
	if ref := cfg.Operator.TokenRef; ref != "" {
		v, ok := os.LookupEnv(ref)
		if !ok {
			return fmt.Errorf("operator: token_ref %q not found in environment", ref)
		}
		cfg.Operator.Token = v
	}
	return nil
}

// interpolateEnv expands ${VAR}. Unknown variables are left in place so that
// validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if !cfg.Webhook.AllowUnsigned {
		if cfg.Webhook.Secret == "" {
			return fmt.Errorf("webhook: no secret or secret_ref configured")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.Webhook.Secret); m != nil {
			return fmt.Errorf("webhook: secret references unset environment variable %s", m[1])
		}
	}
	enc, err := webhook.ParseEncoding(cfg.Webhook.Encoding)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	cfg.Webhook.Encoding = string(enc)

	maxBody, err := ParseSize(cfg.Webhook.MaxBodySize, webhook.DefaultMaxBodySize)
	if err != nil {
		return fmt.Errorf("webhook: invalid max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}
	cfg.Webhook.MaxBodyBytes = maxBody

	if cfg.Inbound.Enabled {
		if cfg.Inbound.Secret == "" {
			return fmt.Errorf("inbound: enabled but no secret or secret_ref configured")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.Inbound.Secret); m != nil {
			return fmt.Errorf("inbound: secret references unset environment variable %s", m[1])
		}
		if cfg.Inbound.Path == cfg.Webhook.Path {
			return fmt.Errorf("inbound.path and webhook.path must differ (both %q)", cfg.Inbound.Path)
		}
	}

	if m := envVarPattern.FindStringSubmatch(cfg.Operator.Token); m != nil {
		return fmt.Errorf("operator: token references unset environment variable %s", m[1])
	}

	threshold, err := ParseSize(cfg.Attachments.LargeThreshold, webhook.DefaultLargeAttachmentThreshold)
	if err != nil {
		return fmt.Errorf("attachments: invalid large_threshold %q: %w", cfg.Attachments.LargeThreshold, err)
	}
	cfg.Attachments.LargeThresholdBytes = threshold

	for _, p := range []string{cfg.Webhook.Path, cfg.Inbound.Path, cfg.Metrics.Path} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path %q must start with /", p)
		}
	}
	return nil
}

// ParseSize parses size strings like "1MB", "512KB", "2048576" to bytes.
// Returns fallback if empty.
func ParseSize(size string, fallback int64) (int64, error) {
	if size == "" {
		return fallback, nil
	}

	// Handle unit suffixes (KB, MB, GB)
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	if strings.HasSuffix(upper, "KB") {
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	} else if strings.HasSuffix(upper, "MB") {
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	} else if strings.HasSuffix(upper, "GB") {
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
	if result/multiplier != value { // Check for overflow
		return 0, fmt.Errorf("size too large")
	}

	return result, nil
}
