package config

import "time"

// Config represents the complete venhook receiver configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Listen      string            `yaml:"listen"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Inbound     InboundConfig     `yaml:"inbound"`
	Storage     StorageConfig     `yaml:"storage"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Events      EventsConfig      `yaml:"events"`
	Operator    OperatorConfig    `yaml:"operator"`

	// Path and Hash describe the file the config was loaded from.
	Path string `yaml:"-"`
	Hash string `yaml:"-"`
}

// WebhookConfig defines the signed Venmail webhook endpoint.
type WebhookConfig struct {
	// Path is the URL path for this webhook (e.g., "/webhooks/venmail")
	Path string `yaml:"path"`

	// Secret is the HMAC secret for signature verification
	Secret string `yaml:"secret,omitempty"`

	// SecretRef names an environment variable holding the secret (preferred over Secret)
	SecretRef string `yaml:"secret_ref,omitempty"`

	// AllowUnsigned disables signature verification (local testing only)
	AllowUnsigned bool `yaml:"allow_unsigned,omitempty"`

	// SignatureHeader is the HTTP header containing the HMAC signature
	SignatureHeader string `yaml:"signature_header,omitempty"`

	// EventHeader is the HTTP header containing the event type
	EventHeader string `yaml:"event_header,omitempty"`

	// Encoding of the signature: hex or base64
	Encoding string `yaml:"encoding,omitempty"`

	// MaxBodySize accepts "1MB", "512KB" or a byte count (default: 1MB)
	MaxBodySize string `yaml:"max_body_size,omitempty"`

	// MaxBodyBytes is MaxBodySize parsed by Load.
	MaxBodyBytes int64 `yaml:"-"`
}

// InboundConfig defines the shared-secret endpoint used by mail ingestion.
type InboundConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Secret    string `yaml:"secret,omitempty"`
	SecretRef string `yaml:"secret_ref,omitempty"`
	Header    string `yaml:"header,omitempty"`
}

// StorageConfig defines where received events are stored.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`

	// LockPath guards the database against a second receiver (default: <sqlite_path>.lock)
	LockPath string `yaml:"lock_path,omitempty"`
}

// DedupConfig defines duplicate suppression. An empty RedisURL keeps seen keys in memory.
type DedupConfig struct {
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AttachmentsConfig defines how attachment links are built and flagged.
type AttachmentsConfig struct {
	BaseURL        string `yaml:"base_url"`
	LargeThreshold string `yaml:"large_threshold,omitempty"`

	// LargeThresholdBytes is LargeThreshold parsed by Load.
	LargeThresholdBytes int64 `yaml:"-"`
}

// EventsConfig sizes the live event buffer served on /events.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// OperatorConfig protects /events and /metrics. An empty token leaves them open.
type OperatorConfig struct {
	Token    string `yaml:"token,omitempty"`
	TokenRef string `yaml:"token_ref,omitempty"`
}
