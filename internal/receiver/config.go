package receiver

import (
	"github.com/mattjoyce/venhook/internal/config"
	"github.com/mattjoyce/venhook/webhook"
)

// Config holds receiver server configuration.
type Config struct {
	Listen string

	WebhookPath     string
	Secret          []byte
	AllowUnsigned   bool
	SignatureHeader string
	EventHeader     string
	Encoding        webhook.Encoding
	MaxBodySize     int64

	// InboundPath enables the shared-secret route when non-empty.
	InboundPath   string
	InboundSecret string
	InboundHeader string

	// MetricsPath enables /metrics when non-empty.
	MetricsPath string

	// OperatorToken, when set, is required as a bearer token on /events and /metrics.
	OperatorToken string

	AttachmentBaseURL        string
	LargeAttachmentThreshold int64
}

// ConfigFrom maps a loaded configuration file onto receiver settings.
func ConfigFrom(cfg *config.Config) Config {
	rc := Config{
		Listen:                   cfg.Listen,
		WebhookPath:              cfg.Webhook.Path,
		Secret:                   []byte(cfg.Webhook.Secret),
		AllowUnsigned:            cfg.Webhook.AllowUnsigned,
		SignatureHeader:          cfg.Webhook.SignatureHeader,
		EventHeader:              cfg.Webhook.EventHeader,
		Encoding:                 webhook.Encoding(cfg.Webhook.Encoding),
		MaxBodySize:              cfg.Webhook.MaxBodyBytes,
		AttachmentBaseURL:        cfg.Attachments.BaseURL,
		LargeAttachmentThreshold: cfg.Attachments.LargeThresholdBytes,
		OperatorToken:            cfg.Operator.Token,
	}
	if cfg.Inbound.Enabled {
		rc.InboundPath = cfg.Inbound.Path
		rc.InboundSecret = cfg.Inbound.Secret
		rc.InboundHeader = cfg.Inbound.Header
	}
	if cfg.Metrics.Enabled {
		rc.MetricsPath = cfg.Metrics.Path
	}
	return rc
}
