package receiver

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	EventSubscribers int    `json:"event_subscribers"`
	InboundEnabled   bool   `json:"inbound_enabled"`
	SignedWebhooks   bool   `json:"signed_webhooks"`
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		EventSubscribers: s.hub.Subscribers(),
		InboundEnabled:   s.inboundHandler != nil,
		SignedWebhooks:   !s.config.AllowUnsigned,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
