package receiver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/venhook/internal/dedup"
	"github.com/mattjoyce/venhook/internal/events"
	"github.com/mattjoyce/venhook/internal/metrics"
	"github.com/mattjoyce/venhook/internal/storage"
	"github.com/mattjoyce/venhook/webhook"
)

// Notice is the data published to the event hub for each request outcome.
type Notice struct {
	EventID          string                 `json:"event_id,omitempty"`
	RequestID        string                 `json:"request_id,omitempty"`
	Source           string                 `json:"source"`
	Kind             webhook.Kind           `json:"kind,omitempty"`
	EventType        string                 `json:"event_type,omitempty"`
	Delivery         *webhook.DeliveryEvent `json:"delivery,omitempty"`
	MessageID        string                 `json:"message_id,omitempty"`
	Recipient        string                 `json:"recipient,omitempty"`
	CampaignID       string                 `json:"campaign_id,omitempty"`
	Attachments      []AttachmentLink       `json:"attachments,omitempty"`
	LargeAttachments bool                   `json:"large_attachments,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// AttachmentLink is an attachment with its resolved download and thumbnail URLs.
type AttachmentLink struct {
	webhook.Attachment
	DownloadURL string `json:"download_url,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

func (s *Server) processor(route string) webhook.EventHandler {
	return webhook.EventHandlerFunc(func(ctx context.Context, ev *webhook.Event, w http.ResponseWriter, r *http.Request) error {
		return s.process(ctx, route, ev)
	})
}

// process classifies, deduplicates, stores and publishes one verified event.
func (s *Server) process(ctx context.Context, route string, ev *webhook.Event) error {
	start := time.Now()
	defer func() { s.metrics.ProcessingDuration(time.Since(start)) }()

	outcome := metrics.OutcomeValid
	if route == RouteWebhook && s.config.AllowUnsigned {
		outcome = metrics.OutcomeUnsigned
	}
	s.metrics.SignatureChecked(route, outcome)

	notice := s.describe(route, ev)
	notice.RequestID = middleware.GetReqID(ctx)
	logger := s.logger.With(
		"route", route,
		"event_id", notice.EventID,
		"kind", notice.Kind,
		"request_id", notice.RequestID,
	)

	status := ""
	if notice.Delivery != nil {
		status = notice.Delivery.Status
	}
	key := dedup.Key(notice.MessageID, status, ev.RawBody)

	isNew, err := s.filter.IsNew(ctx, key)
	if err != nil {
		// Treat as new: a missed duplicate is better than a dropped event.
		logger.Warn("dedup check failed", "error", err)
		s.metrics.ProcessingFailed(metrics.StageDedup)
		isNew = true
	}
	if !isNew {
		logger.Info("duplicate webhook suppressed", "dedup_key", key)
		s.metrics.DuplicateSuppressed(string(notice.Kind))
		s.hub.Publish(events.TypeDuplicate, notice)
		return nil
	}

	payload := ev.RawBody
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	rec := storage.EventRecord{
		ID:               notice.EventID,
		Kind:             string(notice.Kind),
		EventType:        notice.EventType,
		Source:           route,
		MessageID:        notice.MessageID,
		Recipient:        notice.Recipient,
		Status:           status,
		CampaignID:       notice.CampaignID,
		DedupKey:         key,
		LargeAttachments: notice.LargeAttachments,
		Payload:          payload,
		ReceivedAt:       ev.ReceivedAt,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.metrics.ProcessingFailed(metrics.StageStore)
		// Release the key so Venmail's retry is not mistaken for a duplicate.
		if ferr := s.filter.Forget(ctx, key); ferr != nil {
			logger.Warn("dedup release failed", "error", ferr)
		}
		notice.Error = err.Error()
		s.hub.Publish(events.TypeFailed, notice)
		return fmt.Errorf("store event: %w", err)
	}

	s.metrics.EventReceived(string(notice.Kind))
	if notice.LargeAttachments {
		s.metrics.LargeAttachment()
	}
	s.hub.Publish(events.TypeReceived, notice)

	logger.Info("webhook event processed",
		"event_type", notice.EventType,
		"message_id", notice.MessageID,
		"status", status,
		"campaign_id", notice.CampaignID,
		"attachments", len(notice.Attachments),
	)
	return nil
}

// describe extracts the fields of ev worth storing and publishing.
func (s *Server) describe(route string, ev *webhook.Event) Notice {
	cls := webhook.Classify(ev.Body)
	n := Notice{
		EventID:    ev.ID.String(),
		Source:     route,
		Kind:       cls.Kind,
		EventType:  ev.EventType(),
		CampaignID: cls.CampaignID,
	}

	switch p := webhook.Decode(ev.Body).(type) {
	case *webhook.StatusEvent, *webhook.BounceEvent:
		delivery := webhook.Normalize(p.Raw())
		delivery.Payload = nil
		n.Delivery = &delivery
		n.MessageID = delivery.MessageID
		n.Recipient = delivery.Recipient
	case *webhook.MailEvent:
		n.MessageID = p.MessageID
		n.Recipient = p.RcptTo
	}

	for _, att := range webhook.ExtractAttachments(ev.Body) {
		link := AttachmentLink{Attachment: att, Thumbnail: webhook.ThumbnailURL(att, s.config.AttachmentBaseURL)}
		if u, err := webhook.DownloadURL(att, s.config.AttachmentBaseURL); err == nil {
			link.DownloadURL = u
		}
		n.Attachments = append(n.Attachments, link)
	}
	atts := make([]webhook.Attachment, len(n.Attachments))
	for i, l := range n.Attachments {
		atts[i] = l.Attachment
	}
	n.LargeAttachments = webhook.HasLargeAttachments(atts, s.config.LargeAttachmentThreshold)

	return n
}
