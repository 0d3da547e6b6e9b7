package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeLayout is fixed width so received_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// EventRecord is a received webhook event as stored.
type EventRecord struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	EventType        string          `json:"event_type,omitempty"`
	Source           string          `json:"source"`
	MessageID        string          `json:"message_id,omitempty"`
	Recipient        string          `json:"recipient,omitempty"`
	Status           string          `json:"status,omitempty"`
	CampaignID       string          `json:"campaign_id,omitempty"`
	DedupKey         string          `json:"dedup_key,omitempty"`
	LargeAttachments bool            `json:"large_attachments,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	ReceivedAt       time.Time       `json:"received_at"`
}

// EventStore persists received webhook events in SQLite.
type EventStore struct {
	db *sql.DB
}

// NewEventStore wraps an open database. Call BootstrapSQLite (or OpenSQLite) first.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Save inserts rec. The ID must be unique.
func (s *EventStore) Save(ctx context.Context, rec EventRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("save event: id is empty")
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_events(id, kind, event_type, source, message_id, recipient, status, campaign_id, dedup_key, large_attachments, payload, received_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID,
		rec.Kind,
		nullString(rec.EventType),
		rec.Source,
		nullString(rec.MessageID),
		nullString(rec.Recipient),
		nullString(rec.Status),
		nullString(rec.CampaignID),
		nullString(rec.DedupKey),
		boolToInt(rec.LargeAttachments),
		string(payload),
		rec.ReceivedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, event_type, source, message_id, recipient, status, campaign_id, dedup_key, large_attachments, payload, received_at
FROM webhook_events
ORDER BY received_at DESC, id DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec                                                            EventRecord
			eventType, messageID, recipient, status, campaignID, dedupKey sql.NullString
			large                                                          int
			payload, receivedAt                                            string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &eventType, &rec.Source, &messageID, &recipient, &status, &campaignID, &dedupKey, &large, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.EventType = eventType.String
		rec.MessageID = messageID.String
		rec.Recipient = recipient.String
		rec.Status = status.String
		rec.CampaignID = campaignID.String
		rec.DedupKey = dedupKey.String
		rec.LargeAttachments = large != 0
		rec.Payload = json.RawMessage(payload)
		if t, err := time.Parse(timeLayout, receivedAt); err == nil {
			rec.ReceivedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// CountByKind returns the number of stored events per payload kind.
func (s *EventStore) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM webhook_events GROUP BY kind;`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
