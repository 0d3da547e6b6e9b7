package webhook

// Status values assigned by Normalize when the payload does not carry its own.
const (
	StatusBounced = "MessageBounced"
	StatusUnknown = "unknown"
)

// DeliveryEvent is the canonical form of a status or bounce notification.
type DeliveryEvent struct {
	MessageID  string  `json:"messageId,omitempty"`
	Recipient  string  `json:"recipient,omitempty"`
	Status     string  `json:"status"`
	CampaignID *string `json:"campaignId"`
	Payload    any     `json:"payload"`
}

// Campaign returns the campaign id and whether one was present.
func (e DeliveryEvent) Campaign() (string, bool) {
	if e.CampaignID == nil {
		return "", false
	}
	return *e.CampaignID, true
}

// Normalize converts a bounce or status payload into a DeliveryEvent. Bounce is
// checked first, so a payload with both shapes is a bounce. Anything else yields
// a record with StatusUnknown and no message fields; Normalize never fails, so
// callers that need strict validation should Classify first.
func Normalize(payload any) DeliveryEvent {
	obj, ok := asObject(payload)
	if !ok {
		return DeliveryEvent{Status: StatusUnknown, Payload: payload}
	}

	switch {
	case isBounceShape(obj):
		ref := messageRef(obj[FieldOriginalMessage])
		return DeliveryEvent{
			MessageID:  ref.MessageID,
			Recipient:  ref.To,
			Status:     StatusBounced,
			CampaignID: campaignPtr(ref),
			Payload:    payload,
		}
	case isStatusShape(obj):
		ref := messageRef(obj[FieldMessage])
		return DeliveryEvent{
			MessageID:  ref.MessageID,
			Recipient:  ref.To,
			Status:     stringField(obj, FieldStatus),
			CampaignID: campaignPtr(ref),
			Payload:    payload,
		}
	default:
		return DeliveryEvent{Status: StatusUnknown, Payload: payload}
	}
}

func campaignPtr(ref DeliveryMessageRef) *string {
	id, ok := ref.CampaignID()
	if !ok {
		return nil
	}
	return &id
}
