package webhook

import "strconv"

// Payload is a decoded webhook body narrowed to one of the known shapes.
type Payload interface {
	Kind() Kind
	// Raw returns the object the variant was decoded from.
	Raw() map[string]any
}

// DeliveryMessageRef identifies the message a status or bounce payload refers to.
type DeliveryMessageRef struct {
	MessageID string `json:"message_id,omitempty"`
	To        string `json:"to,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// CampaignID returns the campaign encoded in the tag, if any.
func (r DeliveryMessageRef) CampaignID() (string, bool) {
	return ParseCampaignTag(r.Tag)
}

// IntegrationEvent is an organization-level notification (mail received,
// campaign sent, ...) identified by its event_type.
type IntegrationEvent struct {
	EventType string
	raw       map[string]any
}

// FormEvent carries submissions for a form.
type FormEvent struct {
	FormID string
	Events []any
	raw    map[string]any
}

// BounceEvent reports that delivery of OriginalMessage failed.
type BounceEvent struct {
	OriginalMessage DeliveryMessageRef
	Bounce          map[string]any
	raw             map[string]any
}

// StatusEvent is a delivery status update for a previously sent message.
type StatusEvent struct {
	Status  string
	Message DeliveryMessageRef
	raw     map[string]any
}

// MailEvent is an inbound or outbound mail notification.
type MailEvent struct {
	MessageID string
	RcptTo    string
	raw       map[string]any
}

// UnknownPayload holds anything that matched no shape. Raw is nil when the input
// was not an object.
type UnknownPayload struct {
	raw map[string]any
}

func (e *IntegrationEvent) Kind() Kind { return KindIntegration }
func (e *FormEvent) Kind() Kind        { return KindForm }
func (e *BounceEvent) Kind() Kind      { return KindBounce }
func (e *StatusEvent) Kind() Kind      { return KindStatus }
func (e *MailEvent) Kind() Kind        { return KindMail }
func (e *UnknownPayload) Kind() Kind   { return KindUnknown }

func (e *IntegrationEvent) Raw() map[string]any { return e.raw }
func (e *FormEvent) Raw() map[string]any        { return e.raw }
func (e *BounceEvent) Raw() map[string]any      { return e.raw }
func (e *StatusEvent) Raw() map[string]any      { return e.raw }
func (e *MailEvent) Raw() map[string]any        { return e.raw }
func (e *UnknownPayload) Raw() map[string]any   { return e.raw }

// Decode classifies payload and returns the matching typed variant.
func Decode(payload any) Payload {
	obj, ok := asObject(payload)
	if !ok {
		return &UnknownPayload{}
	}

	switch Classify(obj).Kind {
	case KindIntegration:
		return &IntegrationEvent{EventType: stringField(obj, FieldEventType), raw: obj}
	case KindForm:
		events, _ := obj[FieldEvents].([]any)
		return &FormEvent{FormID: textField(obj, FieldFormID), Events: events, raw: obj}
	case KindBounce:
		bounce, _ := asObject(obj[FieldBounce])
		return &BounceEvent{
			OriginalMessage: messageRef(obj[FieldOriginalMessage]),
			Bounce:          bounce,
			raw:             obj,
		}
	case KindStatus:
		return &StatusEvent{
			Status:  stringField(obj, FieldStatus),
			Message: messageRef(obj[FieldMessage]),
			raw:     obj,
		}
	case KindMail:
		return &MailEvent{
			MessageID: textField(obj, FieldMessageID),
			RcptTo:    textField(obj, FieldRcptTo),
			raw:       obj,
		}
	default:
		return &UnknownPayload{raw: obj}
	}
}

func messageRef(v any) DeliveryMessageRef {
	obj, ok := asObject(v)
	if !ok {
		return DeliveryMessageRef{}
	}
	return DeliveryMessageRef{
		MessageID: textField(obj, FieldMessageID),
		To:        textField(obj, FieldTo),
		Tag:       stringField(obj, FieldTag),
	}
}

// textField reads a string field, formatting JSON numbers as their decimal text.
// Ids are sometimes sent as numbers.
func textField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
