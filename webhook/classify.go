package webhook

import "strings"

// Kind identifies the structural shape of a webhook payload.
type Kind string

const (
	KindIntegration Kind = "integration"
	KindForm        Kind = "form"
	KindBounce      Kind = "bounce"
	KindStatus      Kind = "status"
	KindMail        Kind = "mail"
	KindUnknown     Kind = "unknown"
)

// Field names used by the platform payloads.
const (
	FieldEventType       = "event_type"
	FieldFormID          = "form_id"
	FieldEvents          = "events"
	FieldOriginalMessage = "original_message"
	FieldBounce          = "bounce"
	FieldStatus          = "status"
	FieldMessage         = "message"
	FieldRcptTo          = "rcpt_to"
	FieldMessageID       = "message_id"
	FieldTo              = "to"
	FieldTag             = "tag"
	FieldAttachments     = "attachments"
)

const campaignTagPrefix = "campaign:"

// Classification is the result of Classify. CampaignID is only set for bounce and
// status payloads whose message tag follows the campaign convention.
type Classification struct {
	Kind            Kind   `json:"kind"`
	IsCampaignEvent bool   `json:"isCampaignEvent,omitempty"`
	CampaignID      string `json:"campaignId,omitempty"`
}

type shapeRule struct {
	kind  Kind
	match func(map[string]any) bool
}

// shapeRules is evaluated in order and the first match wins. Real payloads can
// satisfy more than one shape, so the order is part of the contract.
var shapeRules = []shapeRule{
	{KindIntegration, isIntegrationShape},
	{KindForm, isFormShape},
	{KindBounce, isBounceShape},
	{KindStatus, isStatusShape},
	{KindMail, isMailShape},
}

// Classify returns the kind of payload, which is normally the result of decoding a
// JSON body into an any or map[string]any. Non-object input is KindUnknown.
func Classify(payload any) Classification {
	obj, ok := asObject(payload)
	if !ok {
		return Classification{Kind: KindUnknown}
	}

	for _, rule := range shapeRules {
		if !rule.match(obj) {
			continue
		}
		c := Classification{Kind: rule.kind}
		switch rule.kind {
		case KindBounce:
			c.CampaignID, c.IsCampaignEvent = campaignFromRef(obj[FieldOriginalMessage])
		case KindStatus:
			c.CampaignID, c.IsCampaignEvent = campaignFromRef(obj[FieldMessage])
		}
		return c
	}
	return Classification{Kind: KindUnknown}
}

// ParseCampaignTag extracts the campaign id from a tag of the form "campaign:<id>".
// The id is everything after the first colon and must be non-empty.
func ParseCampaignTag(tag string) (string, bool) {
	if !strings.HasPrefix(tag, campaignTagPrefix) {
		return "", false
	}
	id := tag[len(campaignTagPrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

func isIntegrationShape(obj map[string]any) bool {
	_, ok := obj[FieldEventType].(string)
	return ok
}

func isFormShape(obj map[string]any) bool {
	if !present(obj, FieldFormID) {
		return false
	}
	_, ok := obj[FieldEvents].([]any)
	return ok
}

func isBounceShape(obj map[string]any) bool {
	_, okMsg := asObject(obj[FieldOriginalMessage])
	_, okBounce := asObject(obj[FieldBounce])
	return okMsg && okBounce
}

func isStatusShape(obj map[string]any) bool {
	_, okStatus := obj[FieldStatus].(string)
	_, okMsg := asObject(obj[FieldMessage])
	return okStatus && okMsg
}

func isMailShape(obj map[string]any) bool {
	return present(obj, FieldMessageID) && present(obj, FieldRcptTo)
}

func campaignFromRef(v any) (string, bool) {
	ref, ok := asObject(v)
	if !ok {
		return "", false
	}
	tag, ok := ref[FieldTag].(string)
	if !ok {
		return "", false
	}
	return ParseCampaignTag(tag)
}

// present reports whether key exists with a non-null value.
func present(obj map[string]any, key string) bool {
	v, ok := obj[key]
	return ok && v != nil
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, o != nil
	case Body:
		return map[string]any(o), o != nil
	default:
		return nil, false
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
