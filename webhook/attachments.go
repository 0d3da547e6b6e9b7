package webhook

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultLargeAttachmentThreshold is the size above which an attachment counts as large.
const DefaultLargeAttachmentThreshold int64 = 10 * 1024 * 1024

// ErrMissingAttachmentRef is returned when an attachment has neither a storage URL
// nor an attachment id to build a download URL from.
var ErrMissingAttachmentRef = errors.New("attachment has no storage_url or attachment_id")

// Attachment is passed through verbatim from a payload's attachments array.
type Attachment struct {
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type,omitempty"`
	Size         *int64 `json:"size,omitempty"`
	StorageURL   string `json:"storage_url,omitempty"`
	AttachmentID string `json:"attachment_id,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ExtractAttachments returns the attachments listed in payload. A missing or
// non-array attachments field yields an empty slice; entries that are not
// objects are skipped.
func ExtractAttachments(payload any) []Attachment {
	obj, ok := asObject(payload)
	if !ok {
		return []Attachment{}
	}
	items, ok := obj[FieldAttachments].([]any)
	if !ok {
		return []Attachment{}
	}

	out := make([]Attachment, 0, len(items))
	for _, item := range items {
		a, ok := asObject(item)
		if !ok {
			continue
		}
		att := Attachment{
			Filename:     stringField(a, "filename"),
			ContentType:  stringField(a, "content_type"),
			StorageURL:   stringField(a, "storage_url"),
			AttachmentID: textField(a, "attachment_id"),
			ThumbnailURL: stringField(a, "thumbnail_url"),
		}
		if size, ok := a["size"].(float64); ok {
			n := int64(size)
			att.Size = &n
		}
		out = append(out, att)
	}
	return out
}

// HasLargeAttachments reports whether any attachment is larger than threshold.
// A non-positive threshold means DefaultLargeAttachmentThreshold.
func HasLargeAttachments(atts []Attachment, threshold int64) bool {
	if threshold <= 0 {
		threshold = DefaultLargeAttachmentThreshold
	}
	for _, a := range atts {
		if a.Size != nil && *a.Size > threshold {
			return true
		}
	}
	return false
}

// DownloadURL returns the storage URL, or the platform download URL built from
// baseURL and the attachment id.
func DownloadURL(att Attachment, baseURL string) (string, error) {
	if att.StorageURL != "" {
		return att.StorageURL, nil
	}
	if att.AttachmentID == "" {
		return "", ErrMissingAttachmentRef
	}
	return attachmentURL(baseURL, att.AttachmentID, "download"), nil
}

// ThumbnailURL returns the thumbnail URL, the platform thumbnail URL built from
// baseURL and the attachment id, or "" when neither is available.
func ThumbnailURL(att Attachment, baseURL string) string {
	if att.ThumbnailURL != "" {
		return att.ThumbnailURL
	}
	if att.AttachmentID == "" {
		return ""
	}
	return attachmentURL(baseURL, att.AttachmentID, "thumbnail")
}

func attachmentURL(baseURL, id, leaf string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/attachments/" + url.PathEscape(id) + "/" + leaf
}
