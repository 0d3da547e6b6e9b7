package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_event_handler.go -package=mocks github.com/mattjoyce/venhook/webhook EventHandler

// Default header names and limits.
const (
	HeaderSignature    = "x-venmail-signature"
	HeaderEvent        = "x-venmail-event"
	HeaderSharedSecret = "x-venmail-secret"

	DefaultMaxBodySize = 1048576 // 1 MB
)

// Response bodies.
const (
	MsgInvalidSignature = "Invalid Venmail signature"
	MsgInvalidSecret    = "Invalid Venmail secret"
)

var (
	// ErrNoHandler is returned by NewHandler when Options.OnEvent is nil.
	ErrNoHandler = errors.New("webhook handler: OnEvent is required")

	// ErrDecodeBody wraps failures to decode the request body as a JSON object.
	ErrDecodeBody = errors.New("webhook body is not a valid JSON object")

	// ErrBodyTooLarge is returned when the request body exceeds Options.MaxBodySize.
	ErrBodyTooLarge = errors.New("webhook body too large")
)

// Body is a decoded JSON object from a webhook request.
type Body map[string]any

// Event is a verified, decoded webhook request handed to an EventHandler.
type Event struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	Body       Body
	// Headers always contains HeaderEvent and HeaderSignature.
	Headers map[string]string
	// RawBody is the exact byte sequence the signature was computed over.
	RawBody []byte
}

// EventType returns the resolved event type: the event header, else the body's
// event_type, else "".
func (e *Event) EventType() string {
	return e.Headers[HeaderEvent]
}

// Signature returns the signature header as received.
func (e *Event) Signature() string {
	return e.Headers[HeaderSignature]
}

// EventHandler receives verified events. The writer and request are passed through
// for handlers that write their own response. A returned error is propagated to
// the caller of Handler.Handle, or to Options.ErrorHandler from ServeHTTP.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *Event, w http.ResponseWriter, r *http.Request) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev *Event, w http.ResponseWriter, r *http.Request) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev *Event, w http.ResponseWriter, r *http.Request) error {
	return f(ctx, ev, w, r)
}

// RawBodyFunc returns the exact bytes of the request body.
type RawBodyFunc func(r *http.Request) ([]byte, error)

// ErrorHandlerFunc reports errors raised while processing a request.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// Options configures a Handler.
type Options struct {
	// Secret is the HMAC secret. Required unless AllowUnsigned is set.
	Secret []byte

	// OnEvent is invoked for every verified request.
	OnEvent EventHandler

	// AllowUnsigned skips signature verification entirely.
	AllowUnsigned bool

	// SignatureHeader holds the HMAC signature (default: x-venmail-signature)
	SignatureHeader string

	// EventHeader holds the event type (default: x-venmail-event)
	EventHeader string

	// Encoding of the signature (default: hex)
	Encoding Encoding

	// RawBody overrides how the raw body is obtained.
	RawBody RawBodyFunc

	// DisableAutoRespond stops the handler from writing 200 {"ok":true} when
	// OnEvent returns without writing a response.
	DisableAutoRespond bool

	// MaxBodySize limits how much of the request body is read (default: 1MB)
	MaxBodySize int64

	// ErrorHandler receives decode and handler errors from ServeHTTP.
	ErrorHandler ErrorHandlerFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ResponseBody is the JSON body written by the handler and middleware.
type ResponseBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
