package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Handler verifies and decodes Venmail webhook requests and passes them to an
// EventHandler.
type Handler struct {
	opts   Options
	logger *slog.Logger
}

// NewHandler validates opts, applies defaults and returns a Handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.OnEvent == nil {
		return nil, ErrNoHandler
	}
	if len(opts.Secret) == 0 && !opts.AllowUnsigned {
		return nil, ErrEmptySecret
	}
	enc, err := ParseEncoding(string(opts.Encoding))
	if err != nil {
		return nil, err
	}
	opts.Encoding = enc

	// Apply defaults
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = HeaderSignature
	}
	if opts.EventHeader == "" {
		opts.EventHeader = HeaderEvent
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = defaultErrorHandler(logger)
	}

	return &Handler{opts: opts, logger: logger}, nil
}

// ServeHTTP implements http.Handler. Errors from Handle go to Options.ErrorHandler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww := wrapWriter(w, r)
	if err := h.Handle(ww, r); err != nil {
		h.opts.ErrorHandler(ww, r, err)
	}
}

// Handle processes one request. Signature failures are answered with 401 and a
// nil error; body, decode and OnEvent errors are returned unwritten.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	ww := wrapWriter(w, r)

	body, err := h.rawBody(r)
	if err != nil {
		return err
	}

	signature := r.Header.Get(h.opts.SignatureHeader)

	if !h.opts.AllowUnsigned {
		ok, err := VerifySignature(h.opts.Secret, signature, body, h.opts.Encoding)
		if err != nil {
			return fmt.Errorf("verify signature: %w", err)
		}
		if !ok {
			h.logger.Warn("webhook signature verification failed",
				"path", r.URL.Path,
				"header", h.opts.SignatureHeader,
				"signature_present", signature != "",
				"request_id", middleware.GetReqID(r.Context()),
			)
			respondJSON(ww, http.StatusUnauthorized, ResponseBody{OK: false, Error: MsgInvalidSignature})
			return nil
		}
	}

	var decoded Body
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeBody, err)
	}
	if decoded == nil {
		return fmt.Errorf("%w: body is null", ErrDecodeBody)
	}

	eventType := r.Header.Get(h.opts.EventHeader)
	if eventType == "" {
		eventType = stringField(decoded, FieldEventType)
	}

	ev := &Event{
		ID:         uuid.New(),
		ReceivedAt: time.Now().UTC(),
		Body:       decoded,
		Headers: map[string]string{
			HeaderEvent:     eventType,
			HeaderSignature: signature,
		},
		RawBody: body,
	}

	h.logger.Debug("webhook event accepted",
		"path", r.URL.Path,
		"event_id", ev.ID.String(),
		"event_type", eventType,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if err := h.opts.OnEvent.HandleEvent(r.Context(), ev, ww, r); err != nil {
		return fmt.Errorf("handle event %s: %w", ev.ID, err)
	}

	if !h.opts.DisableAutoRespond && !written(ww) {
		respondJSON(ww, http.StatusOK, ResponseBody{OK: true})
	}
	return nil
}

// rawBody obtains the signed bytes: the RawBody option, then bytes stashed on the
// context by upstream middleware, then the request body itself. An empty body
// becomes "{}".
func (h *Handler) rawBody(r *http.Request) ([]byte, error) {
	if h.opts.RawBody != nil {
		body, err := h.opts.RawBody(r)
		if err != nil {
			return nil, fmt.Errorf("extract raw body: %w", err)
		}
		return body, nil
	}

	if body, ok := RawBodyFromContext(r.Context()); ok {
		return emptyAsObject(body), nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		return emptyAsObject(nil), nil
	}

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > h.opts.MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	return emptyAsObject(body), nil
}

func emptyAsObject(body []byte) []byte {
	if len(body) == 0 {
		return []byte("{}")
	}
	return body
}

type rawBodyKey struct{}

// WithRawBody stores the raw request body on ctx for middleware that has already
// consumed r.Body.
func WithRawBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, body)
}

// RawBodyFromContext returns bytes stored with WithRawBody.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(rawBodyKey{}).([]byte)
	return b, ok
}

func wrapWriter(w http.ResponseWriter, r *http.Request) middleware.WrapResponseWriter {
	if ww, ok := w.(middleware.WrapResponseWriter); ok {
		return ww
	}
	return middleware.NewWrapResponseWriter(w, r.ProtoMajor)
}

// written reports whether a status or body has been sent.
func written(w middleware.WrapResponseWriter) bool {
	return w.Status() != 0 || w.BytesWritten() > 0
}

func defaultErrorHandler(logger *slog.Logger) ErrorHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status := http.StatusInternalServerError
		message := "internal error"
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			status = http.StatusRequestEntityTooLarge
			message = "payload too large"
		case errors.Is(err, ErrDecodeBody):
			status = http.StatusBadRequest
			message = "invalid JSON body"
		}

		logger.Error("webhook request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)

		if ww, ok := w.(middleware.WrapResponseWriter); ok && written(ww) {
			return
		}
		respondJSON(w, status, ResponseBody{OK: false, Error: message})
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
