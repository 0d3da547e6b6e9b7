package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/venhook/webhook"
	"github.com/mattjoyce/venhook/webhook/mocks"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func sign(t *testing.T, secret, body []byte) string {
	t.Helper()
	sig, err := webhook.ComputeSignature(secret, body, webhook.EncodingHex)
	require.NoError(t, err)
	return sig
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) webhook.ResponseBody {
	t.Helper()
	var resp webhook.ResponseBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandler_ValidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	secret := []byte("test-secret")
	body, err := json.Marshal(map[string]any{
		"status":  "MessageDelivered",
		"message": map[string]any{"message_id": "m1", "to": "a@b.com", "tag": "campaign:123"},
	})
	require.NoError(t, err)
	signature := sign(t, secret, body)

	onEvent := mocks.NewMockEventHandler(ctrl)
	onEvent.EXPECT().
		HandleEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev *webhook.Event, _ http.ResponseWriter, _ *http.Request) error {
			assert.Equal(t, signature, ev.Headers[webhook.HeaderSignature])
			assert.Equal(t, "message.status", ev.EventType())
			assert.Equal(t, "MessageDelivered", ev.Body["status"])
			assert.Equal(t, body, ev.RawBody)
			assert.NotEmpty(t, ev.ID.String())
			return nil
		}).
		Times(1)

	h, err := webhook.NewHandler(webhook.Options{Secret: secret, OnEvent: onEvent, Logger: testLogger})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/venmail", bytes.NewReader(body))
	req.Header.Set("X-Venmail-Signature", signature)
	req.Header.Set("X-Venmail-Event", "message.status")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, webhook.ResponseBody{OK: true}, decodeResponse(t, rec))
}

func TestHandler_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	onEvent := mocks.NewMockEventHandler(ctrl)
	onEvent.EXPECT().HandleEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	h, err := webhook.NewHandler(webhook.Options{Secret: []byte("test-secret"), OnEvent: onEvent, Logger: testLogger})
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "wrong signature", signature: strings.Repeat("0", 64)},
		{name: "malformed signature", signature: "not-hex"},
		{name: "missing signature", signature: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/venmail", strings.NewReader(`{"event_type":"mail.received"}`))
			if tt.signature != "" {
				req.Header.Set(webhook.HeaderSignature, tt.signature)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"ok":false,"error":"Invalid Venmail signature"}`, rec.Body.String())
		})
	}
}

func TestHandler_AllowUnsigned(t *testing.T) {
	var got *webhook.Event
	h, err := webhook.NewHandler(webhook.Options{
		AllowUnsigned: true,
		Logger:        testLogger,
		OnEvent: webhook.EventHandlerFunc(func(_ context.Context, ev *webhook.Event, _ http.ResponseWriter, _ *http.Request) error {
			got = ev
			return nil
		}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event_type":"campaign.sent"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "campaign.sent", got.EventType(), "event type falls back to body event_type")
	assert.Equal(t, "", got.Signature())
}

func TestHandler_EmptyBodyBecomesObject(t *testing.T) {
	secret := []byte("s")
	var got *webhook.Event
	h, err := webhook.NewHandler(webhook.Options{
		Secret: secret,
		Logger: testLogger,
		OnEvent: webhook.EventHandlerFunc(func(_ context.Context, ev *webhook.Event, _ http.ResponseWriter, _ *http.Request) error {
			got = ev
			return nil
		}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, []byte("{}")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Empty(t, got.Body)
	assert.Equal(t, "", got.EventType())
}

func TestHandler_RawBodySources(t *testing.T) {
	secret := []byte("s")
	signed := []byte(`{"message_id":"m1","rcpt_to":"a@b.com"}`)

	newHandler := func(t *testing.T, extractor webhook.RawBodyFunc, called *bool) *webhook.Handler {
		h, err := webhook.NewHandler(webhook.Options{
			Secret:  secret,
			RawBody: extractor,
			Logger:  testLogger,
			OnEvent: webhook.EventHandlerFunc(func(_ context.Context, ev *webhook.Event, _ http.ResponseWriter, _ *http.Request) error {
				*called = true
				assert.Equal(t, webhook.KindMail, webhook.Classify(ev.Body).Kind)
				return nil
			}),
		})
		require.NoError(t, err)
		return h
	}

	t.Run("extractor", func(t *testing.T) {
		called := false
		h := newHandler(t, func(*http.Request) ([]byte, error) { return signed, nil }, &called)

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`ignored`))
		req.Header.Set(webhook.HeaderSignature, sign(t, secret, signed))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, called)
	})

	t.Run("context stash", func(t *testing.T) {
		called := false
		h := newHandler(t, nil, &called)

		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req = req.WithContext(webhook.WithRawBody(req.Context(), signed))
		req.Header.Set(webhook.HeaderSignature, sign(t, secret, signed))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, called)
	})

	t.Run("extractor error propagates", func(t *testing.T) {
		called := false
		boom := errors.New("boom")
		h := newHandler(t, func(*http.Request) ([]byte, error) { return nil, boom }, &called)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		err := h.Handle(httptest.NewRecorder(), req)
		assert.ErrorIs(t, err, boom)
		assert.False(t, called)
	})
}

func TestHandler_DecodeErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	secret := []byte("s")
	onEvent := mocks.NewMockEventHandler(ctrl)
	onEvent.EXPECT().HandleEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	h, err := webhook.NewHandler(webhook.Options{Secret: secret, OnEvent: onEvent, Logger: testLogger})
	require.NoError(t, err)

	for _, body := range []string{`not json`, `[1,2,3]`, `null`} {
		t.Run(body, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			req.Header.Set(webhook.HeaderSignature, sign(t, secret, []byte(body)))

			err := h.Handle(httptest.NewRecorder(), req)
			assert.ErrorIs(t, err, webhook.ErrDecodeBody)

			req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			req.Header.Set(webhook.HeaderSignature, sign(t, secret, []byte(body)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_HandlerErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	secret := []byte("s")
	body := []byte(`{"event_type":"mail.received"}`)
	storeErr := errors.New("store unavailable")

	onEvent := mocks.NewMockEventHandler(ctrl)
	onEvent.EXPECT().HandleEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(storeErr).Times(2)

	var reported error
	h, err := webhook.NewHandler(webhook.Options{
		Secret:  secret,
		OnEvent: onEvent,
		Logger:  testLogger,
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			reported = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, body))
	rec := httptest.NewRecorder()
	assert.ErrorIs(t, h.Handle(rec, req), storeErr)
	assert.Equal(t, 0, rec.Body.Len(), "no auto response after handler error")

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.ErrorIs(t, reported, storeErr)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_HandlerWritesOwnResponse(t *testing.T) {
	secret := []byte("s")
	body := []byte(`{"form_id":"f1","events":[]}`)

	h, err := webhook.NewHandler(webhook.Options{
		Secret: secret,
		Logger: testLogger,
		OnEvent: webhook.EventHandlerFunc(func(_ context.Context, _ *webhook.Event, w http.ResponseWriter, _ *http.Request) error {
			w.WriteHeader(http.StatusAccepted)
			_, err := w.Write([]byte(`{"queued":true}`))
			return err
		}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, `{"queued":true}`, rec.Body.String())
}

func TestHandler_DisableAutoRespond(t *testing.T) {
	secret := []byte("s")
	body := []byte(`{}`)

	h, err := webhook.NewHandler(webhook.Options{
		Secret:             secret,
		DisableAutoRespond: true,
		Logger:             testLogger,
		OnEvent: webhook.EventHandlerFunc(func(context.Context, *webhook.Event, http.ResponseWriter, *http.Request) error {
			return nil
		}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, body))
	rec := httptest.NewRecorder()
	require.NoError(t, h.Handle(rec, req))

	assert.Equal(t, 0, rec.Body.Len())
}

func TestHandler_CustomHeadersAndEncoding(t *testing.T) {
	secret := []byte("s")
	body := []byte(`{"status":"MessageSent","message":{}}`)
	sig, err := webhook.ComputeSignature(secret, body, webhook.EncodingBase64)
	require.NoError(t, err)

	var got *webhook.Event
	h, err := webhook.NewHandler(webhook.Options{
		Secret:          secret,
		SignatureHeader: "X-Signature",
		EventHeader:     "X-Event",
		Encoding:        webhook.EncodingBase64,
		Logger:          testLogger,
		OnEvent: webhook.EventHandlerFunc(func(_ context.Context, ev *webhook.Event, _ http.ResponseWriter, _ *http.Request) error {
			got = ev
			return nil
		}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("X-Signature", sig)
	req.Header.Set("X-Event", "message.sent")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, sig, got.Headers[webhook.HeaderSignature])
	assert.Equal(t, "message.sent", got.Headers[webhook.HeaderEvent])
}

func TestHandler_BodyTooLarge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	secret := []byte("s")
	body := bytes.Repeat([]byte("a"), 2048)

	onEvent := mocks.NewMockEventHandler(ctrl)
	h, err := webhook.NewHandler(webhook.Options{Secret: secret, OnEvent: onEvent, MaxBodySize: 1024, Logger: testLogger})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, sign(t, secret, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNewHandler_Validation(t *testing.T) {
	noop := webhook.EventHandlerFunc(func(context.Context, *webhook.Event, http.ResponseWriter, *http.Request) error { return nil })

	_, err := webhook.NewHandler(webhook.Options{Secret: []byte("s")})
	assert.ErrorIs(t, err, webhook.ErrNoHandler)

	_, err = webhook.NewHandler(webhook.Options{OnEvent: noop})
	assert.ErrorIs(t, err, webhook.ErrEmptySecret)

	_, err = webhook.NewHandler(webhook.Options{OnEvent: noop, AllowUnsigned: true})
	assert.NoError(t, err)

	_, err = webhook.NewHandler(webhook.Options{Secret: []byte("s"), OnEvent: noop, Encoding: "base32"})
	assert.Error(t, err)
}

func TestRequireSharedSecret(t *testing.T) {
	mw, err := webhook.RequireSharedSecret("inbound-secret", "", testLogger)
	require.NoError(t, err)

	reached := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		provided string
		want     int
		reached  bool
	}{
		{name: "match", provided: "inbound-secret", want: http.StatusNoContent, reached: true},
		{name: "mismatch", provided: "inbound-secret-x", want: http.StatusUnauthorized},
		{name: "missing", provided: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(`{}`))
			if tt.provided != "" {
				req.Header.Set(webhook.HeaderSharedSecret, tt.provided)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.reached, reached)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"ok":false,"error":"Invalid Venmail secret"}`, rec.Body.String())
			}
		})
	}

	_, err = webhook.RequireSharedSecret("", "", nil)
	assert.ErrorIs(t, err, webhook.ErrEmptySecret)
}
