// Package webhook verifies and normalizes Venmail webhook callbacks.
//
// Venmail signs every callback with HMAC-SHA256 over the raw request body using a
// per-integration secret. Some older endpoints instead send a static shared secret in a
// header. This package checks both, classifies the decoded payload into one of the known
// shapes, and turns delivery status and bounce payloads into a single DeliveryEvent.
//
// # Security Model
//
//   - HMAC-SHA256 signatures verified with crypto/subtle (constant-time comparison)
//   - An empty secret is a configuration error (ErrEmptySecret), never a failed match
//   - Missing or malformed signatures are a failed match, never an error
//   - Rejections always return the same generic 401 body
//
// # Payload Shapes
//
// Payloads carry no explicit type tag (except integration events), so Classify checks
// structural predicates in a fixed order and the first match wins:
//
//  1. integration: "event_type" is a string
//  2. form: "form_id" and an "events" array
//  3. bounce: "original_message" and "bounce" objects
//  4. status: a "status" string and a "message" object
//  5. mail: "message_id" and "rcpt_to"
//  6. unknown: anything else
//
// # Request Flow
//
//  1. Raw body extracted (RawBody option, context stash, or request body)
//  2. Signature header read and verified (unless AllowUnsigned)
//  3. Body decoded as a JSON object
//  4. Event built with the resolved event type and signature headers
//  5. OnEvent invoked
//  6. 200 {"ok":true} written unless the handler already responded
//
// # Example Usage
//
//	h, err := webhook.NewHandler(webhook.Options{
//		Secret: []byte(os.Getenv("VENMAIL_WEBHOOK_SECRET")),
//		OnEvent: webhook.EventHandlerFunc(func(ctx context.Context, ev *webhook.Event, w http.ResponseWriter, r *http.Request) error {
//			switch webhook.Classify(ev.Body).Kind {
//			case webhook.KindStatus, webhook.KindBounce:
//				return store.Save(ctx, webhook.Normalize(ev.Body))
//			}
//			return nil
//		}),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	http.Handle("/webhooks/venmail", h)
package webhook
