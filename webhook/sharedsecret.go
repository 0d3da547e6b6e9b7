package webhook

import (
	"log/slog"
	"net/http"
)

// RequireSharedSecret returns middleware that admits only requests whose header
// carries secret. header defaults to x-venmail-secret. An empty secret is a
// configuration error.
func RequireSharedSecret(secret, header string, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if header == "" {
		header = HeaderSharedSecret
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := VerifySharedSecret(secret, r.Header.Get(header))
			if err != nil || !ok {
				logger.Warn("webhook shared secret rejected",
					"path", r.URL.Path,
					"header", header,
				)
				respondJSON(w, http.StatusUnauthorized, ResponseBody{OK: false, Error: MsgInvalidSecret})
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
