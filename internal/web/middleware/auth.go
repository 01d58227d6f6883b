package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header against
// the configured name:key pairs and records the key name on the requester.
// If RequireAPIKey is false, all requests pass through.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys, err := cfg.Keys()
	if err != nil {
		// Validate rejects this at startup; fail closed if it slips through.
		slog.Error("auth: invalid API_KEYS, rejecting all keys", "error", err)
		keys = nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			name, ok := lookupKey(apiKey, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			req := core.RequesterFromContext(r.Context())
			req.KeyName = name
			next.ServeHTTP(w, r.WithContext(core.ContextWithRequester(r.Context(), req)))
		})
	}
}

// lookupKey compares key against every configured key in constant time so
// timing does not reveal which key matched, or whether any did.
func lookupKey(key string, keys map[string]string) (string, bool) {
	var name string
	found := 0
	for candidate, n := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			name = n
			found = 1
		}
	}
	return name, found == 1
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
