// Package middleware provides HTTP middleware for the negotiator service.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/verdictlabs/negotiator/pkg/logger"
)

// APIKeyHeader is the header carrying the caller's key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey returns a middleware enforcing the configured key on
// mutating operations. An empty configured key disables the check.
func RequireAPIKey(key string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			supplied := r.Header.Get(APIKeyHeader)
			if supplied == "" {
				// Accept "Authorization: Bearer <key>" as an alias.
				authHeader := r.Header.Get("Authorization")
				if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					supplied = parts[1]
				}
			}

			if subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
				log.Warn("rejected request with missing or invalid API key",
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error": "missing or invalid API key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
