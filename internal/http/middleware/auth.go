package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/princekumarofficial/transcode-service/internal/utils/response"
)

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check. Browsers cannot set headers on a
// websocket upgrade, so a "token" query parameter is accepted as well.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.URL.Query().Get("token")
			if provided == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					response.Unauthorized(w, "Authorization header required")
					return
				}
				if !strings.HasPrefix(authHeader, "Bearer ") {
					response.Unauthorized(w, "Invalid authorization header format")
					return
				}
				provided = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				response.Unauthorized(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
