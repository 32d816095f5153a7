package router

import (
	"net/http"
	"strings"
)

const mediaTokenQuery = "media_token"

// requireMediaToken guards the PBX media websocket with a shared
// token. The PBX cannot carry a JWT, so the token rides in the query
// string of the stream URL it is provisioned with. When expected is
// empty, the middleware is a no-op.
func requireMediaToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.URL.Query().Get(mediaTokenQuery))
			if token == "" || token != expected {
				http.Error(w, "invalid media token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
