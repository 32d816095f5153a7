package middleware

import (
	"net/http"
	"strings"
)

// The operator surface is called from the practice dashboard, which
// runs on its own origin. Browsers therefore need CORS headers; the
// PBX and the webhook providers never send an Origin.
type corsPolicy struct {
	allowAny bool
	origins  map[string]struct{}
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{})}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			p.allowAny = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

func (p corsPolicy) admits(origin string) bool {
	if p.allowAny {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS admits the configured dashboard origins. "*" in the list admits
// any origin; the request's Origin is always echoed back, never the
// wildcard, so credentialed dashboard requests keep working.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)

	const (
		allowedHeaders = "Authorization, Content-Type, X-Tenant-Id"
		allowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" && policy.admits(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
