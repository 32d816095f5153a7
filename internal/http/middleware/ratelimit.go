package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedSenders bounds the limiter map before idle entries are
// swept out.
const maxTrackedSenders = 10000

// webhookLimiter throttles provider callbacks. Twilio posts one status
// update per SMS segment and SendGrid delivers event batches, so the
// limiter keys on provider and caller address together: a runaway
// sender cannot starve the other provider's callbacks.
type webhookLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	senders map[string]*senderState
}

type senderState struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newWebhookLimiter(perSecond float64, burst int) *webhookLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &webhookLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		senders:   make(map[string]*senderState),
	}
}

func (l *webhookLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	s, ok := l.senders[key]
	if !ok {
		s = &senderState{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.senders[key] = s
	}
	s.lastSeen = now
	if len(l.senders) > maxTrackedSenders {
		l.evictIdleLocked(now)
	}
	l.mu.Unlock()
	return s.lim.AllowN(now, 1)
}

// evictIdleLocked drops senders that have been quiet for ten minutes.
// Caller holds l.mu.
func (l *webhookLimiter) evictIdleLocked(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for key, s := range l.senders {
		if s.lastSeen.Before(cutoff) {
			delete(l.senders, key)
		}
	}
}

// WebhookRateLimit rejects callbacks above perSecond with 429 once the
// burst allowance is spent. Limits apply per provider and caller.
func WebhookRateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiter := newWebhookLimiter(perSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := webhookProvider(r.URL.Path) + "|" + callerIP(r)
			if !limiter.allow(key, time.Now()) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// webhookProvider extracts the provider segment from
// /webhooks/{provider}/... paths.
func webhookProvider(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return parts[1]
	}
	return path
}

func callerIP(r *http.Request) string {
	// X-Real-Ip is set by chi's RealIP middleware.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
