package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func limitedHandler(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func webhookRequest(path, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("X-Real-Ip", ip)
	return req
}

func TestWebhookRateLimitExhaustsBurst(t *testing.T) {
	// One token per second with a burst of 2: the third immediate
	// request must bounce.
	h := limitedHandler(WebhookRateLimit(1, 2))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestWebhookRateLimitIsolatesProviders(t *testing.T) {
	h := limitedHandler(WebhookRateLimit(1, 1))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("twilio status = %d, want 200", rec.Code)
	}

	// Twilio has spent its token; SendGrid callbacks from the same
	// address still get through.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second twilio status = %d, want 429", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/sendgrid/events", "10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("sendgrid status = %d, want 200", rec.Code)
	}
}

func TestWebhookRateLimitIsolatesCallers(t *testing.T) {
	h := limitedHandler(WebhookRateLimit(1, 1))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first caller status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("/webhooks/twilio/sms-status", "10.0.0.2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("second caller status = %d, want 200", rec.Code)
	}
}

func TestWebhookProviderSegment(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/webhooks/twilio/sms-status", "twilio"},
		{"/webhooks/sendgrid/events", "sendgrid"},
		{"/webhooks", "/webhooks"},
	}
	for _, tc := range cases {
		if got := webhookProvider(tc.path); got != tc.want {
			t.Errorf("webhookProvider(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
