package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itf-gmbh/phone-agent/internal/control"
	"github.com/itf-gmbh/phone-agent/internal/http/handlers"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

const testAdminSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	controller := control.NewController(nil, logger)

	cfg := &Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(nil),
		Control:         handlers.NewControlHandler(controller, logger),
		Webhooks:        handlers.NewWebhookHandler(handlers.WebhookConfig{Logger: logger}),
		AdminAuthSecret: testAdminSecret,
		MediaToken:      "pbx-token",
		MediaHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	return New(cfg)
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterAdminRequiresJWT(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/campaigns/reminders/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterAdminAcceptsSignedToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/campaigns/reminders/stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The test controller carries no reminder workflow, so the command
	// surface answers 503. Auth must already have passed for that.
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterAdminRejectsForeignToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/campaigns/reminders/stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "wrong-secret"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterMediaTokenGuard(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without media token, got %d", http.StatusUnauthorized, rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/media?media_token=pbx-token", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d with media token, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterWebhookWithoutProcessorAnswers503(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid/events", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterSweepStaleRequiresTenantHeader(t *testing.T) {
	logger := logging.Default()
	cfg := &Config{
		Logger:          logger,
		Tasks:           handlers.NewTaskHandler(nil, logger),
		AdminAuthSecret: testAdminSecret,
	}
	router := New(cfg)

	req := httptest.NewRequest(http.MethodPost, "/admin/tasks/sweep-stale", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d without tenant header, got %d", http.StatusBadRequest, rr.Code)
	}
}
