package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/control"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/internal/observability/metrics"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

type smsStatusSink interface {
	HandleSMSWebhook(ctx context.Context, hook *messaging.TwilioStatusWebhook) (*messaging.WebhookOutcome, error)
}

type emailEventSink interface {
	HandleEmailWebhook(ctx context.Context, events []notify.SendGridEvent) ([]notify.EventOutcome, error)
}

// WebhookHandler terminates the delivery status callbacks of the SMS
// and email providers.
type WebhookHandler struct {
	sms   smsStatusSink
	email emailEventSink

	// Twilio signs callbacks against the exact public URL they were
	// delivered to. An empty auth token disables validation, for tests
	// and local runs.
	twilioAuthToken  string
	twilioWebhookURL string

	metrics *metrics.DeliveryMetrics
	clk     clock.Clock
	logger  *logging.Logger
}

type WebhookConfig struct {
	SMS              smsStatusSink
	Email            emailEventSink
	TwilioAuthToken  string
	TwilioWebhookURL string
	Metrics          *metrics.DeliveryMetrics
	Clock            clock.Clock
	Logger           *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		sms:              cfg.SMS,
		email:            cfg.Email,
		twilioAuthToken:  cfg.TwilioAuthToken,
		twilioWebhookURL: cfg.TwilioWebhookURL,
		metrics:          cfg.Metrics,
		clk:              cfg.Clock,
		logger:           cfg.Logger.WithComponent("http_webhooks"),
	}
}

// HandleTwilioStatus processes POST /webhooks/twilio/sms-status.
func (h *WebhookHandler) HandleTwilioStatus(w http.ResponseWriter, r *http.Request) {
	if h.sms == nil {
		http.Error(w, "sms webhook processing not configured", http.StatusServiceUnavailable)
		return
	}
	if h.twilioAuthToken != "" {
		if !messaging.ValidateTwilioSignature(r, h.twilioAuthToken, h.twilioWebhookURL) {
			h.logger.Warn("rejected twilio callback with bad signature",
				"remote_ip", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	hook, err := messaging.ParseTwilioStatusWebhook(r, h.clk.Now())
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	start := h.clk.Now()
	outcome, err := h.sms.HandleSMSWebhook(r.Context(), hook)
	if err != nil {
		if errors.Is(err, control.ErrNotConfigured) {
			http.Error(w, "sms webhook processing not configured", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("sms status processing failed",
			"message_sid", hook.MessageSid, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveTransition("sms", string(outcome.Status))
	h.metrics.ObserveWebhookLatency("sms", h.clk.Now().Sub(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"action":          outcome.Action,
		"retry_scheduled": outcome.RetryScheduled,
	})
}

// HandleSendGridEvents processes POST /webhooks/sendgrid/events.
// SendGrid delivers events in JSON array batches.
func (h *WebhookHandler) HandleSendGridEvents(w http.ResponseWriter, r *http.Request) {
	if h.email == nil {
		http.Error(w, "email webhook processing not configured", http.StatusServiceUnavailable)
		return
	}
	var events []notify.SendGridEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	outcomes, err := h.email.HandleEmailWebhook(r.Context(), events)
	if err != nil {
		if errors.Is(err, control.ErrNotConfigured) {
			http.Error(w, "email webhook processing not configured", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("sendgrid batch processing failed", "events", len(events), "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	retries := 0
	for _, o := range outcomes {
		if o.RetryScheduled {
			retries++
		}
		h.metrics.ObserveTransition("email", o.Event)
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"processed":         len(outcomes),
		"retries_scheduled": retries,
	})
}
