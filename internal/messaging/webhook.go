package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/retrypolicy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// WebhookOutcome reports what processing a status callback did.
type WebhookOutcome struct {
	MessageID      uuid.UUID
	Status         Status
	Action         string // "status_updated", "retry_scheduled", "duplicate", "not_found"
	RetryScheduled bool
	NextRetryAt    *time.Time
}

// WebhookProcessor applies provider status callbacks to tracked messages.
// Events are deduplicated on (provider_message_id, event_type, timestamp)
// and transitions are forward-only, so redelivered or late callbacks are
// harmless.
type WebhookProcessor struct {
	store     *Store
	clk       clock.Clock
	logger    *logging.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func NewWebhookProcessor(store *Store, clk clock.Clock, logger *logging.Logger, retryBase, retryMax time.Duration) *WebhookProcessor {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if retryBase <= 0 {
		retryBase = time.Minute
	}
	return &WebhookProcessor{
		store:     store,
		clk:       clk,
		logger:    logger.WithComponent("sms_webhook"),
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

// ProcessStatus handles one Twilio status callback.
func (p *WebhookProcessor) ProcessStatus(ctx context.Context, hook *TwilioStatusWebhook) (*WebhookOutcome, error) {
	duplicate, err := p.store.RecordWebhookEvent(ctx, nil, hook.MessageSid, hook.TwilioStatus, hook.ReceivedAt.Truncate(time.Second))
	if err != nil {
		return nil, err
	}
	if duplicate {
		p.logger.Info("duplicate sms webhook ignored", "sid", hook.MessageSid, "status", hook.TwilioStatus)
		return &WebhookOutcome{Action: "duplicate", Status: hook.Status}, nil
	}

	err = p.store.UpdateDeliveryStatus(ctx, nil, hook.MessageSid, hook.Status, hook.ErrorCode, hook.ErrorMessage, nil)
	if errors.Is(err, ErrNotFound) {
		p.logger.Warn("sms webhook for unknown message", "sid", hook.MessageSid)
		return &WebhookOutcome{Action: "not_found", Status: hook.Status}, nil
	}
	if err != nil {
		return nil, err
	}

	outcome := &WebhookOutcome{Action: "status_updated", Status: hook.Status}

	if hook.Status == StatusFailed || hook.Status == StatusUndelivered {
		msg, err := p.store.GetByProviderMessageID(ctx, hook.MessageSid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return outcome, nil
			}
			return nil, err
		}
		outcome.MessageID = msg.ID
		if TwilioShouldRetry(hook.ErrorCode) && msg.CanRetry() {
			delay := retrypolicy.Backoff(p.retryBase, msg.RetryCount, p.retryMax)
			next := p.clk.Now().UTC().Add(delay)
			if err := p.store.ScheduleRetry(ctx, nil, msg.ID, next); err != nil {
				return nil, fmt.Errorf("messaging: webhook retry: %w", err)
			}
			outcome.Action = "retry_scheduled"
			outcome.RetryScheduled = true
			outcome.NextRetryAt = &next
			p.logger.Info("sms marked for retry",
				"message_id", msg.ID, "retry_count", msg.RetryCount+1, "next_retry_at", next)
		}
		return outcome, nil
	}

	if msg, err := p.store.GetByProviderMessageID(ctx, hook.MessageSid); err == nil {
		outcome.MessageID = msg.ID
	}
	return outcome, nil
}
