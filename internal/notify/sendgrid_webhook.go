package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/retrypolicy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// SendGridEvent is one entry of a SendGrid event webhook batch.
type SendGridEvent struct {
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	Type        string `json:"type"` // bounce classification: "bounce" or "blocked"
	URL         string `json:"url"`
}

// MessageID strips the internal filter suffix SendGrid appends to the id
// returned at send time.
func (e SendGridEvent) MessageID() string {
	if i := strings.IndexByte(e.SGMessageID, '.'); i > 0 {
		return e.SGMessageID[:i]
	}
	return e.SGMessageID
}

// ParseSendGridEvents decodes a webhook body, which is always a JSON array.
func ParseSendGridEvents(body []byte) ([]SendGridEvent, error) {
	var events []SendGridEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("notify: parse sendgrid events: %w", err)
	}
	return events, nil
}

// EventOutcome reports what processing one event did.
type EventOutcome struct {
	Event          string
	Action         string // "status_updated", "engagement", "retry_scheduled", "duplicate", "not_found", "ignored"
	RetryScheduled bool
}

// SendGridWebhookProcessor applies SendGrid events to tracked emails.
// Deferred deliveries and soft bounces schedule a retry; hard bounces and
// drops are final.
type SendGridWebhookProcessor struct {
	store     *Store
	clk       clock.Clock
	logger    *logging.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func NewSendGridWebhookProcessor(store *Store, clk clock.Clock, logger *logging.Logger, retryBase, retryMax time.Duration) *SendGridWebhookProcessor {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if retryBase <= 0 {
		retryBase = 5 * time.Minute
	}
	return &SendGridWebhookProcessor{
		store:     store,
		clk:       clk,
		logger:    logger.WithComponent("email_webhook"),
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

// ProcessBatch handles a full webhook delivery. Individual event failures
// are logged and do not abort the batch.
func (p *SendGridWebhookProcessor) ProcessBatch(ctx context.Context, events []SendGridEvent) []EventOutcome {
	outcomes := make([]EventOutcome, 0, len(events))
	for _, event := range events {
		outcome, err := p.ProcessEvent(ctx, event)
		if err != nil {
			p.logger.Error("sendgrid event failed", "event", event.Event, "message_id", event.MessageID(), "error", err)
			outcome = &EventOutcome{Event: event.Event, Action: "error"}
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes
}

// ProcessEvent handles one event idempotently.
func (p *SendGridWebhookProcessor) ProcessEvent(ctx context.Context, event SendGridEvent) (*EventOutcome, error) {
	messageID := event.MessageID()
	if messageID == "" {
		return &EventOutcome{Event: event.Event, Action: "ignored"}, nil
	}
	eventTime := time.Unix(event.Timestamp, 0).UTC()

	duplicate, err := p.store.RecordWebhookEvent(ctx, nil, messageID, event.Event, eventTime)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &EventOutcome{Event: event.Event, Action: "duplicate"}, nil
	}

	switch event.Event {
	case "processed":
		return p.applyStatus(ctx, event, messageID, StatusSent, "")
	case "delivered":
		return p.applyStatus(ctx, event, messageID, StatusDelivered, "")
	case "dropped":
		return p.applyStatus(ctx, event, messageID, StatusFailed, event.Reason)
	case "deferred":
		return p.applyRetryableFailure(ctx, event, messageID, StatusFailed)
	case "bounce":
		if event.Type == "blocked" {
			// Blocks are transient on SendGrid's side.
			return p.applyRetryableFailure(ctx, event, messageID, StatusBounced)
		}
		return p.applyStatus(ctx, event, messageID, StatusBounced, event.Reason)
	case "spamreport":
		return p.applyStatus(ctx, event, messageID, StatusSpam, "")
	case "unsubscribe":
		return p.applyStatus(ctx, event, messageID, StatusUnsubscribed, "")
	case "open", "click":
		if err := p.store.RecordEngagement(ctx, nil, messageID, event.Event); err != nil {
			return nil, err
		}
		return &EventOutcome{Event: event.Event, Action: "engagement"}, nil
	default:
		p.logger.Info("unhandled sendgrid event", "event", event.Event)
		return &EventOutcome{Event: event.Event, Action: "ignored"}, nil
	}
}

func (p *SendGridWebhookProcessor) applyStatus(ctx context.Context, event SendGridEvent, messageID string, to Status, reason string) (*EventOutcome, error) {
	err := p.store.UpdateDeliveryStatus(ctx, nil, messageID, to, reason)
	if errors.Is(err, ErrNotFound) {
		p.logger.Warn("sendgrid event for unknown message", "message_id", messageID, "event", event.Event)
		return &EventOutcome{Event: event.Event, Action: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &EventOutcome{Event: event.Event, Action: "status_updated"}, nil
}

func (p *SendGridWebhookProcessor) applyRetryableFailure(ctx context.Context, event SendGridEvent, messageID string, to Status) (*EventOutcome, error) {
	outcome, err := p.applyStatus(ctx, event, messageID, to, event.Reason)
	if err != nil || outcome.Action != "status_updated" {
		return outcome, err
	}
	record, err := p.store.GetByProviderMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return outcome, nil
		}
		return nil, err
	}
	if !record.CanRetry() {
		return outcome, nil
	}
	delay := retrypolicy.Backoff(p.retryBase, record.RetryCount, p.retryMax)
	next := p.clk.Now().UTC().Add(delay)
	if err := p.store.ScheduleRetry(ctx, nil, record.ID, next); err != nil {
		return nil, err
	}
	p.logger.Info("email marked for retry",
		"email_id", record.ID, "event", event.Event, "retry_count", record.RetryCount+1, "next_retry_at", next)
	return &EventOutcome{Event: event.Event, Action: "retry_scheduled", RetryScheduled: true}, nil
}
