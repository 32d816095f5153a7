package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/retrypolicy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Dispatcher enqueues emails and pushes pending ones through the sender.
type Dispatcher struct {
	store     *Store
	sender    EmailSender
	auditLog  *audit.Logger
	clk       clock.Clock
	logger    *logging.Logger
	provider  string
	retryBase time.Duration
	retryMax  time.Duration
}

func NewDispatcher(store *Store, sender EmailSender, provider string, auditLog *audit.Logger, clk clock.Clock, logger *logging.Logger, retryBase, retryMax time.Duration) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if retryBase <= 0 {
		retryBase = 5 * time.Minute
	}
	return &Dispatcher{
		store:     store,
		sender:    sender,
		auditLog:  auditLog,
		clk:       clk,
		logger:    logger.WithComponent("email_dispatcher"),
		provider:  provider,
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

// Enqueue persists a new pending email for the next sweep.
func (d *Dispatcher) Enqueue(ctx context.Context, e *EmailRecord) error {
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	return d.store.Insert(ctx, nil, e)
}

// Dispatch sends one email and records the outcome. A send error with
// attempts left schedules the next attempt via the shared backoff policy.
func (d *Dispatcher) Dispatch(ctx context.Context, e *EmailRecord) error {
	e.Provider = d.provider
	result, err := d.sender.Send(ctx, EmailMessage{
		To:      e.ToAddress,
		Subject: e.Subject,
		Body:    e.Body,
		HTML:    e.HTML,
	})
	now := d.clk.Now().UTC()
	if err != nil {
		e.MarkFailed(err.Error(), now)
		if e.CanRetry() {
			delay := retrypolicy.Backoff(d.retryBase, e.RetryCount, d.retryMax)
			e.IncrementRetry(delay, now)
			d.logger.Info("email send failed, retry scheduled",
				"email_id", e.ID, "retry_count", e.RetryCount, "next_retry_at", e.NextRetryAt)
		} else {
			d.logger.Warn("email send failed permanently", "email_id", e.ID, "error", err)
		}
		return d.store.SaveSendResult(ctx, nil, e)
	}

	e.MarkSent(result.ProviderMessageID, now)
	if err := d.store.SaveSendResult(ctx, nil, e); err != nil {
		return err
	}

	if d.auditLog != nil {
		details, _ := json.Marshal(map[string]any{
			"provider":  e.Provider,
			"reference": e.Reference,
		})
		if _, err := d.auditLog.Append(ctx, audit.Entry{
			TenantID:     e.TenantID,
			Action:       audit.ActionEmailSent,
			ActorID:      "email_dispatcher",
			ResourceType: "email_message",
			ResourceID:   e.ID.String(),
			SubjectID:    e.ContactID,
			Details:      details,
		}); err != nil {
			d.logger.Error("audit append failed", "error", err)
		}
	}
	return nil
}

// SweepOnce dispatches up to limit due pending emails.
func (d *Dispatcher) SweepOnce(ctx context.Context, limit int) (int, error) {
	candidates, err := d.store.ListSendCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, e := range candidates {
		if err := d.Dispatch(ctx, e); err != nil {
			d.logger.Error("email dispatch failed", "email_id", e.ID, "error", err)
		}
	}
	if len(candidates) > 0 {
		d.logger.Info("email sweep complete", "dispatched", len(candidates))
	}
	return len(candidates), nil
}
