package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/retrypolicy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Sender enqueues messages and pushes pending ones through the gateway.
type Sender struct {
	store     *Store
	gateway   Gateway
	auditLog  *audit.Logger
	clk       clock.Clock
	logger    *logging.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func NewSender(store *Store, gateway Gateway, auditLog *audit.Logger, clk clock.Clock, logger *logging.Logger, retryBase, retryMax time.Duration) *Sender {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if retryBase <= 0 {
		retryBase = time.Minute
	}
	return &Sender{
		store:     store,
		gateway:   gateway,
		auditLog:  auditLog,
		clk:       clk,
		logger:    logger.WithComponent("sms_sender"),
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

// Enqueue persists a new pending message for the next sweep.
func (s *Sender) Enqueue(ctx context.Context, m *Message) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = 3
	}
	m.ToNumber = NormalizeGermanNumber(m.ToNumber)
	if m.ToNumber == "" {
		return fmt.Errorf("messaging: enqueue: invalid recipient number")
	}
	return s.store.Insert(ctx, nil, m)
}

// Dispatch sends one message through the gateway and records the outcome.
// A retryable failure with attempts left schedules the next attempt using
// the shared backoff policy; exhausted or permanent failures stay failed.
func (s *Sender) Dispatch(ctx context.Context, m *Message) error {
	now := s.clk.Now().UTC()
	m.MarkQueued(now)
	m.Provider = s.gateway.Name()

	result, err := s.gateway.Send(ctx, m.ToNumber, m.FromNumber, m.Body)
	if err != nil {
		return fmt.Errorf("messaging: dispatch %s: %w", m.ID, err)
	}

	now = s.clk.Now().UTC()
	if result.Success {
		m.MarkSent(result.ProviderMessageID, now)
		if result.Status == StatusDelivered {
			m.MarkDelivered(now)
		}
		if result.Segments > 0 {
			m.Segments = result.Segments
		}
		if result.CostEUR > 0 {
			m.CostEUR = result.CostEUR
		}
	} else {
		m.MarkFailed(result.ErrorCode, result.ErrorMessage, now)
		if result.Retryable && m.CanRetry() {
			delay := retrypolicy.Backoff(s.retryBase, m.RetryCount, s.retryMax)
			m.IncrementRetry(delay, now)
			s.logger.Info("sms send failed, retry scheduled",
				"message_id", m.ID, "retry_count", m.RetryCount, "next_retry_at", m.NextRetryAt)
		} else {
			s.logger.Warn("sms send failed permanently",
				"message_id", m.ID, "error_code", result.ErrorCode, "error", result.ErrorMessage)
		}
	}

	if err := s.store.SaveSendResult(ctx, nil, m); err != nil {
		return err
	}

	if s.auditLog != nil && m.Status == StatusSent {
		details, _ := json.Marshal(map[string]any{
			"provider":     m.Provider,
			"segments":     m.Segments,
			"message_type": m.MessageType,
		})
		if _, err := s.auditLog.Append(ctx, audit.Entry{
			TenantID:     m.TenantID,
			Action:       audit.ActionSMSSent,
			ActorID:      "sms_sender",
			ResourceType: "sms_message",
			ResourceID:   m.ID.String(),
			SubjectID:    m.ContactID,
			Details:      details,
		}); err != nil {
			s.logger.Error("audit append failed", "error", err)
		}
	}
	return nil
}

// SweepOnce dispatches up to limit due pending messages and returns how
// many it attempted.
func (s *Sender) SweepOnce(ctx context.Context, limit int) (int, error) {
	candidates, err := s.store.ListSendCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, m := range candidates {
		if err := s.Dispatch(ctx, m); err != nil {
			s.logger.Error("sms dispatch failed", "message_id", m.ID, "error", err)
		}
	}
	return len(candidates), nil
}
