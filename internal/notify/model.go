// Package notify sends and tracks outbound email, and fans out worker
// notifications over SMS and email when tasks are routed.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an email.
type Status string

const (
	StatusPending      Status = "pending"
	StatusQueued       Status = "queued"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusFailed       Status = "failed"
	StatusBounced      Status = "bounced"
	StatusSpam         Status = "spam"
	StatusUnsubscribed Status = "unsubscribed"
)

// statusRank orders the forward-only progression. Opens and clicks are
// engagement flags, not statuses, so a late "delivered" event after an open
// still lands in the right place.
var statusRank = map[Status]int{
	StatusPending:      0,
	StatusQueued:       1,
	StatusSent:         2,
	StatusFailed:       3,
	StatusBounced:      3,
	StatusDelivered:    4,
	StatusSpam:         5,
	StatusUnsubscribed: 5,
}

// CanTransition reports whether moving between statuses respects the
// forward-only rule. Spam and unsubscribe reports outrank delivered because
// they arrive after delivery.
func CanTransition(from, to Status) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == StatusDelivered {
		return to == StatusSpam || to == StatusUnsubscribed
	}
	return tr >= fr
}

// EmailRecord is one outbound email with its delivery-tracking state.
type EmailRecord struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ToAddress   string
	FromAddress string
	Subject     string
	Body        string
	HTML        string

	Provider          string
	ProviderMessageID string

	Status       Status
	ErrorMessage string

	Opened    bool
	Clicked   bool
	OpenedAt  *time.Time
	ClickedAt *time.Time

	QueuedAt    *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time

	Reference string

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	ContactID *uuid.UUID

	WebhookReceived bool
	LastWebhookAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEmailRecord builds a pending email with the defaults applied.
func NewEmailRecord(tenantID uuid.UUID, to, from, subject, body string) *EmailRecord {
	return &EmailRecord{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ToAddress:   to,
		FromAddress: from,
		Subject:     subject,
		Body:        body,
		Status:      StatusPending,
		MaxRetries:  3,
	}
}

func (e *EmailRecord) MarkSent(providerMessageID string, now time.Time) {
	e.Status = StatusSent
	e.ProviderMessageID = providerMessageID
	e.SentAt = &now
}

func (e *EmailRecord) MarkFailed(errorMessage string, now time.Time) {
	e.Status = StatusFailed
	e.ErrorMessage = errorMessage
	e.FailedAt = &now
}

// CanRetry reports whether the email may be attempted again.
func (e *EmailRecord) CanRetry() bool {
	if e.Status != StatusFailed && e.Status != StatusBounced {
		return false
	}
	return e.RetryCount < e.MaxRetries
}

// IncrementRetry books one retry attempt for the sweeper.
func (e *EmailRecord) IncrementRetry(delay time.Duration, now time.Time) {
	e.RetryCount++
	e.Status = StatusPending
	next := now.Add(delay)
	e.NextRetryAt = &next
}
