// Package messaging tracks outbound SMS through their delivery lifecycle:
// pending -> queued -> sent -> delivered, with failed/undelivered branches
// that may be retried until max_retries is exhausted.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusUndelivered Status = "undelivered"
)

// statusRank orders the forward-only progression. Failure states sit above
// sent so a late "sent" callback can never overwrite a failure, and nothing
// outranks delivered.
var statusRank = map[Status]int{
	StatusPending:     0,
	StatusQueued:      1,
	StatusSent:        2,
	StatusFailed:      3,
	StatusUndelivered: 3,
	StatusDelivered:   4,
}

// CanTransition reports whether moving from one status to another respects
// the forward-only rule. Equal ranks other than self-transitions are allowed
// so failed and undelivered can correct each other.
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
		return false
	}
	return tr >= fr
}

// MessageType categorizes what the SMS is for.
type MessageType string

const (
	TypeConfirmation MessageType = "confirmation"
	TypeReminder     MessageType = "reminder"
	TypeCancellation MessageType = "cancellation"
	TypeNotification MessageType = "notification"
	TypeMarketing    MessageType = "marketing"
)

// Message is one outbound SMS with its full delivery-tracking state.
type Message struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ToNumber   string
	FromNumber string
	Body       string
	Segments   int

	Provider          string
	ProviderMessageID string

	Status       Status
	ErrorCode    string
	ErrorMessage string

	QueuedAt    *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time

	CostEUR float64

	MessageType MessageType
	Reference   string

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	AppointmentID *uuid.UUID
	ContactID     *uuid.UUID
	CallID        *uuid.UUID

	WebhookReceived bool
	LastWebhookAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMessage builds a pending message with the defaults applied.
func NewMessage(tenantID uuid.UUID, to, from, body string) *Message {
	return &Message{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ToNumber:    to,
		FromNumber:  from,
		Body:        body,
		Segments:    CountSegments(body),
		Status:      StatusPending,
		MessageType: TypeNotification,
		MaxRetries:  3,
	}
}

func (m *Message) MarkQueued(now time.Time) {
	m.Status = StatusQueued
	m.QueuedAt = &now
}

func (m *Message) MarkSent(providerMessageID string, now time.Time) {
	m.Status = StatusSent
	m.ProviderMessageID = providerMessageID
	m.SentAt = &now
}

func (m *Message) MarkDelivered(now time.Time) {
	m.Status = StatusDelivered
	m.DeliveredAt = &now
}

func (m *Message) MarkFailed(errorCode, errorMessage string, now time.Time) {
	m.Status = StatusFailed
	m.ErrorCode = errorCode
	m.ErrorMessage = errorMessage
	m.FailedAt = &now
}

func (m *Message) MarkUndelivered(errorCode, errorMessage string, now time.Time) {
	m.Status = StatusUndelivered
	m.ErrorCode = errorCode
	m.ErrorMessage = errorMessage
	m.FailedAt = &now
}

// CanRetry reports whether the message is in a retryable state with attempts
// remaining.
func (m *Message) CanRetry() bool {
	if m.Status != StatusFailed && m.Status != StatusUndelivered {
		return false
	}
	return m.RetryCount < m.MaxRetries
}

// IncrementRetry books one retry attempt and puts the message back to
// pending so the sweeper picks it up after the delay.
func (m *Message) IncrementRetry(delay time.Duration, now time.Time) {
	m.RetryCount++
	m.Status = StatusPending
	next := now.Add(delay)
	m.NextRetryAt = &next
}

// RecordWebhook notes that a provider status callback arrived.
func (m *Message) RecordWebhook(now time.Time) {
	m.WebhookReceived = true
	m.LastWebhookAt = &now
}

// CountSegments estimates GSM-7 segment count for billing hints. Messages
// over 160 chars split into 153-char segments.
func CountSegments(body string) int {
	n := len([]rune(body))
	if n == 0 {
		return 0
	}
	if n <= 160 {
		return 1
	}
	return (n + 152) / 153
}
