package notify

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

func TestParseSendGridEvents(t *testing.T) {
	body := []byte(`[
		{"email":"kunde@example.de","timestamp":1772000000,"event":"delivered","sg_message_id":"abc123.filterdrecv-1-2"},
		{"email":"kunde@example.de","timestamp":1772000100,"event":"bounce","type":"blocked","reason":"mailbox full","sg_message_id":"def456.xyz"}
	]`)
	events, err := ParseSendGridEvents(body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "delivered", events[0].Event)
	assert.Equal(t, "abc123", events[0].MessageID())
	assert.Equal(t, "def456", events[1].MessageID())
	assert.Equal(t, "blocked", events[1].Type)

	_, err = ParseSendGridEvents([]byte(`{"not":"an array"}`))
	require.Error(t, err)
}

func TestProcessEventDelivered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	store := NewStore(mock, clock.Fixed{T: now})
	proc := NewSendGridWebhookProcessor(store, clock.Fixed{T: now}, nil, 5*time.Minute, time.Hour)

	mock.ExpectExec("INSERT INTO email_webhook_events").
		WithArgs("abc123", "delivered", time.Unix(1772000000, 0).UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE email_messages").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome, err := proc.ProcessEvent(context.Background(), SendGridEvent{
		Event:       "delivered",
		Timestamp:   1772000000,
		SGMessageID: "abc123.filter",
	})
	require.NoError(t, err)
	assert.Equal(t, "status_updated", outcome.Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEventDuplicateIsNoOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	store := NewStore(mock, clock.Fixed{T: now})
	proc := NewSendGridWebhookProcessor(store, clock.Fixed{T: now}, nil, 5*time.Minute, time.Hour)

	mock.ExpectExec("INSERT INTO email_webhook_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	outcome, err := proc.ProcessEvent(context.Background(), SendGridEvent{
		Event:       "delivered",
		Timestamp:   1772000000,
		SGMessageID: "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "duplicate", outcome.Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEventOpenRecordsEngagement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	store := NewStore(mock, clock.Fixed{T: now})
	proc := NewSendGridWebhookProcessor(store, clock.Fixed{T: now}, nil, 5*time.Minute, time.Hour)

	mock.ExpectExec("INSERT INTO email_webhook_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE email_messages").
		WithArgs("abc123", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome, err := proc.ProcessEvent(context.Background(), SendGridEvent{
		Event:       "open",
		Timestamp:   1772000000,
		SGMessageID: "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "engagement", outcome.Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventWithoutMessageIDIsIgnored(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock, clock.Fixed{T: time.Now()})
	proc := NewSendGridWebhookProcessor(store, nil, nil, 0, 0)

	outcome, err := proc.ProcessEvent(context.Background(), SendGridEvent{Event: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, "ignored", outcome.Action)
}
