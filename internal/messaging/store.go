package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// ErrNotFound is returned when no message matches the lookup.
var ErrNotFound = errors.New("messaging: message not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists SMS delivery-tracking state in Postgres.
type Store struct {
	pool PgxPool
	clk  clock.Clock
}

func NewStore(pool PgxPool, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{pool: pool, clk: clk}
}

const messageColumns = `
	id, tenant_id, to_number, from_number, body, segments,
	provider, COALESCE(provider_message_id, ''), status,
	COALESCE(error_code, ''), COALESCE(error_message, ''),
	queued_at, sent_at, delivered_at, failed_at,
	cost_eur, message_type, COALESCE(reference, ''),
	retry_count, max_retries, next_retry_at,
	appointment_id, contact_id, call_id,
	webhook_received, last_webhook_at, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, q Querier, m *Message) error {
	if q == nil {
		q = s.pool
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Segments == 0 {
		m.Segments = CountSegments(m.Body)
	}
	query := `
		INSERT INTO sms_messages (
			id, tenant_id, to_number, from_number, body, segments,
			provider, provider_message_id, status, message_type, reference,
			retry_count, max_retries, next_retry_at,
			appointment_id, contact_id, call_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,NULLIF($11,''),$12,$13,$14,$15,$16,$17)
	`
	_, err := q.Exec(ctx, query, m.ID, m.TenantID, m.ToNumber, m.FromNumber, m.Body, m.Segments,
		m.Provider, m.ProviderMessageID, m.Status, m.MessageType, m.Reference,
		m.RetryCount, m.MaxRetries, m.NextRetryAt,
		m.AppointmentID, m.ContactID, m.CallID)
	if err != nil {
		return fmt.Errorf("messaging: insert message: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM sms_messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *Store) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Message, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM sms_messages WHERE provider_message_id = $1`, providerMessageID)
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.TenantID, &m.ToNumber, &m.FromNumber, &m.Body, &m.Segments,
		&m.Provider, &m.ProviderMessageID, &m.Status,
		&m.ErrorCode, &m.ErrorMessage,
		&m.QueuedAt, &m.SentAt, &m.DeliveredAt, &m.FailedAt,
		&m.CostEUR, &m.MessageType, &m.Reference,
		&m.RetryCount, &m.MaxRetries, &m.NextRetryAt,
		&m.AppointmentID, &m.ContactID, &m.CallID,
		&m.WebhookReceived, &m.LastWebhookAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: scan message: %w", err)
	}
	return &m, nil
}

// SaveSendResult persists the outcome of a gateway send attempt.
func (s *Store) SaveSendResult(ctx context.Context, q Querier, m *Message) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE sms_messages
		SET status = $2,
			provider = $3,
			provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id),
			error_code = NULLIF($5, ''),
			error_message = NULLIF($6, ''),
			segments = $7,
			cost_eur = $8,
			queued_at = COALESCE($9, queued_at),
			sent_at = COALESCE($10, sent_at),
			failed_at = COALESCE($11, failed_at),
			retry_count = $12,
			next_retry_at = $13,
			updated_at = now()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, m.ID, m.Status, m.Provider, m.ProviderMessageID,
		m.ErrorCode, m.ErrorMessage, m.Segments, m.CostEUR,
		m.QueuedAt, m.SentAt, m.FailedAt, m.RetryCount, m.NextRetryAt)
	if err != nil {
		return fmt.Errorf("messaging: save send result: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus applies a provider status callback with the
// forward-only guard compiled into the WHERE clause, so a late callback can
// never move a message backwards. Returns ErrNotFound when no row matched
// the provider message id at all.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, q Querier, providerMessageID string, to Status, errorCode, errorMessage string, cost *float64) error {
	if q == nil {
		q = s.pool
	}
	now := s.clk.Now().UTC()
	allowed := allowedFromStatuses(to)
	query := `
		UPDATE sms_messages
		SET status = $2,
			error_code = COALESCE(NULLIF($3, ''), error_code),
			error_message = COALESCE(NULLIF($4, ''), error_message),
			cost_eur = COALESCE($5, cost_eur),
			sent_at = CASE WHEN $2 = 'sent' THEN COALESCE(sent_at, $6) ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN $6 ELSE delivered_at END,
			failed_at = CASE WHEN $2 IN ('failed', 'undelivered') THEN $6 ELSE failed_at END,
			webhook_received = TRUE,
			last_webhook_at = $6,
			updated_at = now()
		WHERE provider_message_id = $1 AND status = ANY($7)
	`
	tag, err := q.Exec(ctx, query, providerMessageID, to, errorCode, errorMessage, cost, now, allowed)
	if err != nil {
		return fmt.Errorf("messaging: update delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := q.QueryRow(ctx, `SELECT 1 FROM sms_messages WHERE provider_message_id = $1`, providerMessageID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("messaging: check message exists: %w", err)
		}
		// Row exists but the transition would regress; treated as a no-op.
	}
	return nil
}

func allowedFromStatuses(to Status) []string {
	out := make([]string, 0, 4)
	for from := range statusRank {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	sort.Strings(out)
	return out
}

// ScheduleRetry books one retry attempt and puts the message back to
// pending for the sweeper.
func (s *Store) ScheduleRetry(ctx context.Context, q Querier, id uuid.UUID, nextRetry time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE sms_messages
		SET retry_count = retry_count + 1,
			status = 'pending',
			next_retry_at = $2,
			updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'undelivered') AND retry_count < max_retries
	`
	tag, err := q.Exec(ctx, query, id, nextRetry)
	if err != nil {
		return fmt.Errorf("messaging: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("messaging: schedule retry: message %s not retryable", id)
	}
	return nil
}

// ListSendCandidates returns pending messages whose retry delay, if any, has
// elapsed. Fresh messages have a NULL next_retry_at and are picked up
// immediately.
func (s *Store) ListSendCandidates(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM sms_messages
		WHERE status = 'pending'
			AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at NULLS FIRST, created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, s.clk.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: list send candidates: %w", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordWebhookEvent inserts the event's identity tuple; a second delivery
// of the same event hits the unique constraint and reports duplicate=true.
func (s *Store) RecordWebhookEvent(ctx context.Context, q Querier, providerMessageID, eventType string, eventTimestamp time.Time) (duplicate bool, err error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO sms_webhook_events (provider_message_id, event_type, event_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_message_id, event_type, event_timestamp) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, providerMessageID, eventType, eventTimestamp)
	if err != nil {
		return false, fmt.Errorf("messaging: record webhook event: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}
