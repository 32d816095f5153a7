package notify

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

// ErrNotFound is returned when no email matches the lookup.
var ErrNotFound = errors.New("notify: email not found")

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

// Store persists email delivery-tracking state in Postgres.
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

const emailColumns = `
	id, tenant_id, to_address, from_address, subject, body, COALESCE(html, ''),
	provider, COALESCE(provider_message_id, ''), status, COALESCE(error_message, ''),
	opened, clicked, opened_at, clicked_at,
	queued_at, sent_at, delivered_at, failed_at,
	COALESCE(reference, ''), retry_count, max_retries, next_retry_at,
	contact_id, webhook_received, last_webhook_at, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, q Querier, e *EmailRecord) error {
	if q == nil {
		q = s.pool
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO email_messages (
			id, tenant_id, to_address, from_address, subject, body, html,
			provider, provider_message_id, status, reference,
			retry_count, max_retries, next_retry_at, contact_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,NULLIF($9,''),$10,NULLIF($11,''),$12,$13,$14,$15)
	`
	_, err := q.Exec(ctx, query, e.ID, e.TenantID, e.ToAddress, e.FromAddress, e.Subject, e.Body, e.HTML,
		e.Provider, e.ProviderMessageID, e.Status, e.Reference,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, e.ContactID)
	if err != nil {
		return fmt.Errorf("notify: insert email: %w", err)
	}
	return nil
}

func (s *Store) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*EmailRecord, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM email_messages WHERE provider_message_id = $1`, providerMessageID)
	return scanEmail(row)
}

func scanEmail(row pgx.Row) (*EmailRecord, error) {
	var e EmailRecord
	err := row.Scan(&e.ID, &e.TenantID, &e.ToAddress, &e.FromAddress, &e.Subject, &e.Body, &e.HTML,
		&e.Provider, &e.ProviderMessageID, &e.Status, &e.ErrorMessage,
		&e.Opened, &e.Clicked, &e.OpenedAt, &e.ClickedAt,
		&e.QueuedAt, &e.SentAt, &e.DeliveredAt, &e.FailedAt,
		&e.Reference, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt,
		&e.ContactID, &e.WebhookReceived, &e.LastWebhookAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notify: scan email: %w", err)
	}
	return &e, nil
}

// SaveSendResult persists the outcome of a sender attempt.
func (s *Store) SaveSendResult(ctx context.Context, q Querier, e *EmailRecord) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE email_messages
		SET status = $2,
			provider = $3,
			provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id),
			error_message = NULLIF($5, ''),
			sent_at = COALESCE($6, sent_at),
			failed_at = COALESCE($7, failed_at),
			retry_count = $8,
			next_retry_at = $9,
			updated_at = now()
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, e.ID, e.Status, e.Provider, e.ProviderMessageID,
		e.ErrorMessage, e.SentAt, e.FailedAt, e.RetryCount, e.NextRetryAt)
	if err != nil {
		return fmt.Errorf("notify: save send result: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus applies a provider event with the forward-only guard
// in the WHERE clause. Returns ErrNotFound when the provider message id is
// unknown.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, q Querier, providerMessageID string, to Status, errorMessage string) error {
	if q == nil {
		q = s.pool
	}
	now := s.clk.Now().UTC()
	allowed := allowedFromStatuses(to)
	query := `
		UPDATE email_messages
		SET status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			sent_at = CASE WHEN $2 = 'sent' THEN COALESCE(sent_at, $4) ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN $4 ELSE delivered_at END,
			failed_at = CASE WHEN $2 IN ('failed', 'bounced') THEN $4 ELSE failed_at END,
			webhook_received = TRUE,
			last_webhook_at = $4,
			updated_at = now()
		WHERE provider_message_id = $1 AND status = ANY($5)
	`
	tag, err := q.Exec(ctx, query, providerMessageID, to, errorMessage, now, allowed)
	if err != nil {
		return fmt.Errorf("notify: update delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := q.QueryRow(ctx, `SELECT 1 FROM email_messages WHERE provider_message_id = $1`, providerMessageID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("notify: check email exists: %w", err)
		}
	}
	return nil
}

func allowedFromStatuses(to Status) []string {
	out := make([]string, 0, 6)
	for from := range statusRank {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	sort.Strings(out)
	return out
}

// RecordEngagement flags an open or click without touching the status.
func (s *Store) RecordEngagement(ctx context.Context, q Querier, providerMessageID, event string) error {
	if q == nil {
		q = s.pool
	}
	now := s.clk.Now().UTC()
	var query string
	switch event {
	case "open":
		query = `
			UPDATE email_messages
			SET opened = TRUE, opened_at = COALESCE(opened_at, $2),
				webhook_received = TRUE, last_webhook_at = $2, updated_at = now()
			WHERE provider_message_id = $1
		`
	case "click":
		query = `
			UPDATE email_messages
			SET clicked = TRUE, clicked_at = COALESCE(clicked_at, $2),
				webhook_received = TRUE, last_webhook_at = $2, updated_at = now()
			WHERE provider_message_id = $1
		`
	default:
		return fmt.Errorf("notify: record engagement: unknown event %q", event)
	}
	if _, err := q.Exec(ctx, query, providerMessageID, now); err != nil {
		return fmt.Errorf("notify: record engagement: %w", err)
	}
	return nil
}

// ScheduleRetry books one retry attempt and puts the email back to pending.
func (s *Store) ScheduleRetry(ctx context.Context, q Querier, id uuid.UUID, nextRetry time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE email_messages
		SET retry_count = retry_count + 1,
			status = 'pending',
			next_retry_at = $2,
			updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'bounced') AND retry_count < max_retries
	`
	tag, err := q.Exec(ctx, query, id, nextRetry)
	if err != nil {
		return fmt.Errorf("notify: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notify: schedule retry: email %s not retryable", id)
	}
	return nil
}

// ListSendCandidates returns pending emails whose retry delay has elapsed.
func (s *Store) ListSendCandidates(ctx context.Context, limit int) ([]*EmailRecord, error) {
	query := `
		SELECT ` + emailColumns + `
		FROM email_messages
		WHERE status = 'pending'
			AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at NULLS FIRST, created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, s.clk.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list send candidates: %w", err)
	}
	defer rows.Close()
	var out []*EmailRecord
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordWebhookEvent deduplicates provider events on their identity tuple.
func (s *Store) RecordWebhookEvent(ctx context.Context, q Querier, providerMessageID, eventType string, eventTimestamp time.Time) (duplicate bool, err error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO email_webhook_events (provider_message_id, event_type, event_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_message_id, event_type, event_timestamp) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, providerMessageID, eventType, eventTimestamp)
	if err != nil {
		return false, fmt.Errorf("notify: record webhook event: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}
