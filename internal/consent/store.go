package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// ErrNotFound is returned when no matching consent exists.
var ErrNotFound = errors.New("consent: not found")

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists consent records in Postgres.
type Store struct {
	pool PgxPool
	clk  clock.Clock
}

func NewStore(pool PgxPool, clk clock.Clock) *Store {
	if pool == nil {
		return nil
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{pool: pool, clk: clk}
}

// Grant records a consent. A nil duration means the consent never expires.
func (s *Store) Grant(ctx context.Context, tenantID, subjectID uuid.UUID, consentType Type, grantedBy string, duration *time.Duration, notes string) (*Consent, error) {
	now := s.clk.Now()
	c := &Consent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		SubjectID: subjectID,
		Type:      consentType,
		Status:    Granted,
		GrantedAt: &now,
		GrantedBy: grantedBy,
		Notes:     notes,
		Version:   "1.0",
	}
	if duration != nil {
		expires := now.Add(*duration)
		c.ExpiresAt = &expires
	}
	query := `
		INSERT INTO consents (
			id, tenant_id, subject_id, consent_type, status,
			granted_at, expires_at, granted_by, notes, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	if _, err := s.pool.Exec(ctx, query, c.ID, c.TenantID, c.SubjectID, c.Type, c.Status,
		c.GrantedAt, c.ExpiresAt, c.GrantedBy, c.Notes, c.Version); err != nil {
		return nil, fmt.Errorf("consent: grant: %w", err)
	}
	return c, nil
}

// Withdraw marks the newest granted consent of the given type withdrawn.
// It never deletes. Returns ErrNotFound when no granted consent exists.
func (s *Store) Withdraw(ctx context.Context, tenantID, subjectID uuid.UUID, consentType Type, notes string) (*Consent, error) {
	now := s.clk.Now()
	query := `
		UPDATE consents
		SET status = 'withdrawn',
			withdrawn_at = $4,
			notes = COALESCE(NULLIF($5, ''), notes)
		WHERE id = (
			SELECT id FROM consents
			WHERE tenant_id = $1 AND subject_id = $2 AND consent_type = $3 AND status = 'granted'
			ORDER BY granted_at DESC
			LIMIT 1
		)
		RETURNING id, tenant_id, subject_id, consent_type, status,
			granted_at, expires_at, withdrawn_at, granted_by, notes, version
	`
	var c Consent
	err := s.pool.QueryRow(ctx, query, tenantID, subjectID, consentType, now, notes).Scan(
		&c.ID, &c.TenantID, &c.SubjectID, &c.Type, &c.Status,
		&c.GrantedAt, &c.ExpiresAt, &c.WithdrawnAt, &c.GrantedBy, &c.Notes, &c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consent: withdraw: %w", err)
	}
	return &c, nil
}

// Check reports whether a currently valid consent of the given type exists
// for the subject.
func (s *Store) Check(ctx context.Context, tenantID, subjectID uuid.UUID, consentType Type) (bool, error) {
	query := `
		SELECT 1 FROM consents
		WHERE tenant_id = $1 AND subject_id = $2 AND consent_type = $3
			AND status = 'granted'
			AND (expires_at IS NULL OR expires_at > $4)
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, tenantID, subjectID, consentType, s.clk.Now()).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consent: check: %w", err)
	}
	return true, nil
}

// CheckAll reports whether every listed consent is currently valid.
func (s *Store) CheckAll(ctx context.Context, tenantID, subjectID uuid.UUID, types []Type) (bool, error) {
	for _, t := range types {
		ok, err := s.Check(ctx, tenantID, subjectID, t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// SubjectConsents lists every consent record of a subject, newest first.
func (s *Store) SubjectConsents(ctx context.Context, tenantID, subjectID uuid.UUID) ([]Consent, error) {
	query := `
		SELECT id, tenant_id, subject_id, consent_type, status,
			granted_at, expires_at, withdrawn_at, granted_by, notes, version
		FROM consents
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY granted_at DESC NULLS LAST
	`
	rows, err := s.pool.Query(ctx, query, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("consent: subject consents: %w", err)
	}
	defer rows.Close()
	var out []Consent
	for rows.Next() {
		var c Consent
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SubjectID, &c.Type, &c.Status,
			&c.GrantedAt, &c.ExpiresAt, &c.WithdrawnAt, &c.GrantedBy, &c.Notes, &c.Version); err != nil {
			return nil, fmt.Errorf("consent: scan consent: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
