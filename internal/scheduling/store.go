package scheduling

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

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists patients and booked appointments in Postgres. It is
// tenant-scoped: one Store serves exactly one practice, so the campaign
// workflows above it never see another tenant's rows.
type Store struct {
	pool     PgxPool
	tenantID uuid.UUID
	clk      clock.Clock
}

func NewStore(pool PgxPool, tenantID uuid.UUID, clk clock.Clock) *Store {
	if pool == nil {
		return nil
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{pool: pool, tenantID: tenantID, clk: clk}
}

const appointmentColumns = `
	id, patient_id, patient_name, slot_start, slot_end, provider_id,
	provider_name, appointment_type, reason, urgency_level, confirmed,
	reminder_sent, notes, created_at, created_by
`

// AppointmentsOn lists appointments whose slot starts on the given day,
// ordered by slot start. Cancelled appointments are excluded.
func (s *Store) AppointmentsOn(ctx context.Context, day time.Time) ([]Appointment, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE tenant_id = $1 AND slot_start >= $2 AND slot_start < $3
			AND NOT cancelled
		ORDER BY slot_start ASC
	`
	rows, err := s.pool.Query(ctx, query, s.tenantID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("scheduling: appointments on %s: %w", dayStart.Format("2006-01-02"), err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// MissedBetween lists unconfirmed, unattended appointments whose slot
// ended inside the window. These feed the no-show workflow.
func (s *Store) MissedBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE tenant_id = $1 AND slot_end >= $2 AND slot_end < $3
			AND NOT attended AND NOT cancelled
		ORDER BY slot_end ASC
	`
	rows, err := s.pool.Query(ctx, query, s.tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: missed between: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName,
			&a.Slot.Start, &a.Slot.End, &a.Slot.ProviderID, &a.Slot.ProviderName,
			&a.Type, &a.Reason, &a.UrgencyLevel, &a.Confirmed,
			&a.ReminderSent, &a.Notes, &a.CreatedAt, &a.CreatedBy); err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		a.Slot.Type = a.Type
		a.Slot.Status = SlotBooked
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkConfirmed flags the appointment as confirmed by the patient.
func (s *Store) MarkConfirmed(ctx context.Context, appointmentID uuid.UUID) error {
	query := `
		UPDATE appointments
		SET confirmed = true, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := s.pool.Exec(ctx, query, s.tenantID, appointmentID, s.clk.Now())
	if err != nil {
		return fmt.Errorf("scheduling: mark confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminderSent records that a reminder reached the patient, so a
// rerun of the same campaign day skips the appointment.
func (s *Store) MarkReminderSent(ctx context.Context, appointmentID uuid.UUID) error {
	query := `
		UPDATE appointments
		SET reminder_sent = true, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := s.pool.Exec(ctx, query, s.tenantID, appointmentID, s.clk.Now())
	if err != nil {
		return fmt.Errorf("scheduling: mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttended flags the appointment as kept, removing it from future
// no-show sweeps.
func (s *Store) MarkAttended(ctx context.Context, appointmentID uuid.UUID) error {
	query := `
		UPDATE appointments
		SET attended = true, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := s.pool.Exec(ctx, query, s.tenantID, appointmentID, s.clk.Now())
	if err != nil {
		return fmt.Errorf("scheduling: mark attended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Patient loads a single patient record.
func (s *Store) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `
		SELECT id, first_name, last_name, date_of_birth, phone, email,
			insurance_type, preferred_provider, language
		FROM patients
		WHERE tenant_id = $1 AND id = $2
	`
	var p Patient
	err := s.pool.QueryRow(ctx, query, s.tenantID, id).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Phone, &p.Email,
		&p.InsuranceType, &p.PreferredProvider, &p.Language)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: get patient: %w", err)
	}
	return &p, nil
}

// UpsertPatient inserts or refreshes a patient record keyed by id.
func (s *Store) UpsertPatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO patients (
			id, tenant_id, first_name, last_name, date_of_birth, phone,
			email, insurance_type, preferred_provider, language, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			insurance_type = EXCLUDED.insurance_type,
			preferred_provider = EXCLUDED.preferred_provider,
			language = EXCLUDED.language
	`
	if _, err := s.pool.Exec(ctx, query, p.ID, s.tenantID, p.FirstName, p.LastName,
		p.DateOfBirth, p.Phone, p.Email, p.InsuranceType, p.PreferredProvider,
		p.Language, s.clk.Now()); err != nil {
		return fmt.Errorf("scheduling: upsert patient: %w", err)
	}
	return nil
}

// InsertAppointment persists a booked appointment.
func (s *Store) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clk.Now()
	}
	query := `
		INSERT INTO appointments (
			id, tenant_id, patient_id, patient_name, slot_id, slot_start,
			slot_end, provider_id, provider_name, appointment_type, reason,
			urgency_level, confirmed, reminder_sent, attended, cancelled,
			notes, created_at, created_by
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false,false,$15,$16,$17)
	`
	if _, err := s.pool.Exec(ctx, query, a.ID, s.tenantID, a.PatientID, a.PatientName,
		a.Slot.ID, a.Slot.Start, a.Slot.End, a.Slot.ProviderID, a.Slot.ProviderName,
		a.Type, a.Reason, a.UrgencyLevel, a.Confirmed, a.ReminderSent,
		a.Notes, a.CreatedAt, a.CreatedBy); err != nil {
		return fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	return nil
}

// CancelAppointmentRecord marks the stored appointment cancelled. The
// live calendar is updated separately through the Calendar collaborator.
func (s *Store) CancelAppointmentRecord(ctx context.Context, appointmentID uuid.UUID, reason string) error {
	query := `
		UPDATE appointments
		SET cancelled = true, notes = notes || $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`
	note := "\ncancelled: " + reason
	tag, err := s.pool.Exec(ctx, query, s.tenantID, appointmentID, note, s.clk.Now())
	if err != nil {
		return fmt.Errorf("scheduling: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
