// Package campaign runs the three outbound workflows: appointment
// reminders, preventive-care recalls, and no-show follow-ups. All three
// share the same skeleton: enumerate targets, filter by consent and
// timing, queue calls on the dialer, interpret outcomes from a result
// channel, emit SMS through the delivery-tracking pipeline, and log
// every transition to the audit chain.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// ErrUnknownCampaign is returned when a campaign id does not resolve.
var ErrUnknownCampaign = errors.New("campaign: unknown recall campaign")

// CallQueue is the dialer surface the workflows need.
type CallQueue interface {
	QueueCall(call dialer.QueuedCall) uuid.UUID
	CancelCall(callID uuid.UUID) bool
}

// SMSQueue enqueues messages into the SMS delivery tracking pipeline.
type SMSQueue interface {
	Enqueue(ctx context.Context, m *messaging.Message) error
}

// ConsentChecker verifies a single consent purpose.
type ConsentChecker interface {
	Check(ctx context.Context, tenantID, subjectID uuid.UUID, consentType consent.Type) (bool, error)
}

// AppointmentSource exposes the calendar views the workflows enumerate.
type AppointmentSource interface {
	// AppointmentsOn lists appointments whose slot starts on the given
	// local calendar day.
	AppointmentsOn(ctx context.Context, day time.Time) ([]scheduling.Appointment, error)
	// MissedBetween lists unconfirmed, unattended appointments whose
	// slot started inside the window.
	MissedBetween(ctx context.Context, from, to time.Time) ([]scheduling.Appointment, error)
	// MarkConfirmed flags the appointment as confirmed by the patient.
	MarkConfirmed(ctx context.Context, appointmentID uuid.UUID) error
}

// PatientDirectory resolves patient contact details.
type PatientDirectory interface {
	Patient(ctx context.Context, patientID uuid.UUID) (*scheduling.Patient, error)
}

// auditConsentMiss records a target that was skipped because phone
// consent is missing. The miss itself is a processing event the chain
// has to carry, same as the calls that do happen.
func auditConsentMiss(ctx context.Context, log *audit.Logger, logger *logging.Logger, tenantID, patientID uuid.UUID, actorID, resourceType, resourceID string) {
	if log == nil {
		return
	}
	subject := patientID
	details, _ := json.Marshal(map[string]string{
		"reason":       "no_phone_consent",
		"consent_type": string(consent.PhoneContact),
	})
	if _, err := log.Append(ctx, audit.Entry{
		TenantID:     tenantID,
		Action:       audit.ActionConsentMiss,
		ActorID:      actorID,
		ActorType:    "system",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SubjectID:    &subject,
		Details:      details,
	}); err != nil {
		logger.Error("audit append failed", "error", err)
	}
}

// germanWeekdays for SMS texts; index is time.Weekday.
var germanWeekdays = [...]string{
	"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag",
}

func formatSMSTimestamp(t time.Time) (day, date, clock string) {
	return germanWeekdays[t.Weekday()], t.Format("02.01.2006"), t.Format("15:04")
}

// priorityFromHoursUntil maps time pressure to a dial priority. The
// boundaries are inclusive: exactly 4 hours out is still urgent.
func priorityFromHoursUntil(hours float64) dialer.Priority {
	switch {
	case hours <= 4:
		return dialer.PriorityUrgent
	case hours <= 12:
		return dialer.PriorityHigh
	case hours <= 24:
		return dialer.PriorityNormal
	default:
		return dialer.PriorityLow
	}
}
