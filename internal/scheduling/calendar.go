package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSlotUnavailable is returned when the requested slot is not bookable.
	ErrSlotUnavailable = errors.New("scheduling: slot unavailable")
	// ErrNotFound is returned for unknown slot or appointment ids.
	ErrNotFound = errors.New("scheduling: not found")
)

// Calendar is the provider-calendar collaborator. Booking and ownership
// of slots live behind this interface; the slot finder only ranks.
type Calendar interface {
	GetAvailableSlots(ctx context.Context, start, end time.Time, providerID string, apptType AppointmentType) ([]Slot, error)
	BookSlot(ctx context.Context, slotID uuid.UUID, patient Patient, reason string, apptType AppointmentType) (*Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) (bool, error)
	RescheduleAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (*Appointment, error)
}
