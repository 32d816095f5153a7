package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentType mirrors the practice's appointment catalogue.
type AppointmentType string

const (
	Acute       AppointmentType = "acute"       // Akutsprechstunde
	Regular     AppointmentType = "regular"     // Regeltermin
	Followup    AppointmentType = "followup"    // Wiedervorstellung
	Preventive  AppointmentType = "preventive"  // Vorsorge
	Vaccination AppointmentType = "vaccination" // Impfung
	Checkup     AppointmentType = "checkup"     // Check-up
	Specialist  AppointmentType = "specialist"  // Facharzt
	Lab         AppointmentType = "lab"         // Labor
)

// SlotStatus is the calendar-side state of a bookable slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
	SlotReserved  SlotStatus = "reserved"
)

// Slot is a bookable time window on a provider's calendar. The calendar
// collaborator owns it; the core only reads and references it.
type Slot struct {
	ID           uuid.UUID
	Start        time.Time
	End          time.Time
	ProviderID   string
	ProviderName string
	Status       SlotStatus
	Type         AppointmentType
}

// DurationMinutes returns the slot length in minutes.
func (s Slot) DurationMinutes() int {
	return int(s.End.Sub(s.Start).Minutes())
}

// Patient carries the scheduling-relevant patient fields.
type Patient struct {
	ID                uuid.UUID
	FirstName         string
	LastName          string
	DateOfBirth       time.Time
	Phone             string
	Email             string
	InsuranceType     string // GKV or PKV
	PreferredProvider string
	Language          string
}

// FullName returns "First Last".
func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Appointment is a booked slot. The calendar collaborator owns the slot;
// the core holds the identifier plus denormalized times.
type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	PatientName  string
	Slot         Slot
	Reason       string
	Type         AppointmentType
	UrgencyLevel string
	CreatedAt    time.Time
	CreatedBy    string
	Confirmed    bool
	ReminderSent bool
	Notes        string
}

// TimeOfDay buckets a preference into broad parts of the day.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// Preferences steer the slot search.
type Preferences struct {
	PreferredDate       *time.Time
	PreferredTime       TimeOfDay
	PreferredProvider   string
	UrgencyMaxWaitHours int
	Type                AppointmentType
	DurationMinutes     int
	FlexibleDate        bool
	FlexibleProvider    bool
}
