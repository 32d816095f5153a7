package consent

import (
	"time"

	"github.com/google/uuid"
)

// Type is the purpose a consent covers.
type Type string

const (
	Treatment      Type = "treatment"       // Behandlungsvertrag
	DataProcessing Type = "data_processing" // Datenverarbeitung
	PhoneContact   Type = "phone_contact"   // Telefonische Kontaktaufnahme
	SMSContact     Type = "sms_contact"     // SMS-Benachrichtigungen
	EmailContact   Type = "email_contact"   // E-Mail-Kommunikation
	DataSharing    Type = "data_sharing"    // Datenweitergabe
	Marketing      Type = "marketing"       // Marketingzwecke
	VoiceRecording Type = "voice_recording" // Gesprächsaufzeichnung
	AIProcessing   Type = "ai_processing"   // KI-Verarbeitung
)

// Status is the lifecycle state of a consent record.
type Status string

const (
	Granted   Status = "granted"
	Denied    Status = "denied"
	Withdrawn Status = "withdrawn"
	Expired   Status = "expired"
	Pending   Status = "pending"
)

// Consent is one subject-scoped, purpose-tagged authorization. Records
// are never deleted; withdrawal is a status change.
type Consent struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	SubjectID   uuid.UUID
	Type        Type
	Status      Status
	GrantedAt   *time.Time
	ExpiresAt   *time.Time
	WithdrawnAt *time.Time
	GrantedBy   string
	Notes       string
	Version     string
}

// IsValid reports whether the consent authorizes the purpose at the given
// moment.
func (c Consent) IsValid(now time.Time) bool {
	if c.Status != Granted {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// RequiredForCall lists the consents an AI-driven outbound call needs.
func RequiredForCall() []Type {
	return []Type{PhoneContact, AIProcessing}
}
