// Package audit provides the append-only, checksum-chained audit log
// required for healthcare data processing records.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action tags the kind of event recorded.
type Action string

const (
	ActionDataView   Action = "data_view"
	ActionDataExport Action = "data_export"
	ActionDataCreate Action = "data_create"
	ActionDataUpdate Action = "data_update"
	ActionDataDelete Action = "data_delete"

	ActionCallStarted Action = "call_started"
	ActionCallEnded   Action = "call_ended"
	ActionSMSSent     Action = "sms_sent"
	ActionEmailSent   Action = "email_sent"

	ActionConsentGranted   Action = "consent_granted"
	ActionConsentDenied    Action = "consent_denied"
	ActionConsentWithdrawn Action = "consent_withdrawn"
	ActionConsentMiss      Action = "consent_miss"

	ActionAppointmentCreated   Action = "appointment_created"
	ActionAppointmentCancelled Action = "appointment_cancelled"
	ActionAppointmentModified  Action = "appointment_modified"

	ActionReminderCallCompleted Action = "reminder_call_completed"
	ActionRecallCallCompleted   Action = "recall_call_completed"
	ActionNoShowFollowup        Action = "no_show_followup_completed"
	ActionTaskRouted            Action = "task_routed"
	ActionTaskEscalated         Action = "task_escalated"

	ActionConfigChange Action = "config_change"
)

// Entry is one immutable audit record. Entries are chained: each carries
// the previous entry's checksum, and its own checksum covers that link.
type Entry struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Seq              int64
	Timestamp        time.Time
	Action           Action
	ActorID          string
	ActorType        string // "user", "system", "ai_agent"
	ResourceType     string
	ResourceID       string
	SubjectID        *uuid.UUID
	Details          json.RawMessage
	PreviousChecksum string
	Checksum         string
}

// ComputeChecksum derives the tamper-evidence checksum: first 16 hex chars
// of SHA-256 over id, RFC3339 timestamp, action, actor id, resource id and
// the previous entry's checksum. The timestamp is truncated to microseconds
// before hashing; timestamptz keeps no finer precision, and a checksum over
// sub-microsecond digits would not survive the database round trip.
func ComputeChecksum(id uuid.UUID, timestamp time.Time, action Action, actorID, resourceID, previousChecksum string) string {
	payload := id.String() + timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano) + string(action) + actorID + resourceID + previousChecksum
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// checksum recomputes the entry's own checksum from its stored fields.
func (e Entry) checksum() string {
	return ComputeChecksum(e.ID, e.Timestamp, e.Action, e.ActorID, e.ResourceID, e.PreviousChecksum)
}
