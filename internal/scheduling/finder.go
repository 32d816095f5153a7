package scheduling

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// Service finds and ranks candidate slots and delegates booking to the
// calendar collaborator.
type Service struct {
	calendar Calendar
	clk      clock.Clock
}

func NewService(calendar Calendar, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{calendar: calendar, clk: clk}
}

// FindSlots returns the top limit slots matching the preferences, best
// score first, ties broken by earliest start.
func (s *Service) FindSlots(ctx context.Context, prefs Preferences, limit int) ([]Slot, error) {
	now := s.clk.Now()
	start := now
	if prefs.PreferredDate != nil {
		start = *prefs.PreferredDate
	}
	var end time.Time
	if prefs.UrgencyMaxWaitHours > 0 {
		end = start.Add(time.Duration(prefs.UrgencyMaxWaitHours) * time.Hour)
	} else {
		end = start.AddDate(0, 0, 14)
	}

	providerFilter := ""
	if !prefs.FlexibleProvider {
		providerFilter = prefs.PreferredProvider
	}
	slots, err := s.calendar.GetAvailableSlots(ctx, start, end, providerFilter, prefs.Type)
	if err != nil {
		return nil, fmt.Errorf("scheduling: find slots: %w", err)
	}

	type scored struct {
		slot  Slot
		score float64
	}
	ranked := make([]scored, 0, len(slots))
	for _, slot := range slots {
		ranked = append(ranked, scored{slot: slot, score: s.scoreSlot(slot, prefs, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].slot.Start.Before(ranked[j].slot.Start)
	})

	if limit <= 0 {
		limit = 5
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Slot, len(ranked))
	for i, r := range ranked {
		out[i] = r.slot
	}
	return out, nil
}

func (s *Service) scoreSlot(slot Slot, prefs Preferences, now time.Time) float64 {
	score := 100.0

	switch prefs.PreferredTime {
	case Morning:
		if slot.Start.Hour() >= 12 {
			score -= 20
		}
	case Afternoon:
		if slot.Start.Hour() < 12 {
			score -= 20
		}
	case Evening:
		if slot.Start.Hour() < 16 {
			score -= 20
		}
	}

	if prefs.PreferredDate != nil {
		daysDiff := math.Abs(dateOf(slot.Start).Sub(dateOf(*prefs.PreferredDate)).Hours() / 24)
		score -= daysDiff * 10
	}

	if prefs.PreferredProvider != "" && slot.ProviderID != prefs.PreferredProvider {
		score -= 15
	}

	if prefs.UrgencyMaxWaitHours > 0 {
		hoursUntil := slot.Start.Sub(now).Hours()
		if hoursUntil < float64(prefs.UrgencyMaxWaitHours) {
			score += 20
		}
	}

	return math.Max(score, 0)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BookAppointment books a slot and stamps the triage urgency.
func (s *Service) BookAppointment(ctx context.Context, slotID uuid.UUID, patient Patient, reason string, apptType AppointmentType, urgencyLevel string) (*Appointment, error) {
	appt, err := s.calendar.BookSlot(ctx, slotID, patient, reason, apptType)
	if err != nil {
		return nil, err
	}
	appt.UrgencyLevel = urgencyLevel
	return appt, nil
}

// CancelAppointment forwards to the calendar.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) (bool, error) {
	return s.calendar.CancelAppointment(ctx, appointmentID, reason)
}

// RescheduleAppointment forwards to the calendar.
func (s *Service) RescheduleAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	return s.calendar.RescheduleAppointment(ctx, appointmentID, newSlotID)
}

var germanWeekdays = [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

// FormatSlotForSpeech renders one slot as a German sentence fragment for
// TTS output.
func FormatSlotForSpeech(slot Slot) string {
	day := germanWeekdays[slot.Start.Weekday()]
	return fmt.Sprintf("%s, den %s um %s Uhr bei %s",
		day, slot.Start.Format("02.01."), slot.Start.Format("15:04"), slot.ProviderName)
}

// FormatSlotsForSpeech renders up to maxSlots options for TTS output.
func FormatSlotsForSpeech(slots []Slot, maxSlots int) string {
	if len(slots) == 0 {
		return "Leider habe ich aktuell keine freien Termine gefunden."
	}
	if maxSlots <= 0 {
		maxSlots = 3
	}
	if len(slots) > maxSlots {
		slots = slots[:maxSlots]
	}
	if len(slots) == 1 {
		return "Ich kann Ihnen folgenden Termin anbieten: " + FormatSlotForSpeech(slots[0])
	}
	var b strings.Builder
	b.WriteString("Ich kann Ihnen folgende Termine anbieten:")
	for i, slot := range slots {
		b.WriteString(fmt.Sprintf("\nOption %d: %s", i+1, FormatSlotForSpeech(slot)))
	}
	return b.String()
}
