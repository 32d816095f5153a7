package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

func newTestService(t *testing.T) (*Service, *MemoryCalendar, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // a Monday
	clk := clock.Fixed{T: now}
	cal := NewMemoryCalendar(clk)
	return NewService(cal, clk), cal, now
}

func addSlot(cal *MemoryCalendar, start time.Time, provider string) Slot {
	slot := Slot{
		Start:        start,
		End:          start.Add(15 * time.Minute),
		ProviderID:   provider,
		ProviderName: provider,
		Type:         Regular,
	}
	slot.ID = cal.AddSlot(slot)
	return slot
}

func TestFindSlotsPrefersTimeOfDayAndProvider(t *testing.T) {
	svc, cal, now := newTestService(t)
	morning := addSlot(cal, now.Add(26*time.Hour), "dr-mueller")   // Tue 10:00
	afternoon := addSlot(cal, now.Add(31*time.Hour), "dr-mueller") // Tue 15:00
	otherProv := addSlot(cal, now.Add(26*time.Hour), "dr-schmidt")

	prefDate := now.AddDate(0, 0, 1)
	slots, err := svc.FindSlots(context.Background(), Preferences{
		PreferredDate:     &prefDate,
		PreferredTime:     Morning,
		PreferredProvider: "dr-mueller",
		FlexibleProvider:  true,
	}, 3)
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, morning.ID, slots[0].ID)
	// Afternoon mismatch (-20) ranks below provider mismatch (-15).
	assert.Equal(t, otherProv.ID, slots[1].ID)
	assert.Equal(t, afternoon.ID, slots[2].ID)
}

func TestFindSlotsDateDistancePenalty(t *testing.T) {
	svc, cal, now := newTestService(t)
	sameDay := addSlot(cal, now.Add(26*time.Hour), "dr-mueller")
	threeOut := addSlot(cal, now.Add(26*time.Hour+72*time.Hour), "dr-mueller")

	prefDate := now.AddDate(0, 0, 1)
	slots, err := svc.FindSlots(context.Background(), Preferences{
		PreferredDate:    &prefDate,
		FlexibleProvider: true,
	}, 2)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, sameDay.ID, slots[0].ID)
	assert.Equal(t, threeOut.ID, slots[1].ID)
}

func TestFindSlotsUrgencyWindowBoostAndBounds(t *testing.T) {
	svc, cal, now := newTestService(t)
	soon := addSlot(cal, now.Add(2*time.Hour), "dr-mueller")
	// Outside the 4 hour urgency window entirely.
	addSlot(cal, now.Add(30*time.Hour), "dr-mueller")

	slots, err := svc.FindSlots(context.Background(), Preferences{
		UrgencyMaxWaitHours: 4,
		FlexibleProvider:    true,
	}, 5)
	require.NoError(t, err)
	require.Len(t, slots, 1, "window end must clamp to max wait hours")
	assert.Equal(t, soon.ID, slots[0].ID)
}

func TestFindSlotsTieBreakEarliestStart(t *testing.T) {
	svc, cal, now := newTestService(t)
	later := addSlot(cal, now.Add(28*time.Hour), "dr-mueller")
	earlier := addSlot(cal, now.Add(26*time.Hour), "dr-mueller")
	_ = later

	slots, err := svc.FindSlots(context.Background(), Preferences{FlexibleProvider: true}, 2)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, earlier.ID, slots[0].ID)
}

func TestBookAndRescheduleLifecycle(t *testing.T) {
	svc, cal, now := newTestService(t)
	first := addSlot(cal, now.Add(26*time.Hour), "dr-mueller")
	second := addSlot(cal, now.Add(27*time.Hour), "dr-mueller")

	patient := Patient{ID: uuid.New(), FirstName: "Max", LastName: "Mustermann", Phone: "+4915112345678"}
	appt, err := svc.BookAppointment(context.Background(), first.ID, patient, "Kontrolle", Regular, "standard")
	require.NoError(t, err)
	assert.Equal(t, "Max Mustermann", appt.PatientName)
	assert.Equal(t, "standard", appt.UrgencyLevel)

	// Booked slot is no longer offered.
	_, err = svc.BookAppointment(context.Background(), first.ID, patient, "Kontrolle", Regular, "")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	moved, err := svc.RescheduleAppointment(context.Background(), appt.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, moved.Slot.ID)
	assert.Contains(t, moved.Notes, "Umgebucht von")

	// Old slot is bookable again after the move.
	_, err = svc.BookAppointment(context.Background(), first.ID, patient, "Kontrolle", Regular, "")
	require.NoError(t, err)
}

func TestFormatSlotsForSpeech(t *testing.T) {
	slot := Slot{
		Start:        time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 3, 3, 10, 15, 0, 0, time.UTC),
		ProviderName: "Dr. Müller",
	}
	assert.Equal(t, "Dienstag, den 03.03. um 10:00 Uhr bei Dr. Müller", FormatSlotForSpeech(slot))
	assert.Contains(t, FormatSlotsForSpeech(nil, 3), "keine freien Termine")
	assert.Contains(t, FormatSlotsForSpeech([]Slot{slot}, 3), "folgenden Termin")
}
