package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
)

func reminderFixture(t *testing.T, cfg ReminderConfig) (*ReminderWorkflow, *fakeDialQueue, *fakeSMSQueue, *fakeCalendar, scheduling.Appointment) {
	t.Helper()
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	patientID := uuid.New()
	appt := scheduling.Appointment{
		ID:          uuid.New(),
		PatientID:   patientID,
		PatientName: "Max Mustermann",
		Type:        scheduling.Regular,
		Slot: scheduling.Slot{
			ID:           uuid.New(),
			Start:        now.Add(20 * time.Hour),
			End:          now.Add(20*time.Hour + 15*time.Minute),
			ProviderName: "Dr. Müller",
		},
	}

	dials := &fakeDialQueue{}
	sms := &fakeSMSQueue{}
	cal := &fakeCalendar{upcoming: []scheduling.Appointment{appt}}
	dir := &fakeDirectory{patients: map[uuid.UUID]*scheduling.Patient{
		patientID: {ID: patientID, FirstName: "Max", LastName: "Mustermann", Phone: "+491701234567"},
	}}

	w := NewReminderWorkflow(uuid.New(), cfg, cal, dir, allowAllConsent{}, dials, sms, nil, clock.Fixed{T: now}, nil)
	return w, dials, sms, cal, appt
}

func TestReminderCampaignConfirmFlow(t *testing.T) {
	cfg := ReminderConfig{SMSEnabled: true, PracticeName: "Praxis Dr. Müller", FromNumber: "+493012345"}
	w, dials, sms, cal, appt := reminderFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	stats, err := w.StartCampaign(ctx, appt.Slot.Start)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAppointments)
	assert.Equal(t, 1, stats.RemindersSent)
	require.Equal(t, 1, dials.count())

	queued := dials.call(0)
	assert.Equal(t, "reminder", queued.CallType)
	assert.Equal(t, dialer.PriorityNormal, queued.Priority)
	assert.Equal(t, appt.ID.String(), queued.Metadata["appointment_id"])
	assert.Equal(t, "Max", queued.Metadata["patient_first_name"])

	dials.finish(0, true, "appointment_confirmed")

	require.Eventually(t, func() bool {
		return w.Stats().Confirmed == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []uuid.UUID{appt.ID}, cal.confirmedIDs())
	require.Equal(t, 1, sms.count())
	body := sms.message(0).Body
	assert.Contains(t, body, "Dr. Müller")
	assert.Contains(t, body, "06:00") // 20h after 10:00 UTC
	assert.Contains(t, body, "ist bestätigt")
	assert.InDelta(t, 100.0, w.Stats().ConfirmationRate(), 0.01)
}

func TestReminderCampaignNoAnswerFallsBackToSMS(t *testing.T) {
	cfg := ReminderConfig{SMSEnabled: true, PracticePhone: "030 987654", FromNumber: "+493012345"}
	w, dials, sms, _, _ := reminderFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.StartCampaign(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())

	// First attempt rings out; a retry gets queued with a scheduled time.
	dials.finish(0, false, dialer.OutcomeNoAnswer)
	require.Eventually(t, func() bool { return dials.count() == 2 }, time.Second, 5*time.Millisecond)
	retry := dials.call(1)
	require.NotNil(t, retry.ScheduledAt)

	// Second attempt also rings out: attempts exhausted, SMS fallback.
	dials.finish(1, false, dialer.OutcomeNoAnswer)
	require.Eventually(t, func() bool { return w.Stats().NoAnswer == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, sms.count())
	body := sms.message(0).Body
	assert.Contains(t, body, "Terminerinnerung")
	assert.Contains(t, body, "030 987654")

	taskID, err := uuid.Parse(retry.Metadata["task_id"])
	require.NoError(t, err)
	task, ok := w.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, ReminderNoAnswer, task.Status)
	assert.Equal(t, 2, task.Attempts)
}

func TestReminderCampaignSkipsWithoutConsent(t *testing.T) {
	cfg := ReminderConfig{}
	w, dials, _, _, appt := reminderFixture(t, cfg)
	w.consents = denyAllConsent{}

	stats, err := w.StartCampaign(context.Background(), appt.Slot.Start)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAppointments)
	assert.Equal(t, 0, stats.RemindersSent)
	assert.Equal(t, 0, dials.count())
}

func TestReminderConsentMissIsAudited(t *testing.T) {
	w, dials, _, _, appt := reminderFixture(t, ReminderConfig{})
	auditLog, mock := consentMissAudit(t, w.tenantID, "reminder_campaign", "appointment", appt.ID.String())
	w.consents = denyAllConsent{}
	w.auditLog = auditLog

	stats, err := w.StartCampaign(context.Background(), appt.Slot.Start)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RemindersSent)
	assert.Equal(t, 0, dials.count())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderCampaignSkipsTooCloseAppointments(t *testing.T) {
	w, dials, _, cal, appt := reminderFixture(t, ReminderConfig{MinHoursBefore: 2})
	appt.Slot.Start = time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC) // one hour out
	cal.upcoming = []scheduling.Appointment{appt}

	stats, err := w.StartCampaign(context.Background(), appt.Slot.Start)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RemindersSent)
	assert.Equal(t, 0, dials.count())
}

func TestDialPriorityBoundariesAreInclusive(t *testing.T) {
	cases := []struct {
		hours float64
		want  dialer.Priority
	}{
		{3.5, dialer.PriorityUrgent},
		{4, dialer.PriorityUrgent},
		{4.01, dialer.PriorityHigh},
		{12, dialer.PriorityHigh},
		{12.01, dialer.PriorityNormal},
		{24, dialer.PriorityNormal},
		{24.01, dialer.PriorityLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, priorityFromHoursUntil(tc.hours), "hours=%v", tc.hours)
	}
}

func TestReminderCampaignCancelMarksCallingTasksFailed(t *testing.T) {
	w, dials, sms, _, _ := reminderFixture(t, ReminderConfig{SMSEnabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.StartCampaign(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())

	w.CancelCampaign()

	// The in-flight call still completes, but the task stays failed and
	// no confirmation side effects fire.
	dials.finish(0, true, "appointment_confirmed")

	taskID, err := uuid.Parse(dials.call(0).Metadata["task_id"])
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, ok := w.Task(taskID)
		return ok && task.Attempts == 1
	}, time.Second, 5*time.Millisecond)

	task, _ := w.Task(taskID)
	assert.Equal(t, ReminderFailed, task.Status)
	assert.Equal(t, "Campaign cancelled", task.Notes)
	assert.Equal(t, 0, w.Stats().Confirmed)
	assert.Equal(t, 0, sms.count())
}
