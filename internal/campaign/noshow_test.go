package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
)

func noShowFixture(t *testing.T, cfg NoShowConfig, missedAgo time.Duration, apptType scheduling.AppointmentType) (*NoShowWorkflow, *fakeDialQueue, scheduling.Appointment) {
	t.Helper()
	now := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	patientID := uuid.New()
	appt := scheduling.Appointment{
		ID:          uuid.New(),
		PatientID:   patientID,
		PatientName: "Anna Weber",
		Type:        apptType,
		Slot: scheduling.Slot{
			ID:    uuid.New(),
			Start: now.Add(-missedAgo),
		},
	}

	dials := &fakeDialQueue{}
	cal := &fakeCalendar{missed: []scheduling.Appointment{appt}}
	dir := &fakeDirectory{patients: map[uuid.UUID]*scheduling.Patient{
		patientID: {ID: patientID, FirstName: "Anna", LastName: "Weber", Phone: "+49170666"},
	}}

	w := NewNoShowWorkflow(uuid.New(), cfg, cal, dir, allowAllConsent{}, dials, nil, clock.Fixed{T: now}, nil)
	return w, dials, appt
}

func TestNoShowBarrierFlagsManualFollowup(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{}, 2*time.Hour, scheduling.Regular)
	w.WithReasonLookup(func(context.Context, uuid.UUID) string { return "transportation" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	stats, err := w.ProcessNoShows(ctx, NoShowRun{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Identified)
	assert.Equal(t, 1, stats.CallsQueued)
	require.Equal(t, 1, dials.count())
	assert.Equal(t, "no_show", dials.call(0).CallType)
	assert.Equal(t, dialer.PriorityHigh, dials.call(0).Priority)

	// Patient rebooked on the call, but the transportation barrier still
	// needs a human to sort out.
	dials.finish(0, true, "appointment_rescheduled")

	require.Eventually(t, func() bool {
		return w.Stats().BarriersIdentified == 1
	}, time.Second, 5*time.Millisecond)

	taskID, err := uuid.Parse(dials.call(0).Metadata["task_id"])
	require.NoError(t, err)
	task, ok := w.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, NoShowBarrierIdentified, task.Outcome)
	assert.Equal(t, ReasonTransportation, task.Reason)
	assert.True(t, task.NeedsManualFollowup)
	assert.Equal(t, 1, w.Stats().Rescheduled)
	require.Len(t, w.ManualFollowups(), 1)
}

func TestNoShowRescheduleWithoutBarrier(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{}, 6*time.Hour, scheduling.Regular)
	w.WithReasonLookup(func(context.Context, uuid.UUID) string { return "forgot" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.ProcessNoShows(ctx, NoShowRun{})
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())
	assert.Equal(t, dialer.PriorityNormal, dials.call(0).Priority)

	dials.finish(0, true, "appointment_rescheduled")

	require.Eventually(t, func() bool { return w.Stats().Rescheduled == 1 }, time.Second, 5*time.Millisecond)

	taskID, _ := uuid.Parse(dials.call(0).Metadata["task_id"])
	task, _ := w.Task(taskID)
	assert.Equal(t, NoShowRescheduled, task.Outcome)
	assert.Equal(t, ReasonForgot, task.Reason)
	assert.False(t, task.NeedsManualFollowup)
	assert.Empty(t, w.ManualFollowups())
}

func TestNoShowAcuteAppointmentGetsHighPriority(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{}, 48*time.Hour, scheduling.Acute)

	_, err := w.ProcessNoShows(context.Background(), NoShowRun{})
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())
	assert.Equal(t, dialer.PriorityHigh, dials.call(0).Priority)
}

func TestNoShowUnreachableAfterMaxAttempts(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{MaxAttempts: 1}, 3*time.Hour, scheduling.Regular)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.ProcessNoShows(ctx, NoShowRun{})
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())

	dials.finish(0, false, dialer.OutcomeNoAnswer)

	require.Eventually(t, func() bool { return w.Stats().Unreachable == 1 }, time.Second, 5*time.Millisecond)

	taskID, _ := uuid.Parse(dials.call(0).Metadata["task_id"])
	task, _ := w.Task(taskID)
	assert.Equal(t, NoShowUnreachable, task.Outcome)
	assert.Equal(t, ReasonNotDisclosed, task.Reason)
	assert.True(t, task.NeedsManualFollowup)
}

func TestNoShowRetryStaysInsideWindow(t *testing.T) {
	// Missed 71h ago with a 4h retry delay: the retry would land past the
	// 72h window, so the task goes straight to manual follow-up.
	w, dials, _ := noShowFixture(t, NoShowConfig{RetryDelay: 4 * time.Hour}, 71*time.Hour, scheduling.Regular)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.ProcessNoShows(ctx, NoShowRun{})
	require.NoError(t, err)
	require.Equal(t, 1, dials.count())

	dials.finish(0, false, dialer.OutcomeNoAnswer)

	require.Eventually(t, func() bool { return w.Stats().ManualFollowups == 1 }, time.Second, 5*time.Millisecond)

	taskID, _ := uuid.Parse(dials.call(0).Metadata["task_id"])
	task, _ := w.Task(taskID)
	assert.Equal(t, NoShowNeedsFollowup, task.Outcome)
	assert.Equal(t, 1, dials.count())
}

func TestNoShowWithoutConsentIsAuditedAndFlagged(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{}, 2*time.Hour, scheduling.Regular)
	auditLog, mock := consentMissAudit(t, w.tenantID, "noshow_followup", "noshow_task", pgxmock.AnyArg())
	w.consents = denyAllConsent{}
	w.auditLog = auditLog

	stats, err := w.ProcessNoShows(context.Background(), NoShowRun{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Identified)
	assert.Equal(t, 0, stats.CallsQueued)
	assert.Equal(t, 0, dials.count())

	followups := w.ManualFollowups()
	require.Len(t, followups, 1)
	assert.Equal(t, NoShowNeedsFollowup, followups[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNoShowRunNarrowsScanWindow(t *testing.T) {
	now := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{}
	w := NewNoShowWorkflow(uuid.New(), NoShowConfig{}, cal, &fakeDirectory{}, allowAllConsent{}, &fakeDialQueue{}, nil, clock.Fixed{T: now}, nil)

	day := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	_, err := w.ProcessNoShows(context.Background(), NoShowRun{
		TargetDate:    &day,
		MinHoursAfter: 1,
		MaxHoursAfter: 48,
	})
	require.NoError(t, err)

	// 48h back reaches into May 2nd and the 1h grace ends mid-afternoon;
	// the target day clamps both edges to its midnight boundaries.
	from, to := cal.missedWindow()
	assert.Equal(t, day, from)
	assert.Equal(t, day.AddDate(0, 0, 1), to)
}

func TestNoShowScanIsIdempotent(t *testing.T) {
	w, dials, _ := noShowFixture(t, NoShowConfig{}, 2*time.Hour, scheduling.Regular)

	_, err := w.ProcessNoShows(context.Background(), NoShowRun{})
	require.NoError(t, err)
	stats, err := w.ProcessNoShows(context.Background(), NoShowRun{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Identified)
	assert.Equal(t, 1, dials.count())
}
