package control

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/campaign"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
)

type emptyCalendar struct{}

func (emptyCalendar) AppointmentsOn(context.Context, time.Time) ([]scheduling.Appointment, error) {
	return nil, nil
}
func (emptyCalendar) MissedBetween(context.Context, time.Time, time.Time) ([]scheduling.Appointment, error) {
	return nil, nil
}
func (emptyCalendar) MarkConfirmed(context.Context, uuid.UUID) error { return nil }

type noDirectory struct{}

func (noDirectory) Patient(context.Context, uuid.UUID) (*scheduling.Patient, error) {
	return nil, nil
}

type openConsent struct{}

func (openConsent) Check(context.Context, uuid.UUID, uuid.UUID, consent.Type) (bool, error) {
	return true, nil
}

type nullQueue struct{}

func (nullQueue) QueueCall(dialer.QueuedCall) uuid.UUID { return uuid.New() }
func (nullQueue) CancelCall(uuid.UUID) bool             { return false }

type nullSMS struct{}

func (nullSMS) Enqueue(context.Context, *messaging.Message) error { return nil }

func testController(t *testing.T) *Controller {
	t.Helper()
	clk := clock.Fixed{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	reminders := campaign.NewReminderWorkflow(uuid.New(), campaign.ReminderConfig{},
		emptyCalendar{}, noDirectory{}, openConsent{}, nullQueue{}, nil, nil, clk, nil)
	return NewController(clk, nil).WithReminders(reminders)
}

func TestStartReminderCampaignRejectsPastDate(t *testing.T) {
	c := testController(t)
	_, err := c.StartReminderCampaign(context.Background(), time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestStartReminderCampaignDefaultsToTomorrow(t *testing.T) {
	c := testController(t)
	stats, err := c.StartReminderCampaign(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalAppointments)
}

func TestUnconfiguredComponentsReturnSentinel(t *testing.T) {
	c := NewController(nil, nil)

	_, err := c.ProcessNoShows(context.Background(), campaign.NoShowRun{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.StartRecallCalling(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = c.CallQueue()
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.PauseDialer(), ErrNotConfigured)
	_, err = c.HandleSMSWebhook(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStartRecallCallingUnknownCampaignIsNotFound(t *testing.T) {
	clk := clock.Fixed{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	recalls := campaign.NewRecallWorkflow(uuid.New(), "Praxis am Markt", "+493055555",
		openConsent{}, nullQueue{}, nullSMS{}, nil, clk, nil)
	c := NewController(clk, nil).WithRecalls(recalls)

	_, err := c.StartRecallCalling(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestDialerCommands(t *testing.T) {
	hours, err := clock.ParseBusinessHours("00:00", "23:59", "", false)
	require.NoError(t, err)
	d := dialer.New(dialer.Config{}, nil, hours, clock.System{}, nil)
	c := NewController(nil, nil).WithDialer(d)

	id := d.QueueCall(dialer.QueuedCall{Phone: "+49170111", Priority: dialer.PriorityNormal})

	queue, stats, err := c.CallQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 1)
	assert.Equal(t, 1, stats.QueueSize)

	ok, err := c.CancelQueuedCall(id)
	require.NoError(t, err)
	assert.True(t, ok)

	cleared, err := c.ClearCallQueue()
	require.NoError(t, err)
	assert.Equal(t, 0, cleared)

	require.NoError(t, c.PauseDialer())
	require.NoError(t, c.ResumeDialer())
}
