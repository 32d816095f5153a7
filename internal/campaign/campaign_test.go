package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
)

// fakeDialQueue records queued calls instead of dialing. Tests fire the
// recorded callbacks to simulate call outcomes.
type fakeDialQueue struct {
	mu    sync.Mutex
	calls []dialer.QueuedCall
}

func (f *fakeDialQueue) QueueCall(c dialer.QueuedCall) uuid.UUID {
	if c.CallID == uuid.Nil {
		c.CallID = uuid.New()
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return c.CallID
}

func (f *fakeDialQueue) CancelCall(uuid.UUID) bool { return false }

func (f *fakeDialQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDialQueue) call(i int) dialer.QueuedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// finish fires the callback of call i with the given outcome.
func (f *fakeDialQueue) finish(i int, answered bool, outcome string) {
	c := f.call(i)
	c.Callback(dialer.Result{
		CallID:    c.CallID,
		PatientID: c.PatientID,
		CallType:  c.CallType,
		Answered:  answered,
		Outcome:   outcome,
	})
}

type fakeSMSQueue struct {
	mu   sync.Mutex
	sent []*messaging.Message
}

func (f *fakeSMSQueue) Enqueue(_ context.Context, m *messaging.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeSMSQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSMSQueue) message(i int) *messaging.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

type allowAllConsent struct{}

func (allowAllConsent) Check(context.Context, uuid.UUID, uuid.UUID, consent.Type) (bool, error) {
	return true, nil
}

type denyAllConsent struct{}

func (denyAllConsent) Check(context.Context, uuid.UUID, uuid.UUID, consent.Type) (bool, error) {
	return false, nil
}

type fakeCalendar struct {
	mu         sync.Mutex
	upcoming   []scheduling.Appointment
	missed     []scheduling.Appointment
	confirmed  []uuid.UUID
	missedFrom time.Time
	missedTo   time.Time
}

func (f *fakeCalendar) AppointmentsOn(context.Context, time.Time) ([]scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upcoming, nil
}

func (f *fakeCalendar) MissedBetween(_ context.Context, from, to time.Time) ([]scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missedFrom, f.missedTo = from, to
	return f.missed, nil
}

// missedWindow returns the window of the last MissedBetween call.
func (f *fakeCalendar) missedWindow() (time.Time, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missedFrom, f.missedTo
}

func (f *fakeCalendar) MarkConfirmed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.confirmed = append(f.confirmed, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeCalendar) confirmedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.confirmed...)
}

type fakeDirectory struct {
	patients map[uuid.UUID]*scheduling.Patient
}

func (f *fakeDirectory) Patient(_ context.Context, id uuid.UUID) (*scheduling.Patient, error) {
	return f.patients[id], nil
}

// consentMissAudit builds an audit logger whose backing mock expects
// exactly one consent_miss append for the tenant. resourceID may be a
// concrete string or pgxmock.AnyArg().
func consentMissAudit(t *testing.T, tenantID uuid.UUID, actorID, resourceType string, resourceID any) (*audit.Logger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectQuery("SELECT checksum FROM audit_entries").
		WithArgs(tenantID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO audit_entries").
		WithArgs(pgxmock.AnyArg(), tenantID, pgxmock.AnyArg(), audit.ActionConsentMiss, actorID, "system",
			resourceType, resourceID, pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(1)))

	return audit.NewLogger(mock, nil), mock
}
