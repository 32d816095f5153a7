package emailintake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/internal/routing"
	"github.com/itf-gmbh/phone-agent/internal/tenancy"
)

func TestCipherRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("imap-geheim")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "imap-geheim")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "imap-geheim", plain)

	_, err = c.Decrypt(sealed[:len(sealed)-4] + "AAAA")
	assert.Error(t, err)
}

func TestCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

type fakeMailbox struct {
	messages  []RawMessage
	processed []uint32
	closed    bool
}

func (f *fakeMailbox) FetchUnread(context.Context) ([]RawMessage, error) { return f.messages, nil }
func (f *fakeMailbox) MarkProcessed(_ context.Context, seq uint32) error {
	f.processed = append(f.processed, seq)
	return nil
}
func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct{ box *fakeMailbox }

func (f *fakeDialer) Dial(context.Context, MailboxConfig, string) (Mailbox, error) {
	return f.box, nil
}

type fakeTaskStore struct{ inserted []*tenancy.Task }

func (f *fakeTaskStore) InsertTask(_ context.Context, _ tenancy.Querier, task *tenancy.Task) error {
	f.inserted = append(f.inserted, task)
	return nil
}

type fakeRouter struct{ routed []*tenancy.Task }

func (f *fakeRouter) RouteTask(_ context.Context, task *tenancy.Task) (*routing.Decision, error) {
	f.routed = append(f.routed, task)
	task.Status = tenancy.TaskAssigned
	return &routing.Decision{Reason: "Default fallback: Kundendienst"}, nil
}

type fakeReplier struct{ sent []notify.EmailMessage }

func (f *fakeReplier) Send(_ context.Context, msg notify.EmailMessage) (*notify.SendResult, error) {
	f.sent = append(f.sent, msg)
	return &notify.SendResult{}, nil
}

func intakeFixture(t *testing.T, messages ...RawMessage) (*Service, *fakeTaskStore, *fakeRouter, *fakeReplier, *fakeMailbox) {
	t.Helper()
	cipher, err := NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	encrypted, err := cipher.Encrypt("password")
	require.NoError(t, err)

	box := &fakeMailbox{messages: messages}
	tasks := &fakeTaskStore{}
	router := &fakeRouter{}
	replier := &fakeReplier{}

	cfg := MailboxConfig{
		IMAPHost:          "imap.example.com",
		Username:          "info@mueller-shk.de",
		EncryptedPassword: encrypted,
		MarkRead:          true,
		SendAutoReply:     true,
		CompanyName:       "Müller SHK GmbH",
		EmergencyPhone:    "0800 111222",
	}
	svc := NewService(uuid.New(), cfg, &fakeDialer{box: box}, cipher, NewClassifier(nil, "", nil), tasks, router,
		clock.Fixed{T: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}, nil).
		WithReplier(replier)
	return svc, tasks, router, replier, box
}

func TestPollOnceCreatesRoutedTaskAndReplies(t *testing.T) {
	raw := rawMail(map[string]string{
		"From":         "Max Mustermann <max@example.com>",
		"To":           "info@mueller-shk.de",
		"Subject":      "Heizung komplett ausgefallen",
		"Message-Id":   "<msg-1@example.com>",
		"Content-Type": "text/plain; charset=utf-8",
	}, "Guten Tag, unsere Heizung ist komplett ausgefallen, wir haben keine Heizung mehr.\r\n")

	svc, tasks, router, replier, box := intakeFixture(t, RawMessage{SeqNum: 7, Body: []byte(raw)})

	results, err := svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.Len(t, tasks.inserted, 1)
	task := tasks.inserted[0]
	assert.Equal(t, tenancy.SourceEmail, task.SourceType)
	assert.Equal(t, "msg-1@example.com", task.SourceID)
	assert.Equal(t, "repairs", task.TaskType)
	assert.Equal(t, tenancy.UrgencyNotfall, task.Urgency)
	assert.Equal(t, "shk", task.TradeCategory)
	assert.Equal(t, "max@example.com", task.CustomerEmail)
	require.Len(t, router.routed, 1)

	require.Len(t, replier.sent, 1)
	reply := replier.sent[0]
	assert.Equal(t, "max@example.com", reply.To)
	assert.Equal(t, "Re: Heizung komplett ausgefallen", reply.Subject)
	assert.Contains(t, reply.Body, "DRINGLICH")
	assert.Contains(t, reply.Body, "0800 111222")
	assert.Contains(t, reply.Body, "Müller SHK GmbH")
	assert.True(t, strings.HasPrefix(results[0].TicketNumber, "TKT-20260824-"))
	assert.Contains(t, reply.Body, results[0].TicketNumber)

	assert.Equal(t, []uint32{7}, box.processed)
	assert.True(t, box.closed)
}

func TestPollOnceSkipsSpamButMarksProcessed(t *testing.T) {
	raw := rawMail(map[string]string{
		"From":         "promo@spam.example",
		"To":           "info@mueller-shk.de",
		"Subject":      "Newsletter",
		"Message-Id":   "<spam-1@example.com>",
		"Content-Type": "text/plain; charset=utf-8",
	}, "Jetzt Rabatt sichern! Hier abbestellen.\r\n")

	svc, tasks, _, replier, box := intakeFixture(t, RawMessage{SeqNum: 3, Body: []byte(raw)})

	results, err := svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "spam", results[0].Skipped)
	assert.Empty(t, tasks.inserted)
	assert.Empty(t, replier.sent)
	assert.Equal(t, []uint32{3}, box.processed)
}

func TestPollOnceSuppressesReplyToAutomatedMail(t *testing.T) {
	raw := rawMail(map[string]string{
		"From":           "noreply@example.com",
		"To":             "info@mueller-shk.de",
		"Subject":        "Termin bestätigen",
		"Message-Id":     "<auto-1@example.com>",
		"Auto-Submitted": "auto-generated",
		"Content-Type":   "text/plain; charset=utf-8",
	}, "Bitte bestätigen Sie den Termin.\r\n")

	svc, tasks, _, replier, _ := intakeFixture(t, RawMessage{SeqNum: 1, Body: []byte(raw)})

	results, err := svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, tasks.inserted, 1) // the task is still worth creating
	assert.Empty(t, replier.sent)
	assert.False(t, results[0].AutoReplySent)
}
