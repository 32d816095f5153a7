package messaging

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusQueued, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusFailed, true},
		{StatusSent, StatusUndelivered, true},
		{StatusFailed, StatusUndelivered, true},
		{StatusDelivered, StatusSent, false},
		{StatusDelivered, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusQueued, false},
		{Status("bogus"), StatusSent, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMessageLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewMessage(uuid.New(), "+491701234567", "+4930123456", "Ihr Termin ist morgen.")
	if m.Status != StatusPending || m.MaxRetries != 3 {
		t.Fatalf("unexpected defaults: status=%s max_retries=%d", m.Status, m.MaxRetries)
	}

	m.MarkQueued(now)
	m.MarkSent("SM123", now.Add(time.Second))
	if m.Status != StatusSent || m.ProviderMessageID != "SM123" || m.SentAt == nil {
		t.Fatalf("mark sent did not apply: %+v", m)
	}
	m.MarkDelivered(now.Add(time.Minute))
	if m.Status != StatusDelivered || m.DeliveredAt == nil {
		t.Fatalf("mark delivered did not apply")
	}
	if m.CanRetry() {
		t.Fatalf("delivered message must not be retryable")
	}
}

func TestCanRetryAndIncrement(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewMessage(uuid.New(), "+491701234567", "+4930123456", "test")
	m.MarkFailed("30003", "Unreachable destination handset", now)
	if !m.CanRetry() {
		t.Fatalf("failed message with attempts left should be retryable")
	}

	m.IncrementRetry(60*time.Second, now)
	if m.RetryCount != 1 || m.Status != StatusPending {
		t.Fatalf("increment retry: count=%d status=%s", m.RetryCount, m.Status)
	}
	if m.NextRetryAt == nil || !m.NextRetryAt.Equal(now.Add(60*time.Second)) {
		t.Fatalf("next retry at = %v, want %v", m.NextRetryAt, now.Add(60*time.Second))
	}

	m.MarkFailed("30003", "still unreachable", now)
	m.IncrementRetry(120*time.Second, now)
	m.MarkUndelivered("30003", "still unreachable", now)
	m.IncrementRetry(240*time.Second, now)
	m.MarkFailed("30003", "still unreachable", now)
	if m.CanRetry() {
		t.Fatalf("retries should be exhausted at max_retries=%d", m.MaxRetries)
	}
}

func TestCountSegments(t *testing.T) {
	cases := []struct {
		length int
		want   int
	}{
		{0, 0},
		{1, 1},
		{160, 1},
		{161, 2},
		{306, 2},
		{307, 3},
	}
	for _, tc := range cases {
		body := make([]rune, tc.length)
		for i := range body {
			body[i] = 'a'
		}
		if got := CountSegments(string(body)); got != tc.want {
			t.Errorf("CountSegments(len %d) = %d, want %d", tc.length, got, tc.want)
		}
	}
}

func TestNormalizeGermanNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+49 170 1234567", "+491701234567"},
		{"0170 1234567", "+491701234567"},
		{"0049 170 1234567", "+491701234567"},
		{"030/123456", "+4930123456"},
		{"491701234567", "+491701234567"},
		{"", ""},
		{"12", ""},
	}
	for _, tc := range cases {
		if got := NormalizeGermanNumber(tc.in); got != tc.want {
			t.Errorf("NormalizeGermanNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
