package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/telephony"
)

func alwaysOpen(t *testing.T) clock.BusinessHours {
	t.Helper()
	hours, err := clock.ParseBusinessHours("00:00", "23:59", "", false)
	if err != nil {
		t.Fatalf("parse hours: %v", err)
	}
	return hours
}

func fastConfig() Config {
	return Config{
		CallsPerMinute:     6000,
		MaxConcurrentCalls: 3,
		RingTimeout:        200 * time.Millisecond,
		DrainTimeout:       2 * time.Second,
	}
}

type denyGate struct{}

func (denyGate) CheckAll(context.Context, uuid.UUID, uuid.UUID, []consent.Type) (bool, error) {
	return false, nil
}

type errGate struct{}

func (errGate) CheckAll(context.Context, uuid.UUID, uuid.UUID, []consent.Type) (bool, error) {
	return false, errors.New("consent store down")
}

func TestSnapshotOrdersByPriorityThenAge(t *testing.T) {
	clk := &clock.Stepping{T: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	d := New(fastConfig(), nil, alwaysOpen(t), clk, nil)

	low := d.QueueCall(QueuedCall{Phone: "+491", Priority: PriorityLow})
	clk.Advance(time.Second)
	normalOld := d.QueueCall(QueuedCall{Phone: "+492", Priority: PriorityNormal})
	clk.Advance(time.Second)
	normalNew := d.QueueCall(QueuedCall{Phone: "+493", Priority: PriorityNormal})
	clk.Advance(time.Second)
	urgent := d.QueueCall(QueuedCall{Phone: "+494", Priority: PriorityUrgent})

	snap := d.Snapshot()
	want := []uuid.UUID{urgent, normalOld, normalNew, low}
	if len(snap) != len(want) {
		t.Fatalf("snapshot size = %d, want %d", len(snap), len(want))
	}
	for i, id := range want {
		if snap[i].CallID != id {
			t.Errorf("position %d: got %s, want %s", i, snap[i].CallID, id)
		}
	}
}

func TestCancelCallTwice(t *testing.T) {
	d := New(fastConfig(), nil, alwaysOpen(t), nil, nil)

	results := make(chan Result, 1)
	id := d.QueueCall(QueuedCall{
		Phone:    "+491701234567",
		Priority: PriorityNormal,
		Callback: func(r Result) { results <- r },
	})

	if !d.CancelCall(id) {
		t.Fatal("first cancel should succeed")
	}
	if d.CancelCall(id) {
		t.Fatal("second cancel should report false")
	}
	r := <-results
	if r.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", r.Outcome)
	}
	if d.CancelCall(uuid.New()) {
		t.Error("cancelling an unknown id should report false")
	}
}

func TestClearQueueDeliversCancelledResults(t *testing.T) {
	d := New(fastConfig(), nil, alwaysOpen(t), nil, nil)

	results := make(chan Result, 3)
	cb := func(r Result) { results <- r }
	d.QueueCall(QueuedCall{Phone: "+491", Priority: PriorityHigh, Callback: cb})
	d.QueueCall(QueuedCall{Phone: "+492", Priority: PriorityLow, Callback: cb})
	future := time.Now().Add(time.Hour)
	d.QueueCall(QueuedCall{Phone: "+493", Priority: PriorityNormal, ScheduledAt: &future, Callback: cb})

	if n := d.ClearQueue(); n != 3 {
		t.Fatalf("cleared = %d, want 3", n)
	}
	for i := 0; i < 3; i++ {
		r := <-results
		if r.Outcome != OutcomeCancelled {
			t.Errorf("outcome = %s, want cancelled", r.Outcome)
		}
	}
	if got := d.Stats().QueueSize; got != 0 {
		t.Errorf("queue size after clear = %d", got)
	}
}

func TestDialerPlacesCallAndReportsOutcome(t *testing.T) {
	sim := telephony.NewSimulatedClient(func(string) (bool, time.Duration) { return true, 0 }, nil, nil)
	d := New(fastConfig(), sim, alwaysOpen(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	results := make(chan Result, 1)
	d.QueueCall(QueuedCall{
		Phone:    "+491701234567",
		CallType: "reminder",
		Priority: PriorityHigh,
		Callback: func(r Result) { results <- r },
	})

	select {
	case r := <-results:
		if !r.Answered {
			t.Error("expected answered call")
		}
		if r.Outcome != OutcomeCompleted {
			t.Errorf("outcome = %s, want completed", r.Outcome)
		}
		if r.CallType != "reminder" {
			t.Errorf("call type = %s", r.CallType)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call result")
	}

	if got := d.Stats().CompletedToday; got != 1 {
		t.Errorf("completed today = %d, want 1", got)
	}
}

func TestDialerNoAnswer(t *testing.T) {
	sim := telephony.NewSimulatedClient(func(string) (bool, time.Duration) { return false, 10 * time.Millisecond }, nil, nil)
	d := New(fastConfig(), sim, alwaysOpen(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	results := make(chan Result, 1)
	d.QueueCall(QueuedCall{Phone: "+491700000000", Callback: func(r Result) { results <- r }})

	select {
	case r := <-results:
		if r.Answered {
			t.Error("expected unanswered call")
		}
		if r.Outcome != OutcomeNoAnswer {
			t.Errorf("outcome = %s, want no_answer", r.Outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call result")
	}
}

func TestDialerConsentGate(t *testing.T) {
	sim := telephony.NewSimulatedClient(nil, nil, nil)

	t.Run("denied", func(t *testing.T) {
		d := New(fastConfig(), sim, alwaysOpen(t), nil, nil).WithConsentGate(denyGate{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Start(ctx)
		defer d.Stop()

		results := make(chan Result, 1)
		d.QueueCall(QueuedCall{Phone: "+491", Callback: func(r Result) { results <- r }})
		select {
		case r := <-results:
			if r.Outcome != OutcomeNoConsent {
				t.Errorf("outcome = %s, want no_consent", r.Outcome)
			}
			if r.Answered {
				t.Error("consent-refused call must not be dialed")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out")
		}
	})

	t.Run("gate error", func(t *testing.T) {
		d := New(fastConfig(), sim, alwaysOpen(t), nil, nil).WithConsentGate(errGate{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d.Start(ctx)
		defer d.Stop()

		results := make(chan Result, 1)
		d.QueueCall(QueuedCall{Phone: "+491", Callback: func(r Result) { results <- r }})
		select {
		case r := <-results:
			if r.Outcome != OutcomeError {
				t.Errorf("outcome = %s, want error", r.Outcome)
			}
			if r.Err == nil {
				t.Error("expected error in result")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out")
		}
	})
}

// slowRunner holds each answered call for a while and tracks how many
// run at once.
type slowRunner struct {
	hold time.Duration

	mu     sync.Mutex
	active int
	peak   int
}

func (r *slowRunner) RunCall(context.Context, *telephony.Call, QueuedCall) (string, error) {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	time.Sleep(r.hold)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return OutcomeCompleted, nil
}

func (r *slowRunner) peakActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func TestThrottleSpacesDispatches(t *testing.T) {
	sim := telephony.NewSimulatedClient(func(string) (bool, time.Duration) { return true, 0 }, nil, nil)
	cfg := fastConfig()
	// 120 per minute is one dispatch every 500ms once the burst token is
	// spent, so three calls need at least a second.
	cfg.CallsPerMinute = 120
	d := New(cfg, sim, alwaysOpen(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	results := make(chan Result, 3)
	cb := func(r Result) { results <- r }
	start := time.Now()
	for i := 0; i < 3; i++ {
		d.QueueCall(QueuedCall{Phone: "+491700000001", Callback: cb})
	}
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			if r.Outcome != OutcomeCompleted {
				t.Errorf("outcome = %s, want completed", r.Outcome)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for throttled calls")
		}
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("three calls finished in %v, faster than 120/min allows", elapsed)
	}
}

func TestConcurrencyCapHolds(t *testing.T) {
	sim := telephony.NewSimulatedClient(func(string) (bool, time.Duration) { return true, 0 }, nil, nil)
	cfg := fastConfig()
	cfg.MaxConcurrentCalls = 2
	runner := &slowRunner{hold: 80 * time.Millisecond}
	d := New(cfg, sim, alwaysOpen(t), nil, nil).WithRunner(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	results := make(chan Result, 6)
	cb := func(r Result) { results <- r }
	for i := 0; i < 6; i++ {
		d.QueueCall(QueuedCall{Phone: "+491700000002", Callback: cb})
	}
	for i := 0; i < 6; i++ {
		select {
		case <-results:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for call results")
		}
		if active := d.Stats().ActiveCalls; active > 2 {
			t.Errorf("active calls = %d, cap is 2", active)
		}
	}
	if peak := runner.peakActive(); peak > 2 {
		t.Errorf("peak concurrent calls = %d, cap is 2", peak)
	}
	if runner.peakActive() == 0 {
		t.Error("no call reached the conversation runner")
	}
}

func TestStopCancelsRemainingQueue(t *testing.T) {
	d := New(fastConfig(), nil, alwaysOpen(t), nil, nil)

	results := make(chan Result, 2)
	cb := func(r Result) { results <- r }
	d.QueueCall(QueuedCall{Phone: "+491", Callback: cb})
	d.QueueCall(QueuedCall{Phone: "+492", Callback: cb})

	d.Stop()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.Outcome != OutcomeCancelled {
				t.Errorf("outcome = %s, want cancelled", r.Outcome)
			}
		case <-time.After(time.Second):
			t.Fatal("callback not delivered")
		}
	}
	if d.Status() != StatusStopped {
		t.Errorf("status = %s", d.Status())
	}
}

func TestScheduledCallWaitsUntilDue(t *testing.T) {
	d := New(fastConfig(), nil, alwaysOpen(t), nil, nil)

	future := time.Now().Add(time.Hour)
	d.QueueCall(QueuedCall{Phone: "+491", ScheduledAt: &future})
	d.QueueCall(QueuedCall{Phone: "+492"})

	if got := d.Stats().QueueSize; got != 2 {
		t.Fatalf("queue size = %d, want 2", got)
	}
	// Only the immediate call sits on the live heap.
	d.mu.Lock()
	live, held := d.queue.Len(), len(d.deferred)
	d.mu.Unlock()
	if live != 1 || held != 1 {
		t.Errorf("live = %d, deferred = %d, want 1 and 1", live, held)
	}
}

func TestPauseBlocksDispatch(t *testing.T) {
	sim := telephony.NewSimulatedClient(nil, nil, nil)
	d := New(fastConfig(), sim, alwaysOpen(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Pause()
	defer d.Stop()

	results := make(chan Result, 1)
	d.QueueCall(QueuedCall{Phone: "+491", Callback: func(r Result) { results <- r }})

	select {
	case <-results:
		t.Fatal("paused dialer must not place calls")
	case <-time.After(100 * time.Millisecond):
	}

	d.Resume()
	select {
	case r := <-results:
		if r.Outcome != OutcomeCompleted {
			t.Errorf("outcome = %s, want completed", r.Outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("resumed dialer did not place the call")
	}
}
