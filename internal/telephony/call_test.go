package telephony

import (
	"context"
	"testing"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from CallState
		to   CallState
		want bool
	}{
		{"trying to ringing", StateTrying, StateRinging, true},
		{"ringing to confirmed", StateRinging, StateConfirmed, true},
		{"ringing to early media", StateRinging, StateEarlyMedia, true},
		{"confirmed to hold", StateConfirmed, StateOnHold, true},
		{"hold back to confirmed", StateOnHold, StateConfirmed, true},
		{"anything to disconnected", StateTrying, StateDisconnected, true},
		{"disconnected is terminal", StateDisconnected, StateRinging, false},
		{"no going backwards", StateConfirmed, StateRinging, false},
		{"unknown state", CallState("parked"), StateRinging, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestSimulatedCallLifecycle(t *testing.T) {
	clk := clock.Fixed{T: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	sim := NewSimulatedClient(func(string) (bool, time.Duration) { return true, 0 }, clk, nil)

	var events []Event
	sim.Subscribe(func(e Event) { events = append(events, e) })

	call, err := sim.Originate(context.Background(), OriginateRequest{
		Destination: "+491701234567",
		CallerID:    "+493012345678",
	})
	if err != nil {
		t.Fatalf("originate: %v", err)
	}

	answered, err := sim.WaitForAnswer(context.Background(), call.ID, time.Second)
	if err != nil {
		t.Fatalf("wait for answer: %v", err)
	}
	if !answered {
		t.Fatal("expected call to be answered")
	}

	got, _ := sim.Call(call.ID)
	if got.State != StateConfirmed {
		t.Errorf("state = %s, want confirmed", got.State)
	}
	if got.AnsweredAt == nil {
		t.Error("expected AnsweredAt to be stamped")
	}

	hung, err := sim.Hangup(context.Background(), call.ID)
	if err != nil || !hung {
		t.Fatalf("hangup = %v, %v", hung, err)
	}
	hung, err = sim.Hangup(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("second hangup: %v", err)
	}
	if hung {
		t.Error("second hangup should report false")
	}

	if len(events) < 3 {
		t.Fatalf("expected at least 3 transitions, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.To != StateDisconnected {
		t.Errorf("last transition = %s, want disconnected", last.To)
	}
}

func TestSimulatedNoAnswer(t *testing.T) {
	sim := NewSimulatedClient(func(string) (bool, time.Duration) { return false, 5 * time.Millisecond }, nil, nil)

	call, err := sim.Originate(context.Background(), OriginateRequest{Destination: "+491700000000"})
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	answered, err := sim.WaitForAnswer(context.Background(), call.ID, time.Second)
	if err != nil {
		t.Fatalf("wait for answer: %v", err)
	}
	if answered {
		t.Error("expected no answer")
	}
	got, _ := sim.Call(call.ID)
	if got.State != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got.State)
	}
}
