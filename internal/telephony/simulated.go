package telephony

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// AnswerDecider controls how the simulated PBX treats a destination.
type AnswerDecider func(destination string) (answer bool, delay time.Duration)

// SimulatedClient is an in-memory SIPClient for development and tests.
// Calls progress trying -> ringing -> confirmed (or disconnected) on their
// own goroutine.
type SimulatedClient struct {
	mu        sync.Mutex
	calls     map[uuid.UUID]*Call
	answered  map[uuid.UUID]chan bool
	listeners []EventListener
	decide    AnswerDecider
	clk       clock.Clock
	logger    *logging.Logger
}

func NewSimulatedClient(decide AnswerDecider, clk clock.Clock, logger *logging.Logger) *SimulatedClient {
	if decide == nil {
		decide = func(string) (bool, time.Duration) { return true, 0 }
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SimulatedClient{
		calls:    make(map[uuid.UUID]*Call),
		answered: make(map[uuid.UUID]chan bool),
		decide:   decide,
		clk:      clk,
		logger:   logger.WithComponent("sip_sim"),
	}
}

func (s *SimulatedClient) Originate(ctx context.Context, req OriginateRequest) (*Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	call := &Call{
		ID:        uuid.New(),
		SIPID:     "sim-" + uuid.NewString()[:8],
		Direction: DirectionOutbound,
		State:     StateTrying,
		Caller:    req.CallerID,
		Callee:    req.Destination,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	done := make(chan bool, 1)

	s.mu.Lock()
	s.calls[call.ID] = call
	s.answered[call.ID] = done
	s.mu.Unlock()

	answer, delay := s.decide(req.Destination)
	go s.progress(call.ID, answer, delay)
	return call, nil
}

func (s *SimulatedClient) progress(callID uuid.UUID, answer bool, delay time.Duration) {
	s.transition(callID, StateRinging)
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	done := s.answered[callID]
	s.mu.Unlock()
	if answer {
		s.transition(callID, StateConfirmed)
	} else {
		s.transition(callID, StateDisconnected)
	}
	if done != nil {
		done <- answer
	}
}

func (s *SimulatedClient) WaitForAnswer(ctx context.Context, callID uuid.UUID, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	done, ok := s.answered[callID]
	s.mu.Unlock()
	if !ok {
		return false, ErrCallNotFound
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case answered := <-done:
		return answered, nil
	case <-timer.C:
		return false, nil
	}
}

func (s *SimulatedClient) Hangup(_ context.Context, callID uuid.UUID) (bool, error) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return false, ErrCallNotFound
	}
	if call.State == StateDisconnected {
		return false, nil
	}
	s.transition(callID, StateDisconnected)
	return true, nil
}

func (s *SimulatedClient) HandleIncomingCall(_ context.Context, sipID, caller, callee string, metadata map[string]string) (*Call, error) {
	now := s.clk.Now()
	call := &Call{
		ID:        uuid.New(),
		SIPID:     sipID,
		Direction: DirectionInbound,
		State:     StateRinging,
		Caller:    caller,
		Callee:    callee,
		Metadata:  metadata,
		CreatedAt: now,
		RingingAt: &now,
	}
	s.mu.Lock()
	s.calls[call.ID] = call
	s.answered[call.ID] = make(chan bool, 1)
	s.mu.Unlock()
	return call, nil
}

func (s *SimulatedClient) Subscribe(listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Call returns the tracked call, for assertions.
func (s *SimulatedClient) Call(callID uuid.UUID) (*Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	return call, ok
}

func (s *SimulatedClient) transition(callID uuid.UUID, to CallState) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return
	}
	from := call.State
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	call.State = to
	switch to {
	case StateRinging:
		call.RingingAt = &now
	case StateConfirmed:
		call.AnsweredAt = &now
	case StateDisconnected:
		call.EndedAt = &now
	}
	listeners := make([]EventListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	event := Event{CallID: callID, SIPID: call.SIPID, From: from, To: to, Timestamp: now}
	for _, l := range listeners {
		l(event)
	}
}

var _ SIPClient = (*SimulatedClient)(nil)
