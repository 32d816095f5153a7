// Package telephony abstracts the SIP/PBX layer the dialer and the
// conversation driver talk to.
package telephony

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the SIP-level lifecycle state of a call.
type CallState string

const (
	StateTrying       CallState = "trying"
	StateRinging      CallState = "ringing"
	StateEarlyMedia   CallState = "early_media"
	StateConfirmed    CallState = "confirmed"
	StateOnHold       CallState = "on_hold"
	StateDisconnected CallState = "disconnected"
)

// Direction of the call relative to us.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Call is one SIP call leg with timestamps for CDR-style bookkeeping.
type Call struct {
	ID          uuid.UUID
	SIPID       string
	Direction   Direction
	State       CallState
	Caller      string
	Callee      string
	Metadata    map[string]string
	CreatedAt   time.Time
	RingingAt   *time.Time
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	HangupCause string
}

// Active reports whether the call is still in progress.
func (c *Call) Active() bool {
	return c.State != StateDisconnected
}

// stateOrder encodes the legal forward progression of a call.
var stateOrder = map[CallState]int{
	StateTrying:       0,
	StateRinging:      1,
	StateEarlyMedia:   2,
	StateConfirmed:    3,
	StateOnHold:       3,
	StateDisconnected: 4,
}

// CanTransition reports whether a state change is legal. Hold and resume
// flip between confirmed and on_hold; disconnected is reachable from
// anywhere and terminal.
func CanTransition(from, to CallState) bool {
	if from == StateDisconnected {
		return false
	}
	if to == StateDisconnected {
		return true
	}
	if from == StateConfirmed && to == StateOnHold {
		return true
	}
	if from == StateOnHold && to == StateConfirmed {
		return true
	}
	fo, ok := stateOrder[from]
	if !ok {
		return false
	}
	to2, ok := stateOrder[to]
	if !ok {
		return false
	}
	return to2 > fo
}

// Event is one call state transition delivered to listeners.
type Event struct {
	CallID    uuid.UUID
	SIPID     string
	From      CallState
	To        CallState
	Timestamp time.Time
}

// EventListener receives call state transitions.
type EventListener func(Event)
