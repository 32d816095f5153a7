package telephony

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCallNotFound is returned for operations on unknown call ids.
	ErrCallNotFound = errors.New("telephony: call not found")
	// ErrOriginateFailed is returned when the PBX rejects the origination.
	ErrOriginateFailed = errors.New("telephony: originate failed")
)

// OriginateRequest describes an outbound call to place.
type OriginateRequest struct {
	Destination string
	CallerID    string
	RingTimeout time.Duration
	Metadata    map[string]string
}

// SIPClient is the PBX-facing surface. Implementations deliver state
// transitions through the listener registry.
type SIPClient interface {
	// Originate places an outbound call and returns it in trying state.
	Originate(ctx context.Context, req OriginateRequest) (*Call, error)
	// WaitForAnswer blocks until the call is confirmed, disconnected, or
	// the timeout elapses. Returns true only for confirmed.
	WaitForAnswer(ctx context.Context, callID uuid.UUID, timeout time.Duration) (bool, error)
	// Hangup tears the call down. Returns false when the call was already
	// disconnected.
	Hangup(ctx context.Context, callID uuid.UUID) (bool, error)
	// HandleIncomingCall registers a call created by the PBX webhook.
	HandleIncomingCall(ctx context.Context, sipID, caller, callee string, metadata map[string]string) (*Call, error)
	// Subscribe adds a listener for call state transitions.
	Subscribe(listener EventListener)
}
