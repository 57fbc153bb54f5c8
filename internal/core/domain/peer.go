package domain

import "time"

type PeerID string

type SessionID string

// PeerState is the lifecycle state of a remote peer. Transitions are
// monotonic: Discovered -> Negotiating -> Connected -> Disconnected.
// A disconnected peer may re-enter Negotiating when it is rediscovered.
type PeerState string

const (
	PeerStateDiscovered   PeerState = "discovered"
	PeerStateNegotiating  PeerState = "negotiating"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
)

// validPeerTransitions lists the allowed next states for each state.
var validPeerTransitions = map[PeerState][]PeerState{
	PeerStateDiscovered:   {PeerStateNegotiating, PeerStateDisconnected},
	PeerStateNegotiating:  {PeerStateConnected, PeerStateDisconnected},
	PeerStateConnected:    {PeerStateDisconnected},
	PeerStateDisconnected: {PeerStateNegotiating},
}

// CanTransition reports whether moving from the current state to next
// respects the monotonic lifecycle ordering.
func (s PeerState) CanTransition(next PeerState) bool {
	for _, allowed := range validPeerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PeerRecord is the authoritative per-peer entry owned by the peer
// registry. SessionKey is populated by the encryption handshake once
// key agreement completes and cleared again on disconnect; it is never
// persisted anywhere.
type PeerRecord struct {
	ID             PeerID
	DisplayName    string
	State          PeerState
	DiscoveredAt   time.Time
	ConnectedAt    time.Time
	SignalStrength float64
	SessionKey     []byte
}

// Connected reports whether the record currently holds an established
// channel.
func (r *PeerRecord) Connected() bool {
	return r.State == PeerStateConnected
}
