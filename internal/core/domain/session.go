package domain

import "time"

// NegotiationRole identifies which side of an offer/answer exchange a
// session plays. The role is decided by a deterministic tie-break so
// that both peers always agree regardless of discovery order.
type NegotiationRole string

const (
	RoleInitiator NegotiationRole = "initiator"
	RoleResponder NegotiationRole = "responder"
)

// SessionState is the per-peer negotiation state machine.
type SessionState string

const (
	SessionIdle            SessionState = "idle"
	SessionOfferSent       SessionState = "offer_sent"
	SessionOfferReceived   SessionState = "offer_received"
	SessionAnswerExchanged SessionState = "answer_exchanged"
	SessionConnected       SessionState = "connected"
	SessionFailed          SessionState = "failed"
)

// Terminal reports whether the session can make no further progress.
func (s SessionState) Terminal() bool {
	return s == SessionConnected || s == SessionFailed
}

// NegotiationSession tracks one in-flight offer/answer exchange with a
// single peer. It exists only between negotiation start and the
// terminal transition; a connected peer is represented by its
// PeerRecord alone.
type NegotiationSession struct {
	PeerID    PeerID
	Role      NegotiationRole
	State     SessionState
	StartedAt time.Time
}

// SelectInitiator returns the peer that must create the offer for a
// pair. Lexicographically smaller ID wins, which is symmetric: both
// sides compute the same answer without coordination.
func SelectInitiator(a, b PeerID) PeerID {
	if a < b {
		return a
	}
	return b
}
