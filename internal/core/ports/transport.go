package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// TransportState mirrors the underlying connection state changes the
// negotiator reacts to.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
)

// PeerTransport is the point-to-point channel primitive beneath one
// negotiation session. Callbacks must be registered before the
// offer/answer exchange starts; they may fire from transport-owned
// goroutines.
type PeerTransport interface {
	// CreateOffer prepares the local description and data channel for
	// the initiator side.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer applies the remote offer and produces the local
	// answer for the responder side.
	CreateAnswer(ctx context.Context, offerSDP string) (string, error)

	// AcceptAnswer applies the remote answer on the initiator side.
	AcceptAnswer(answerSDP string) error

	// AddCandidate applies a remote connectivity candidate. Callers
	// must not invoke this before a remote description is set; the
	// negotiator buffers early candidates.
	AddCandidate(candidate string) error

	OnCandidate(fn func(candidate string))
	OnStateChange(fn func(state TransportState))
	OnMessage(fn func(data []byte))

	Send(data []byte) error
	Close() error
}

// TransportFactory opens a fresh transport per negotiation session.
type TransportFactory interface {
	NewTransport(peer domain.PeerID, role domain.NegotiationRole) (PeerTransport, error)
}
