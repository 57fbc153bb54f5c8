package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// SignalHandler is the typed observer for inbound signaling traffic.
// Every event variant is explicit; a component that does not care
// about one implements it as a no-op.
type SignalHandler interface {
	HandleOffer(from domain.PeerID, sdp string)
	HandleAnswer(from domain.PeerID, sdp string)
	HandleCandidate(from domain.PeerID, candidate string)
}

// Signaler sends negotiation payloads to a remote peer through the
// relay. Delivery is best effort: the relay never retries, and a
// failed send surfaces here for the negotiator to act on.
type Signaler interface {
	SendOffer(ctx context.Context, target domain.PeerID, sdp string) error
	SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error
	SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error
}
