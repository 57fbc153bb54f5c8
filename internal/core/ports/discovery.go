package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

type DiscoveryEventType string

const (
	DiscoveryPeerFound DiscoveryEventType = "peer-discovered"
	DiscoveryPeerLost  DiscoveryEventType = "peer-lost"
)

// DiscoveryEvent announces that a peer appeared in or left the session
// scope. Both the relay-backed source and the offline fallback emit
// the same events, so consumers cannot tell them apart.
type DiscoveryEvent struct {
	Type        DiscoveryEventType
	PeerID      domain.PeerID
	DisplayName string
}

// DiscoverySource produces discovery events until the context is
// cancelled or Close is called. Exactly one source is active per
// session: the fallback activates only after the relay probe fails.
type DiscoverySource interface {
	Start(ctx context.Context) (<-chan DiscoveryEvent, error)
	Close() error
}
