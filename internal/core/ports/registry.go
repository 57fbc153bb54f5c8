package ports

import "peerlink/internal/core/domain"

// RegistryObserver receives a notification for every peer state
// transition. Implementations must not call back into the registry
// from the handler.
type RegistryObserver interface {
	OnPeerStateChange(record domain.PeerRecord, previous domain.PeerState)
}

// PeerRegistry is the single writer of PeerRecord state. Other
// components read through it and mutate only via Transition calls.
type PeerRegistry interface {
	// Upsert registers a newly discovered peer or refreshes the
	// display name and signal strength of a known one. New peers
	// start in the Discovered state.
	Upsert(record *domain.PeerRecord) error

	// Transition moves a peer to a new lifecycle state, rejecting
	// anything outside the monotonic ordering with
	// domain.ErrInvalidTransition.
	Transition(id domain.PeerID, next domain.PeerState) error

	Get(id domain.PeerID) (*domain.PeerRecord, error)
	List(filter ...domain.PeerState) []*domain.PeerRecord
	Remove(id domain.PeerID) error

	// SetSessionKey binds a derived symmetric key to a peer. The key
	// is discarded automatically when the peer disconnects.
	SetSessionKey(id domain.PeerID, key []byte) error
	SessionKey(id domain.PeerID) ([]byte, error)

	Subscribe(observer RegistryObserver)
}
