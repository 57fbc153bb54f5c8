package services

import (
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// peerRegistry is the single writer of peer lifecycle state. All
// mutations go through Upsert/Transition/Remove; readers get copies so
// no caller can bypass the transition rules.
type peerRegistry struct {
	maxPeers int

	mu        sync.RWMutex
	peers     map[domain.PeerID]*domain.PeerRecord
	observers []ports.RegistryObserver

	logger *zap.SugaredLogger
}

func NewPeerRegistry(maxPeers int, logger *zap.SugaredLogger) ports.PeerRegistry {
	return &peerRegistry{
		maxPeers: maxPeers,
		peers:    make(map[domain.PeerID]*domain.PeerRecord),
		logger:   logger,
	}
}

func (r *peerRegistry) Upsert(record *domain.PeerRecord) error {
	r.mu.Lock()

	if existing, ok := r.peers[record.ID]; ok {
		if record.DisplayName != "" {
			existing.DisplayName = record.DisplayName
		}
		if record.SignalStrength > 0 {
			existing.SignalStrength = record.SignalStrength
		}
		r.mu.Unlock()
		return nil
	}

	if r.activeCountLocked() >= r.maxPeers {
		r.mu.Unlock()
		return domain.ErrPeerCapacityReached
	}

	stored := &domain.PeerRecord{
		ID:             record.ID,
		DisplayName:    record.DisplayName,
		State:          domain.PeerStateDiscovered,
		DiscoveredAt:   time.Now(),
		SignalStrength: record.SignalStrength,
	}
	r.peers[record.ID] = stored

	snapshot := *stored
	observers := r.observersLocked()
	r.mu.Unlock()

	r.logger.Infow("peer discovered", "peer_id", record.ID, "display_name", record.DisplayName)
	notify(observers, snapshot, "")
	return nil
}

func (r *peerRegistry) Transition(id domain.PeerID, next domain.PeerState) error {
	r.mu.Lock()

	record, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrPeerNotFound
	}

	previous := record.State
	if !previous.CanTransition(next) {
		r.mu.Unlock()
		r.logger.Warnw("rejected peer state transition",
			"peer_id", id, "from", previous, "to", next)
		return domain.ErrInvalidTransition
	}

	record.State = next
	switch next {
	case domain.PeerStateConnected:
		record.ConnectedAt = time.Now()
	case domain.PeerStateDisconnected:
		// The session key dies with the connection.
		record.SessionKey = nil
		record.ConnectedAt = time.Time{}
	}

	snapshot := *record
	observers := r.observersLocked()
	r.mu.Unlock()

	r.logger.Infow("peer state changed", "peer_id", id, "from", previous, "to", next)
	notify(observers, snapshot, previous)
	return nil
}

func (r *peerRegistry) Get(id domain.PeerID) (*domain.PeerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.peers[id]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}

	snapshot := *record
	return &snapshot, nil
}

func (r *peerRegistry) List(filter ...domain.PeerState) []*domain.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.PeerRecord, 0, len(r.peers))
	for _, record := range r.peers {
		if len(filter) > 0 && !stateIn(record.State, filter) {
			continue
		}
		snapshot := *record
		records = append(records, &snapshot)
	}
	return records
}

func (r *peerRegistry) Remove(id domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return domain.ErrPeerNotFound
	}
	delete(r.peers, id)
	return nil
}

func (r *peerRegistry) SetSessionKey(id domain.PeerID, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	record.SessionKey = key
	return nil
}

func (r *peerRegistry) SessionKey(id domain.PeerID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.peers[id]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	if record.SessionKey == nil {
		return nil, domain.ErrNoSessionKey
	}
	return record.SessionKey, nil
}

func (r *peerRegistry) Subscribe(observer ports.RegistryObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// activeCountLocked counts peers that occupy a mesh slot. Disconnected
// records stay in the table for rediscovery but do not count against
// the cap.
func (r *peerRegistry) activeCountLocked() int {
	n := 0
	for _, record := range r.peers {
		if record.State != domain.PeerStateDisconnected {
			n++
		}
	}
	return n
}

func (r *peerRegistry) observersLocked() []ports.RegistryObserver {
	observers := make([]ports.RegistryObserver, len(r.observers))
	copy(observers, r.observers)
	return observers
}

func notify(observers []ports.RegistryObserver, record domain.PeerRecord, previous domain.PeerState) {
	// Observers never see the stored record, only a copy taken while
	// the lock was held.
	record.SessionKey = nil
	for _, observer := range observers {
		observer.OnPeerStateChange(record, previous)
	}
}

func stateIn(state domain.PeerState, states []domain.PeerState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
