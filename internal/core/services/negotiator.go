package services

import (
	"context"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// negotiation is the in-flight offer/answer exchange with one peer.
// Candidates that arrive before the remote description is set are
// buffered in arrival order and flushed once it lands.
type negotiation struct {
	peerID    domain.PeerID
	role      domain.NegotiationRole
	state     domain.SessionState
	transport ports.PeerTransport
	pending   []string
	remoteSet bool
	timer     *time.Timer
	startedAt time.Time
}

// Negotiator drives the per-peer connection state machine:
// Idle -> OfferSent/OfferReceived -> AnswerExchanged -> Connected or
// Failed. It is the only component that asks the registry for
// lifecycle transitions on behalf of negotiation progress.
type Negotiator struct {
	localID  domain.PeerID
	registry ports.PeerRegistry
	signaler ports.Signaler
	factory  ports.TransportFactory
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[domain.PeerID]*negotiation

	onConnected    func(peer domain.PeerID, transport ports.PeerTransport)
	onDisconnected func(peer domain.PeerID)

	logger *zap.SugaredLogger
}

func NewNegotiator(
	localID domain.PeerID,
	registry ports.PeerRegistry,
	signaler ports.Signaler,
	factory ports.TransportFactory,
	timeout time.Duration,
	logger *zap.SugaredLogger,
) *Negotiator {
	return &Negotiator{
		localID:  localID,
		registry: registry,
		signaler: signaler,
		factory:  factory,
		timeout:  timeout,
		sessions: make(map[domain.PeerID]*negotiation),
		logger:   logger,
	}
}

// OnConnected registers the hook invoked once a transport reports
// connected and the registry reflects it. The hook receives ownership
// of the transport.
func (n *Negotiator) OnConnected(fn func(peer domain.PeerID, transport ports.PeerTransport)) {
	n.onConnected = fn
}

// OnDisconnected registers the hook invoked after a peer is marked
// disconnected, whether from negotiation failure or a dead channel.
func (n *Negotiator) OnDisconnected(fn func(peer domain.PeerID)) {
	n.onDisconnected = fn
}

// HandleDiscovery reacts to discovery events from whichever source is
// active. Found peers enter the registry and, when the local side wins
// the initiator tie-break, negotiation starts immediately.
func (n *Negotiator) HandleDiscovery(ev ports.DiscoveryEvent) {
	switch ev.Type {
	case ports.DiscoveryPeerFound:
		record := &domain.PeerRecord{ID: ev.PeerID, DisplayName: ev.DisplayName}
		if err := n.registry.Upsert(record); err != nil {
			n.logger.Warnw("ignoring discovered peer", "peer_id", ev.PeerID, "error", err)
			return
		}
		if err := n.Connect(ev.PeerID); err != nil {
			n.logger.Warnw("failed to start negotiation", "peer_id", ev.PeerID, "error", err)
		}
	case ports.DiscoveryPeerLost:
		n.PeerLost(ev.PeerID)
	}
}

// Connect begins negotiation with a peer. Calling it again while a
// session is in flight or the peer is already connected is a no-op, so
// redundant discovery announcements never spawn duplicate sessions.
// The responder side records the intent and waits for the offer.
func (n *Negotiator) Connect(peerID domain.PeerID) error {
	if peerID == n.localID {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.sessions[peerID]; ok && !existing.state.Terminal() {
		return nil
	}
	if record, err := n.registry.Get(peerID); err == nil && record.Connected() {
		return nil
	}

	if domain.SelectInitiator(n.localID, peerID) != n.localID {
		// Responder: the peer will send the offer. The record stays
		// Discovered until it arrives.
		return nil
	}

	return n.startInitiatorLocked(peerID)
}

func (n *Negotiator) startInitiatorLocked(peerID domain.PeerID) error {
	transport, err := n.factory.NewTransport(peerID, domain.RoleInitiator)
	if err != nil {
		return err
	}

	session := &negotiation{
		peerID:    peerID,
		role:      domain.RoleInitiator,
		state:     domain.SessionIdle,
		transport: transport,
		startedAt: time.Now(),
	}
	n.sessions[peerID] = session
	n.wireTransportLocked(session)

	if err := n.registry.Transition(peerID, domain.PeerStateNegotiating); err != nil {
		n.abandonLocked(session)
		return err
	}

	offer, err := transport.CreateOffer(context.Background())
	if err != nil {
		n.failLocked(session, err)
		return err
	}
	if err := n.signaler.SendOffer(context.Background(), peerID, offer); err != nil {
		n.failLocked(session, err)
		return err
	}

	session.state = domain.SessionOfferSent
	n.armTimerLocked(session)
	n.logger.Infow("offer sent", "peer_id", peerID)
	return nil
}

// HandleOffer is the responder path. An offer for a peer with a live
// session is protocol noise: the tie-break guarantees only one side
// offers, so it is logged and dropped.
func (n *Negotiator) HandleOffer(from domain.PeerID, sdp string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.sessions[from]; ok && !existing.state.Terminal() {
		n.logger.Warnw("dropping offer for peer with live session",
			"peer_id", from, "session_state", existing.state)
		return
	}

	// The offer may arrive before any discovery event for this peer.
	if err := n.registry.Upsert(&domain.PeerRecord{ID: from}); err != nil {
		n.logger.Warnw("rejecting offer", "peer_id", from, "error", err)
		return
	}

	transport, err := n.factory.NewTransport(from, domain.RoleResponder)
	if err != nil {
		n.logger.Errorw("failed to open transport for offer", "peer_id", from, "error", err)
		return
	}

	session := &negotiation{
		peerID:    from,
		role:      domain.RoleResponder,
		state:     domain.SessionOfferReceived,
		transport: transport,
		startedAt: time.Now(),
	}
	n.sessions[from] = session
	n.wireTransportLocked(session)

	if err := n.registry.Transition(from, domain.PeerStateNegotiating); err != nil {
		n.abandonLocked(session)
		n.logger.Warnw("rejecting offer", "peer_id", from, "error", err)
		return
	}

	answer, err := transport.CreateAnswer(context.Background(), sdp)
	if err != nil {
		n.failLocked(session, err)
		return
	}
	session.remoteSet = true
	n.flushCandidatesLocked(session)

	if err := n.signaler.SendAnswer(context.Background(), from, answer); err != nil {
		n.failLocked(session, err)
		return
	}

	session.state = domain.SessionAnswerExchanged
	n.armTimerLocked(session)
	n.logger.Infow("answer sent", "peer_id", from)
}

// HandleAnswer completes the initiator's exchange.
func (n *Negotiator) HandleAnswer(from domain.PeerID, sdp string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	session, ok := n.sessions[from]
	if !ok || session.role != domain.RoleInitiator || session.state != domain.SessionOfferSent {
		n.logger.Warnw("dropping unexpected answer", "peer_id", from)
		return
	}

	if err := session.transport.AcceptAnswer(sdp); err != nil {
		n.failLocked(session, err)
		return
	}

	session.remoteSet = true
	n.flushCandidatesLocked(session)
	session.state = domain.SessionAnswerExchanged
	n.logger.Infow("answer applied", "peer_id", from)
}

// HandleCandidate applies a remote connectivity candidate, buffering
// it when the remote description has not been set yet. Order within a
// peer is preserved.
func (n *Negotiator) HandleCandidate(from domain.PeerID, candidate string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	session, ok := n.sessions[from]
	if !ok || session.state.Terminal() {
		n.logger.Debugw("dropping candidate without session", "peer_id", from)
		return
	}

	if !session.remoteSet {
		session.pending = append(session.pending, candidate)
		return
	}
	if err := session.transport.AddCandidate(candidate); err != nil {
		n.logger.Warnw("failed to apply candidate", "peer_id", from, "error", err)
	}
}

// PeerLost handles a peer-left announcement from discovery: any
// in-flight session fails, an established link is torn down, and a
// merely discovered record is marked disconnected.
func (n *Negotiator) PeerLost(peerID domain.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardownLocked(peerID, "peer lost")
}

// Disconnect cancels negotiation or closes an established link.
func (n *Negotiator) Disconnect(peerID domain.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardownLocked(peerID, "explicit disconnect")
}

func (n *Negotiator) teardownLocked(peerID domain.PeerID, reason string) {
	if session, ok := n.sessions[peerID]; ok && !session.state.Terminal() {
		n.logger.Infow("cancelling negotiation", "peer_id", peerID, "reason", reason)
		n.failLocked(session, nil)
		return
	}

	record, err := n.registry.Get(peerID)
	if err != nil {
		return
	}
	if record.State == domain.PeerStateDiscovered || record.State == domain.PeerStateConnected {
		if err := n.registry.Transition(peerID, domain.PeerStateDisconnected); err == nil {
			n.notifyDisconnected(peerID)
		}
	}
}

func (n *Negotiator) wireTransportLocked(session *negotiation) {
	peerID := session.peerID
	session.transport.OnCandidate(func(candidate string) {
		if err := n.signaler.SendCandidate(context.Background(), peerID, candidate); err != nil {
			n.logger.Warnw("failed to send candidate", "peer_id", peerID, "error", err)
		}
	})
	session.transport.OnStateChange(func(state ports.TransportState) {
		n.handleTransportState(peerID, state)
	})
}

func (n *Negotiator) handleTransportState(peerID domain.PeerID, state ports.TransportState) {
	n.mu.Lock()

	session, ok := n.sessions[peerID]
	switch state {
	case ports.TransportConnected:
		if !ok || session.state.Terminal() {
			n.mu.Unlock()
			return
		}
		session.state = domain.SessionConnected
		stopTimerLocked(session)
		transport := session.transport
		// Success folds the session into the peer record.
		delete(n.sessions, peerID)

		if err := n.registry.Transition(peerID, domain.PeerStateConnected); err != nil {
			n.mu.Unlock()
			n.logger.Errorw("connected transport for peer in bad state",
				"peer_id", peerID, "error", err)
			transport.Close()
			return
		}
		onConnected := n.onConnected
		n.mu.Unlock()

		n.logger.Infow("peer connected", "peer_id", peerID)
		if onConnected != nil {
			onConnected(peerID, transport)
		}

	case ports.TransportFailed, ports.TransportDisconnected:
		if ok && !session.state.Terminal() {
			n.failLocked(session, nil)
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		// Channel died after it was established.
		if record, err := n.registry.Get(peerID); err == nil && record.Connected() {
			if err := n.registry.Transition(peerID, domain.PeerStateDisconnected); err == nil {
				n.notifyDisconnected(peerID)
			}
		}

	default:
		n.mu.Unlock()
	}
}

func (n *Negotiator) armTimerLocked(session *negotiation) {
	peerID := session.peerID
	session.timer = time.AfterFunc(n.timeout, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		current, ok := n.sessions[peerID]
		if !ok || current != session || current.state.Terminal() {
			return
		}
		n.logger.Warnw("negotiation timed out", "peer_id", peerID,
			"elapsed", time.Since(current.startedAt), "error", domain.ErrNegotiationTimeout)
		n.failLocked(current, domain.ErrNegotiationTimeout)
	})
}

// failLocked moves a session to Failed, releases its transport and
// candidate buffer, and marks the peer disconnected. There is no
// automatic retry: a fresh discovery event is required to negotiate
// again.
func (n *Negotiator) failLocked(session *negotiation, cause error) {
	if cause != nil {
		n.logger.Warnw("negotiation failed", "peer_id", session.peerID, "error", cause)
	}
	session.state = domain.SessionFailed
	stopTimerLocked(session)
	session.pending = nil
	session.transport.Close()
	delete(n.sessions, session.peerID)

	if err := n.registry.Transition(session.peerID, domain.PeerStateDisconnected); err != nil {
		n.logger.Debugw("peer already out of negotiating state",
			"peer_id", session.peerID, "error", err)
	}
	n.notifyDisconnected(session.peerID)
}

// abandonLocked discards a session that never started negotiating,
// without touching registry state.
func (n *Negotiator) abandonLocked(session *negotiation) {
	stopTimerLocked(session)
	session.transport.Close()
	delete(n.sessions, session.peerID)
}

func (n *Negotiator) flushCandidatesLocked(session *negotiation) {
	for _, candidate := range session.pending {
		if err := session.transport.AddCandidate(candidate); err != nil {
			n.logger.Warnw("failed to apply buffered candidate",
				"peer_id", session.peerID, "error", err)
		}
	}
	session.pending = nil
}

func (n *Negotiator) notifyDisconnected(peerID domain.PeerID) {
	if n.onDisconnected != nil {
		go n.onDisconnected(peerID)
	}
}

// SessionCount reports in-flight negotiations, used by status surfaces
// and tests.
func (n *Negotiator) SessionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// Session returns a snapshot of the in-flight negotiation with a peer.
func (n *Negotiator) Session(peerID domain.PeerID) (*domain.NegotiationSession, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	session, ok := n.sessions[peerID]
	if !ok {
		return nil, false
	}
	return &domain.NegotiationSession{
		PeerID:    session.peerID,
		Role:      session.role,
		State:     session.state,
		StartedAt: session.startedAt,
	}, true
}

func stopTimerLocked(session *negotiation) {
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
}

var _ ports.SignalHandler = (*Negotiator)(nil)
