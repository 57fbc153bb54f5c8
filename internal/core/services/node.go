package services

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// DiscoveryMode records which discovery path the node ended up on.
type DiscoveryMode string

const (
	ModeRelay    DiscoveryMode = "relay"
	ModeFallback DiscoveryMode = "fallback"
)

// Status is the connection summary exposed to upper layers.
type Status struct {
	LocalID     domain.PeerID `json:"local_id"`
	Mode        DiscoveryMode `json:"mode"`
	Connected   int           `json:"connected"`
	Negotiating int           `json:"negotiating"`
}

// Node is the process-scoped session context: it owns the registry,
// negotiator, framer and handshake, wires them together once at
// construction, and is torn down as a unit on shutdown. Upper layers
// (chat, UI) talk only to the Node.
type Node struct {
	localID     domain.PeerID
	displayName string
	mode        DiscoveryMode

	registry   ports.PeerRegistry
	negotiator *Negotiator
	framer     *Framer
	handshake  *Handshake
	discovery  ports.DiscoverySource

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

func NewNode(
	localID domain.PeerID,
	displayName string,
	mode DiscoveryMode,
	registry ports.PeerRegistry,
	negotiator *Negotiator,
	framer *Framer,
	handshake *Handshake,
	discovery ports.DiscoverySource,
	logger *zap.SugaredLogger,
) *Node {
	node := &Node{
		localID:     localID,
		displayName: displayName,
		mode:        mode,
		registry:    registry,
		negotiator:  negotiator,
		framer:      framer,
		handshake:   handshake,
		discovery:   discovery,
		logger:      logger,
	}

	negotiator.OnConnected(func(peer domain.PeerID, transport ports.PeerTransport) {
		framer.Attach(peer, transport)
		handshake.Initiate(peer)
	})
	negotiator.OnDisconnected(func(peer domain.PeerID) {
		framer.Detach(peer)
	})

	return node
}

// Start consumes discovery events until the context is cancelled or
// Close is called.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	events, err := n.discovery.Start(ctx)
	if err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				n.negotiator.HandleDiscovery(ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	n.logger.Infow("session started", "local_id", n.localID, "mode", n.mode)
	return nil
}

// Connect requests negotiation with a discovered peer. Safe to call
// repeatedly; duplicate requests are no-ops.
func (n *Node) Connect(peer domain.PeerID) error {
	return n.negotiator.Connect(peer)
}

// Disconnect tears down the link or in-flight negotiation with a peer.
func (n *Node) Disconnect(peer domain.PeerID) {
	n.negotiator.Disconnect(peer)
}

// Send delivers one frame to a connected peer.
func (n *Node) Send(peer domain.PeerID, kind domain.FrameKind, payload []byte) error {
	return n.framer.Send(peer, kind, payload)
}

// Broadcast delivers a frame to all connected peers, returning the
// delivery count.
func (n *Node) Broadcast(kind domain.FrameKind, payload []byte) int {
	return n.framer.Broadcast(kind, payload)
}

// OnMessage registers a handler for inbound frames of a kind.
func (n *Node) OnMessage(kind domain.FrameKind, handler FrameHandler) {
	n.framer.RegisterHandler(kind, handler)
}

// OnPeerStateChange subscribes to registry transitions.
func (n *Node) OnPeerStateChange(observer ports.RegistryObserver) {
	n.registry.Subscribe(observer)
}

// ConnectedPeers lists peers with an established channel.
func (n *Node) ConnectedPeers() []*domain.PeerRecord {
	return n.registry.List(domain.PeerStateConnected)
}

// Peers lists every known peer regardless of state.
func (n *Node) Peers() []*domain.PeerRecord {
	return n.registry.List()
}

// Status summarizes the session for status surfaces.
func (n *Node) Status() Status {
	return Status{
		LocalID:     n.localID,
		Mode:        n.mode,
		Connected:   len(n.registry.List(domain.PeerStateConnected)),
		Negotiating: len(n.registry.List(domain.PeerStateNegotiating)),
	}
}

// LocalID returns the node's own peer identifier.
func (n *Node) LocalID() domain.PeerID {
	return n.localID
}

// Close stops discovery and tears down every peer link.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	if err := n.discovery.Close(); err != nil {
		n.logger.Warnw("error closing discovery source", "error", err)
	}
	for _, record := range n.registry.List(domain.PeerStateConnected, domain.PeerStateNegotiating) {
		n.negotiator.Disconnect(record.ID)
	}
	n.wg.Wait()
	n.logger.Infow("session stopped", "local_id", n.localID)
	return nil
}
