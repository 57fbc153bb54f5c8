package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/crypto"

	"go.uber.org/zap"
)

// Config controls the offline discovery substitute.
type Config struct {
	// PeerNames are the display names of the synthetic peers announced
	// when no relay is reachable.
	PeerNames []string

	// MinDelay staggers the synthetic discovery events and sets the
	// floor of the randomized negotiation delays.
	MinDelay time.Duration

	// MaxDelay caps the randomized pause before a synthetic peer
	// answers negotiation traffic.
	MaxDelay time.Duration

	// AutoConnect makes synthetic peers negotiate and come up as
	// connected. When false they are only announced and any
	// negotiation against them times out.
	AutoConnect bool
}

func (c *Config) normalize() {
	if c.MinDelay <= 0 {
		c.MinDelay = 400 * time.Millisecond
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay + 2*time.Second
	}
}

// FallbackNetwork hosts a set of in-process synthetic peers and stands
// in for the relay client when the reachability probe fails. It plays
// every role the real stack plays at once: discovery source, signaler
// and transport factory. The negotiator, registry, framer and
// handshake run the exact same code paths against it as against real
// peers; only the wire underneath is a loopback.
//
// A session uses either this or the relay client, never both.
type FallbackNetwork struct {
	localID domain.PeerID
	config  Config

	mu        sync.Mutex
	handler   ports.SignalHandler
	peers     map[domain.PeerID]*syntheticPeer
	links     map[domain.PeerID]*loopbackTransport
	closeOnce sync.Once
	done      chan struct{}

	cipher *crypto.ChaChaFrameCipher
	logger *zap.SugaredLogger
}

func NewFallbackNetwork(localID domain.PeerID, config Config, logger *zap.SugaredLogger) (*FallbackNetwork, error) {
	config.normalize()

	n := &FallbackNetwork{
		localID: localID,
		config:  config,
		peers:   make(map[domain.PeerID]*syntheticPeer),
		links:   make(map[domain.PeerID]*loopbackTransport),
		done:    make(chan struct{}),
		cipher:  crypto.NewChaChaFrameCipher(),
		logger:  logger,
	}

	for _, name := range config.PeerNames {
		exchanger, err := crypto.NewX25519Exchanger()
		if err != nil {
			return nil, fmt.Errorf("failed to create key pair for synthetic peer %s: %w", name, err)
		}
		peer := &syntheticPeer{
			id:          domain.PeerID("offline-" + strings.ToLower(name)),
			displayName: name,
			exchanger:   exchanger,
			network:     n,
		}
		n.peers[peer.id] = peer
	}
	return n, nil
}

// SetHandler registers the consumer of synthetic signaling traffic.
// Must be called before Start.
func (n *FallbackNetwork) SetHandler(handler ports.SignalHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

// Start announces the synthetic peers with staggered timing. Peers
// that win the initiator tie-break against the local node send their
// own offers shortly after being announced.
func (n *FallbackNetwork) Start(ctx context.Context) (<-chan ports.DiscoveryEvent, error) {
	events := make(chan ports.DiscoveryEvent, len(n.peers))

	n.mu.Lock()
	peers := make([]*syntheticPeer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	go func() {
		defer close(events)
		for i, peer := range peers {
			if i > 0 {
				select {
				case <-time.After(n.config.MinDelay):
				case <-ctx.Done():
					return
				case <-n.done:
					return
				}
			}

			n.logger.Infow("announcing synthetic peer", "peer_id", peer.id)
			select {
			case events <- ports.DiscoveryEvent{
				Type:        ports.DiscoveryPeerFound,
				PeerID:      peer.id,
				DisplayName: peer.displayName,
			}:
			case <-ctx.Done():
				return
			case <-n.done:
				return
			}

			if n.config.AutoConnect && domain.SelectInitiator(n.localID, peer.id) == peer.id {
				n.afterDelay(func() { peer.sendOffer() })
			}
		}
	}()

	return events, nil
}

func (n *FallbackNetwork) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.mu.Lock()
		links := make([]*loopbackTransport, 0, len(n.links))
		for _, link := range n.links {
			links = append(links, link)
		}
		n.links = make(map[domain.PeerID]*loopbackTransport)
		n.mu.Unlock()

		for _, link := range links {
			link.Close()
		}
	})
	return nil
}

// NewTransport hands the negotiator a loopback channel wired to the
// synthetic peer on the far end.
func (n *FallbackNetwork) NewTransport(peer domain.PeerID, role domain.NegotiationRole) (ports.PeerTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	synthetic, ok := n.peers[peer]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}

	link := &loopbackTransport{remote: synthetic, network: n}
	n.links[peer] = link
	return link, nil
}

// SendOffer delivers the local offer to a synthetic peer, which
// answers after its randomized delay and then brings the channel up.
func (n *FallbackNetwork) SendOffer(ctx context.Context, target domain.PeerID, sdp string) error {
	synthetic, link, err := n.lookup(target)
	if err != nil {
		return err
	}
	if !n.config.AutoConnect {
		return nil
	}

	n.afterDelay(func() {
		handler := n.currentHandler()
		if handler == nil {
			return
		}
		handler.HandleCandidate(synthetic.id, "candidate:loopback 1 udp 1 0.0.0.0 0 typ host")
		handler.HandleAnswer(synthetic.id, synthetic.answerSDP())
		n.afterDelay(func() { link.open() })
	})
	return nil
}

// SendAnswer completes a synthetic-initiated negotiation; the synthetic
// side needs no inspection of the answer and just opens the channel.
func (n *FallbackNetwork) SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error {
	_, link, err := n.lookup(target)
	if err != nil {
		return err
	}
	if n.config.AutoConnect {
		n.afterDelay(func() { link.open() })
	}
	return nil
}

// SendCandidate is accepted and discarded; loopback channels have no
// connectivity to establish.
func (n *FallbackNetwork) SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error {
	if _, _, err := n.lookup(target); err != nil {
		return err
	}
	return nil
}

func (n *FallbackNetwork) lookup(target domain.PeerID) (*syntheticPeer, *loopbackTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	synthetic, ok := n.peers[target]
	if !ok {
		return nil, nil, domain.ErrPeerNotFound
	}
	link, ok := n.links[target]
	if !ok {
		return nil, nil, domain.ErrNotConnected
	}
	return synthetic, link, nil
}

func (n *FallbackNetwork) currentHandler() ports.SignalHandler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handler
}

// afterDelay schedules fn after a randomized delay between MinDelay
// and MaxDelay, unless the network is closed first.
func (n *FallbackNetwork) afterDelay(fn func()) {
	spread := int64(n.config.MaxDelay-n.config.MinDelay) + 1
	jitter := n.config.MinDelay + time.Duration(rand.Int63n(spread))
	go func() {
		select {
		case <-time.After(jitter):
			fn()
		case <-n.done:
		}
	}()
}

// syntheticPeer emulates the remote side of a session: it negotiates,
// completes the key agreement with real key material and lets the
// local side exercise encrypted traffic offline.
type syntheticPeer struct {
	id          domain.PeerID
	displayName string
	exchanger   *crypto.X25519Exchanger
	network     *FallbackNetwork

	mu         sync.Mutex
	sessionKey []byte
	greeted    bool
}

func (p *syntheticPeer) offerSDP() string {
	return "v=0 loopback offer " + string(p.id)
}

func (p *syntheticPeer) answerSDP() string {
	return "v=0 loopback answer " + string(p.id)
}

func (p *syntheticPeer) sendOffer() {
	handler := p.network.currentHandler()
	if handler == nil {
		return
	}
	handler.HandleOffer(p.id, p.offerSDP())
}

// receive processes one raw frame sent by the local side. The
// handshake path mirrors what the real stack does on the remote end:
// derive the session key, reply with our public key, then greet over
// the encrypted channel.
func (p *syntheticPeer) receive(raw []byte) {
	frame, err := domain.DecodeFrame(raw)
	if err != nil {
		p.network.logger.Debugw("synthetic peer dropping malformed frame", "peer_id", p.id)
		return
	}

	if frame.Kind != domain.FrameKindHandshake {
		// Encrypted application traffic terminates here.
		return
	}

	key, err := p.exchanger.DeriveSessionKey(frame.Data)
	if err != nil {
		p.network.logger.Warnw("synthetic peer failed key agreement", "peer_id", p.id, "error", err)
		return
	}

	p.mu.Lock()
	p.sessionKey = key
	alreadyGreeted := p.greeted
	p.greeted = true
	p.mu.Unlock()

	p.send(domain.FrameKindHandshake, p.exchanger.PublicKey(), nil)
	if !alreadyGreeted {
		p.network.afterDelay(func() {
			p.send(domain.FrameKindChat, []byte("hello from "+p.displayName), key)
		})
	}
}

func (p *syntheticPeer) send(kind domain.FrameKind, payload, key []byte) {
	data := payload
	if key != nil {
		sealed, err := p.network.cipher.Seal(key, payload)
		if err != nil {
			p.network.logger.Warnw("synthetic peer failed to seal frame", "peer_id", p.id, "error", err)
			return
		}
		data = sealed
	}

	frame := &domain.Frame{Kind: kind, From: p.id, Data: data}
	raw, err := frame.Encode()
	if err != nil {
		return
	}

	p.network.mu.Lock()
	link := p.network.links[p.id]
	p.network.mu.Unlock()
	if link != nil {
		link.deliver(raw)
	}
}

// loopbackTransport satisfies the transport contract with in-memory
// delivery. Callbacks fire from their own goroutines, matching the
// asynchronous behavior of a real channel.
type loopbackTransport struct {
	remote  *syntheticPeer
	network *FallbackNetwork

	mu        sync.Mutex
	opened    bool
	closed    bool
	onState   func(ports.TransportState)
	onMessage func([]byte)
}

func (t *loopbackTransport) CreateOffer(ctx context.Context) (string, error) {
	return "v=0 loopback offer " + string(t.network.localID), nil
}

func (t *loopbackTransport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	return "v=0 loopback answer " + string(t.network.localID), nil
}

func (t *loopbackTransport) AcceptAnswer(answerSDP string) error { return nil }

func (t *loopbackTransport) AddCandidate(candidate string) error { return nil }

func (t *loopbackTransport) OnCandidate(fn func(string)) {}

func (t *loopbackTransport) OnStateChange(fn func(ports.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *loopbackTransport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *loopbackTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed || !t.opened {
		t.mu.Unlock()
		return domain.ErrNotConnected
	}
	t.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	go t.remote.receive(buf)
	return nil
}

func (t *loopbackTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	fn := t.onState
	t.mu.Unlock()

	if fn != nil {
		go fn(ports.TransportDisconnected)
	}
	return nil
}

func (t *loopbackTransport) open() {
	t.mu.Lock()
	if t.closed || t.opened {
		t.mu.Unlock()
		return
	}
	t.opened = true
	fn := t.onState
	t.mu.Unlock()

	if fn != nil {
		go fn(ports.TransportConnected)
	}
}

// deliver hands a frame from the synthetic peer to the local side.
func (t *loopbackTransport) deliver(raw []byte) {
	t.mu.Lock()
	fn := t.onMessage
	closed := t.closed
	t.mu.Unlock()

	if closed || fn == nil {
		return
	}
	go fn(raw)
}

var (
	_ ports.DiscoverySource  = (*FallbackNetwork)(nil)
	_ ports.Signaler         = (*FallbackNetwork)(nil)
	_ ports.TransportFactory = (*FallbackNetwork)(nil)
)
