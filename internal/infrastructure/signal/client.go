package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Probe checks relay reachability with a bounded-timeout dial. A
// failure maps to ErrSignalingUnreachable, which is the trigger for
// fallback discovery.
func Probe(ctx context.Context, relayURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, probeURL(relayURL), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignalingUnreachable, err)
	}
	conn.Close()
	return nil
}

func probeURL(relayURL string) string {
	u, err := url.Parse(relayURL)
	if err != nil {
		return relayURL
	}
	q := u.Query()
	q.Set("peer_id", "probe-"+fmt.Sprint(time.Now().UnixNano()))
	u.RawQuery = q.Encode()
	return u.String()
}

// Client is the peer-side signaling connection: it joins a room,
// surfaces membership changes as discovery events, and carries
// negotiation payloads both ways. It implements both the Signaler and
// the DiscoverySource the rest of the session layer consumes.
type Client struct {
	relayURL string
	localID  domain.PeerID
	roomID   string
	token    string

	conn    *websocket.Conn
	writeMu sync.Mutex

	handler ports.SignalHandler
	events  chan ports.DiscoveryEvent

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

func NewClient(relayURL string, localID domain.PeerID, roomID string, logger *zap.SugaredLogger) *Client {
	return &Client{
		relayURL: relayURL,
		localID:  localID,
		roomID:   roomID,
		events:   make(chan ports.DiscoveryEvent, 16),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// SetToken attaches a join token to the connection when the relay
// requires auth.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetHandler registers the observer for inbound negotiation payloads.
// Must be called before Start.
func (c *Client) SetHandler(handler ports.SignalHandler) {
	c.handler = handler
}

// Start dials the relay, joins the configured room and begins reading.
// The returned channel carries discovery events until Close.
func (c *Client) Start(ctx context.Context) (<-chan ports.DiscoveryEvent, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", string(c.localID))
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignalingUnreachable, err)
	}
	c.conn = conn

	if err := c.writeEnvelope(Envelope{Type: TypeJoin, RoomID: c.roomID, PeerID: c.localID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	go c.readLoop(ctx)
	c.logger.Infow("joined signaling room", "room_id", c.roomID, "peer_id", c.localID)
	return c.events, nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			case <-ctx.Done():
			default:
				c.logger.Warnw("signaling connection lost", "error", err)
			}
			return
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeRoomJoined:
		for _, peer := range env.Peers {
			c.emit(ctx, ports.DiscoveryEvent{Type: ports.DiscoveryPeerFound, PeerID: peer})
		}

	case TypePeerJoined:
		c.emit(ctx, ports.DiscoveryEvent{Type: ports.DiscoveryPeerFound, PeerID: env.PeerID})

	case TypePeerLeft:
		c.emit(ctx, ports.DiscoveryEvent{Type: ports.DiscoveryPeerLost, PeerID: env.PeerID})

	case TypeOffer:
		var payload sdpPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.logger.Warnw("dropping malformed offer", "from", env.PeerID, "error", err)
			return
		}
		c.handler.HandleOffer(env.PeerID, payload.SDP)

	case TypeAnswer:
		var payload sdpPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.logger.Warnw("dropping malformed answer", "from", env.PeerID, "error", err)
			return
		}
		c.handler.HandleAnswer(env.PeerID, payload.SDP)

	case TypeICECandidate:
		var payload candidatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.logger.Warnw("dropping malformed candidate", "from", env.PeerID, "error", err)
			return
		}
		c.handler.HandleCandidate(env.PeerID, payload.Candidate)

	case TypeError:
		c.logger.Warnw("relay reported error", "message", env.Message)

	default:
		c.logger.Debugw("ignoring envelope of unknown type", "type", env.Type)
	}
}

func (c *Client) emit(ctx context.Context, ev ports.DiscoveryEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Client) SendOffer(ctx context.Context, target domain.PeerID, sdp string) error {
	return c.sendPayload(TypeOffer, target, sdpPayload{SDP: sdp})
}

func (c *Client) SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error {
	return c.sendPayload(TypeAnswer, target, sdpPayload{SDP: sdp})
}

func (c *Client) SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error {
	return c.sendPayload(TypeICECandidate, target, candidatePayload{Candidate: candidate})
}

func (c *Client) sendPayload(envelopeType string, target domain.PeerID, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", envelopeType, err)
	}
	return c.writeEnvelope(Envelope{
		Type:       envelopeType,
		PeerID:     c.localID,
		TargetPeer: target,
		Data:       data,
	})
}

func (c *Client) writeEnvelope(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return domain.ErrSignalingUnreachable
	}
	return c.conn.WriteJSON(env)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	return nil
}

var (
	_ ports.Signaler        = (*Client)(nil)
	_ ports.DiscoverySource = (*Client)(nil)
)
