package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/monitoring"
	"peerlink/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// TokenValidator checks join tokens when the relay runs with auth
// enabled.
type TokenValidator interface {
	ValidateJoinToken(token string) (domain.PeerID, error)
}

// RelayServer is the room-based signaling broker. It never touches the
// data plane: it registers members into rooms and forwards negotiation
// envelopes verbatim between them.
type RelayServer struct {
	rooms ports.RoomRepository
	auth  TokenValidator // nil when auth is disabled

	connections map[domain.PeerID]*memberConn
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	msgRate        rate.Limit
	msgBurst       int
	maxMessageSize int64

	metrics *monitoring.RelayMetrics
	logger  *zap.SugaredLogger
}

// memberConn is one live signaling connection. Writes are serialized
// per connection; the underlying stream is ordered, which is what
// gives the relay its per-sender FIFO guarantee.
type memberConn struct {
	peerID  domain.PeerID
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter

	// roomID is inherited by a replacement connection on reconnect, so
	// it needs its own lock.
	roomMu sync.Mutex
	roomID string
}

func (m *memberConn) writeJSON(v interface{}, timeout time.Duration) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(timeout))
	return m.conn.WriteJSON(v)
}

func (m *memberConn) room() string {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	return m.roomID
}

func (m *memberConn) setRoom(roomID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	m.roomID = roomID
}

// swapRoom clears the room and returns the previous one, so only a
// single caller releases the membership.
func (m *memberConn) swapRoom(roomID string) string {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	old := m.roomID
	m.roomID = roomID
	return old
}

func NewRelayServer(rooms ports.RoomRepository, metrics *monitoring.RelayMetrics, logger *zap.SugaredLogger) *RelayServer {
	return &RelayServer{
		rooms:        rooms,
		connections:  make(map[domain.PeerID]*memberConn),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// SetAuth enables join-token validation on new connections.
func (s *RelayServer) SetAuth(auth TokenValidator) {
	s.auth = auth
}

// SetTimeouts overrides the keepalive settings from configuration.
func (s *RelayServer) SetTimeouts(pingInterval, pongTimeout, readTimeout, writeTimeout time.Duration) {
	s.pingInterval = pingInterval
	s.pongTimeout = pongTimeout
	s.readTimeout = readTimeout
	s.writeTimeout = writeTimeout
}

// SetMessageLimits applies per-connection rate limiting and a max
// envelope size. Zero values disable the respective limit.
func (s *RelayServer) SetMessageLimits(perSecond float64, burst int, maxSize int64) {
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = burst
	s.maxMessageSize = maxSize
}

func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))

	if s.auth != nil {
		tokenPeer, err := s.auth.ValidateJoinToken(r.URL.Query().Get("token"))
		if err != nil {
			s.logger.Warnw("rejected connection with bad token", "peer_id", peerID, "error", err)
			http.Error(w, "invalid join token", http.StatusUnauthorized)
			return
		}
		// The token subject is authoritative over the query parameter.
		peerID = tokenPeer
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if peerID == "" {
		s.logger.Warn("missing peer_id in query parameters")
		return
	}

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}

	member := &memberConn{peerID: peerID, conn: conn}
	if s.msgRate > 0 {
		member.limiter = rate.NewLimiter(s.msgRate, s.msgBurst)
	}

	// A reconnecting peer replaces its previous connection and inherits
	// its room membership; the stale connection must not release it.
	s.mu.Lock()
	if existing, isReconnect := s.connections[peerID]; isReconnect && existing != nil {
		member.setRoom(existing.swapRoom(""))
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting peer", "peer_id", peerID)
	}
	s.connections[peerID] = member
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	s.logger.Infow("peer connected to relay", "peer_id", peerID)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))

			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
				s.metrics.EnvelopeDropped("malformed")
				s.logger.Warnw("dropping malformed signaling envelope",
					"peer_id", peerID, "error", domain.ErrMalformedEnvelope)
				continue
			}
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if member.limiter != nil && !member.limiter.Allow() {
				s.metrics.EnvelopeDropped("rate_limited")
				s.logger.Warnw("rate limiting signaling messages", "peer_id", peerID)
				continue
			}
			if err := s.handleEnvelope(r.Context(), member, env); err != nil {
				s.logger.Infow("error handling envelope", "peer_id", peerID,
					"type", env.Type, "error", err)
				s.sendError(member, err.Error())
			}

		case <-pingTicker.C:
			member.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			member.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading from peer", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	// A reconnect may already have replaced this entry; membership then
	// belongs to the replacement and must survive this teardown.
	superseded := true
	if current, ok := s.connections[peerID]; ok && current == member {
		delete(s.connections, peerID)
		superseded = false
	}
	s.mu.Unlock()

	if !superseded {
		s.leaveRoom(context.Background(), member)
	}
	s.metrics.ConnectionClosed()
	s.logger.Infow("peer disconnected from relay", "peer_id", peerID)
}

func (s *RelayServer) handleEnvelope(ctx context.Context, member *memberConn, env Envelope) error {
	ctx, span := tracing.TraceEnvelope(ctx, string(env.Type), string(member.peerID), member.room())
	defer span.End()

	switch {
	case env.Type == TypeJoin:
		return s.handleJoin(ctx, member, env)
	case relayable(env.Type):
		return s.relayEnvelope(ctx, member, env)
	default:
		s.metrics.EnvelopeDropped("unknown_type")
		return fmt.Errorf("unknown envelope type: %s", env.Type)
	}
}

// handleJoin registers the connection in a room. A second join from
// the same connection is a room switch: the old membership is released
// first, with the usual peer-left broadcast.
func (s *RelayServer) handleJoin(ctx context.Context, member *memberConn, env Envelope) error {
	if env.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if env.PeerID != "" && env.PeerID != member.peerID {
		return fmt.Errorf("peerId mismatch: expected %s, got %s", member.peerID, env.PeerID)
	}
	// A repeated join for the current room is answered with the member
	// list again, without re-registering or a peer-joined broadcast.
	if member.room() == env.RoomID {
		members, err := s.rooms.Members(ctx, env.RoomID)
		if err != nil {
			return fmt.Errorf("failed to list room members: %w", err)
		}
		others := make([]domain.PeerID, 0, len(members))
		for _, other := range members {
			if other != member.peerID {
				others = append(others, other)
			}
		}
		return member.writeJSON(Envelope{
			Type:   TypeRoomJoined,
			RoomID: env.RoomID,
			Peers:  others,
		}, s.writeTimeout)
	}

	s.leaveRoom(ctx, member)

	existing, err := s.rooms.AddMember(ctx, env.RoomID, member.peerID)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	member.setRoom(env.RoomID)
	s.updateRoomGauge(ctx)

	s.logger.Infow("peer joined room", "peer_id", member.peerID, "room_id", env.RoomID,
		"existing_members", len(existing))

	joined := Envelope{Type: TypePeerJoined, RoomID: env.RoomID, PeerID: member.peerID}
	for _, other := range existing {
		s.sendToPeer(other, joined)
	}

	return member.writeJSON(Envelope{
		Type:   TypeRoomJoined,
		RoomID: env.RoomID,
		Peers:  existing,
	}, s.writeTimeout)
}

// relayEnvelope forwards a negotiation payload without inspecting it.
// A set targetPeer routes to that member only; otherwise every other
// room member receives it.
func (s *RelayServer) relayEnvelope(ctx context.Context, member *memberConn, env Envelope) error {
	roomID := member.room()
	if roomID == "" {
		return fmt.Errorf("join a room before relaying")
	}

	// The relay stamps the authenticated sender; a forged peerId never
	// makes it past this point.
	env.PeerID = member.peerID
	env.RoomID = roomID

	members, err := s.rooms.Members(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to list room members: %w", err)
	}

	delivered := 0
	for _, other := range members {
		if other == member.peerID {
			continue
		}
		if env.TargetPeer != "" && other != env.TargetPeer {
			continue
		}
		if s.sendToPeer(other, env) {
			delivered++
		}
	}

	s.metrics.EnvelopeRelayed(env.Type)
	s.logger.Debugw("relayed envelope", "type", env.Type, "from", member.peerID,
		"room_id", roomID, "target", env.TargetPeer, "delivered", delivered)
	return nil
}

// leaveRoom removes the member from its room, broadcasting peer-left.
// The repository deletes rooms that reach zero members.
func (s *RelayServer) leaveRoom(ctx context.Context, member *memberConn) {
	roomID := member.swapRoom("")
	if roomID == "" {
		return
	}

	remaining, err := s.rooms.RemoveMember(ctx, roomID, member.peerID)
	if err != nil {
		s.logger.Warnw("failed to leave room", "peer_id", member.peerID,
			"room_id", roomID, "error", err)
		return
	}
	s.updateRoomGauge(ctx)

	if remaining > 0 {
		left := Envelope{Type: TypePeerLeft, RoomID: roomID, PeerID: member.peerID}
		members, err := s.rooms.Members(ctx, roomID)
		if err != nil {
			return
		}
		for _, other := range members {
			s.sendToPeer(other, left)
		}
	}
}

// sendToPeer delivers to a currently connected member. Members that
// disconnected between lookup and write are skipped; the relay never
// buffers for late joiners.
func (s *RelayServer) sendToPeer(peerID domain.PeerID, env Envelope) bool {
	s.mu.RLock()
	member, ok := s.connections[peerID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	if err := member.writeJSON(env, s.writeTimeout); err != nil {
		s.logger.Infow("failed to deliver envelope", "peer_id", peerID, "error", err)
		return false
	}
	return true
}

func (s *RelayServer) updateRoomGauge(ctx context.Context) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return
	}
	s.metrics.SetActiveRooms(len(rooms))
}

func (s *RelayServer) sendError(member *memberConn, message string) {
	member.writeJSON(Envelope{Type: TypeError, Message: message}, s.writeTimeout)
}

// ConnectedPeers lists peers with a live signaling connection.
func (s *RelayServer) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.connections))
	for peerID := range s.connections {
		peers = append(peers, peerID)
	}
	return peers
}

// IsPeerConnected reports whether a peer has a live signaling
// connection.
func (s *RelayServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.connections[peerID]
	return ok
}
