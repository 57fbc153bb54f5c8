package webrtc

import (
	"context"
	"fmt"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the ICE settings for peer connections.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory opens pion-backed transports, one per negotiation session.
type Factory struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewFactory(config Config, logger *zap.SugaredLogger) (*Factory, error) {
	settings := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settings.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &Factory{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		logger: logger,
	}, nil
}

func (f *Factory) NewTransport(peer domain.PeerID, role domain.NegotiationRole) (ports.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &Transport{
		peer:   peer,
		pc:     pc,
		logger: f.logger,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(candidate.ToJSON().Candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.emitState(ports.TransportFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			t.emitState(ports.TransportDisconnected)
		}
	})

	// The responder's channel arrives from the remote side.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.adoptChannel(dc)
	})

	return t, nil
}

// Transport is one point-to-point data channel. Connected is reported
// when the channel opens, not when ICE completes: that is the moment
// Send starts working.
type Transport struct {
	peer domain.PeerID
	pc   *webrtc.PeerConnection

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	onCandidate func(string)
	onState     func(ports.TransportState)
	onMessage   func([]byte)

	logger *zap.SugaredLogger
}

func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	dc, err := t.pc.CreateDataChannel("peerlink", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create data channel: %w", err)
	}
	t.adoptChannel(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to apply remote offer: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (t *Transport) AcceptAnswer(answerSDP string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}
	return nil
}

func (t *Transport) AddCandidate(candidate string) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (t *Transport) OnCandidate(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *Transport) OnStateChange(fn func(ports.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return domain.ErrNotConnected
	}
	return dc.Send(data)
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

func (t *Transport) adoptChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.logger.Debugw("data channel open", "peer_id", t.peer)
		t.emitState(ports.TransportConnected)
	})
	dc.OnClose(func() {
		t.emitState(ports.TransportDisconnected)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		fn := t.onMessage
		t.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

func (t *Transport) emitState(state ports.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

var _ ports.TransportFactory = (*Factory)(nil)
