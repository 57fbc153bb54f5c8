package services

import (
	"errors"
	"fmt"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// FrameHandler receives the decrypted payload of one inbound frame.
type FrameHandler func(from domain.PeerID, payload []byte)

// Framer turns established channel handles plus session keys into a
// typed send/receive API. Every payload except handshake key material
// is sealed with the peer's session key before hitting the wire.
type Framer struct {
	localID  domain.PeerID
	registry ports.PeerRegistry
	cipher   ports.FrameCipher

	mu         sync.RWMutex
	channels   map[domain.PeerID]ports.PeerTransport
	handlers   map[domain.FrameKind][]FrameHandler
	channelKey []byte

	logger *zap.SugaredLogger
}

func NewFramer(localID domain.PeerID, registry ports.PeerRegistry, cipher ports.FrameCipher, logger *zap.SugaredLogger) *Framer {
	return &Framer{
		localID:  localID,
		registry: registry,
		cipher:   cipher,
		channels: make(map[domain.PeerID]ports.PeerTransport),
		handlers: make(map[domain.FrameKind][]FrameHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a frame kind. Multiple handlers
// per kind are invoked in registration order.
func (f *Framer) RegisterHandler(kind domain.FrameKind, handler FrameHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], handler)
}

// SetChannelKey installs a password-derived group key. Announcement
// frames are sealed with it instead of the per-peer session key, so
// only members holding the channel password can read them.
func (f *Framer) SetChannelKey(key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelKey = append([]byte(nil), key...)
}

// Attach takes ownership of a connected transport and starts routing
// its inbound messages.
func (f *Framer) Attach(peer domain.PeerID, transport ports.PeerTransport) {
	f.mu.Lock()
	f.channels[peer] = transport
	f.mu.Unlock()

	transport.OnMessage(func(raw []byte) {
		f.onReceive(peer, raw)
	})
}

// Detach closes and forgets the channel for a peer.
func (f *Framer) Detach(peer domain.PeerID) {
	f.mu.Lock()
	transport, ok := f.channels[peer]
	delete(f.channels, peer)
	f.mu.Unlock()

	if ok {
		transport.Close()
	}
}

// Send encrypts and writes one frame to a connected peer. It fails
// with ErrNotConnected unless the registry shows the peer Connected.
func (f *Framer) Send(peer domain.PeerID, kind domain.FrameKind, payload []byte) error {
	record, err := f.registry.Get(peer)
	if err != nil || !record.Connected() {
		return domain.ErrNotConnected
	}

	f.mu.RLock()
	transport, ok := f.channels[peer]
	f.mu.RUnlock()
	if !ok {
		return domain.ErrNotConnected
	}

	data := payload
	if kind != domain.FrameKindHandshake {
		key, err := f.frameKey(peer, kind)
		if err != nil {
			return err
		}
		if data, err = f.cipher.Seal(key, payload); err != nil {
			return fmt.Errorf("failed to seal frame: %w", err)
		}
	}

	frame := &domain.Frame{Kind: kind, From: f.localID, Data: data}
	encoded, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return transport.Send(encoded)
}

// Broadcast sends a frame to every connected peer and returns the
// number of successful deliveries. Per-peer failures are independent
// and only logged.
func (f *Framer) Broadcast(kind domain.FrameKind, payload []byte) int {
	delivered := 0
	for _, record := range f.registry.List(domain.PeerStateConnected) {
		if err := f.Send(record.ID, kind, payload); err != nil {
			f.logger.Warnw("broadcast delivery failed",
				"peer_id", record.ID, "kind", kind, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// frameKey picks the key sealing a frame of the given kind. With a
// channel key installed, announcement frames use it; everything else
// uses the per-peer session key.
func (f *Framer) frameKey(peer domain.PeerID, kind domain.FrameKind) ([]byte, error) {
	if kind == domain.FrameKindAnnouncement {
		f.mu.RLock()
		key := f.channelKey
		f.mu.RUnlock()
		if key != nil {
			return key, nil
		}
	}
	return f.registry.SessionKey(peer)
}

// onReceive parses, decrypts and dispatches one raw channel message.
// Every failure mode here is a logged drop: the protocol is
// best-effort per frame.
func (f *Framer) onReceive(peer domain.PeerID, raw []byte) {
	frame, err := domain.DecodeFrame(raw)
	if err != nil {
		f.logger.Warnw("dropping malformed frame", "peer_id", peer,
			"error", domain.ErrMalformedFrame, "cause", err)
		return
	}

	// The channel identity is authoritative; the embedded sender is
	// informational only.
	if frame.From != "" && frame.From != peer {
		f.logger.Warnw("frame sender mismatch", "peer_id", peer, "claimed", frame.From)
	}

	if !domain.KnownFrameKind(frame.Kind) {
		f.logger.Warnw("dropping frame of unknown kind", "peer_id", peer, "kind", frame.Kind)
		return
	}

	payload := frame.Data
	if frame.Kind != domain.FrameKindHandshake {
		key, err := f.frameKey(peer, frame.Kind)
		if err != nil {
			f.logger.Warnw("dropping frame without session key", "peer_id", peer, "kind", frame.Kind)
			return
		}
		if payload, err = f.cipher.Open(key, frame.Data); err != nil {
			if errors.Is(err, domain.ErrDecryptionFailed) {
				f.logger.Warnw("dropping undecryptable frame", "peer_id", peer, "kind", frame.Kind)
			} else {
				f.logger.Warnw("dropping frame", "peer_id", peer, "kind", frame.Kind, "error", err)
			}
			return
		}
	}

	f.mu.RLock()
	handlers := append([]FrameHandler(nil), f.handlers[frame.Kind]...)
	f.mu.RUnlock()

	if len(handlers) == 0 {
		f.logger.Debugw("no handler registered for frame kind", "kind", frame.Kind)
		return
	}
	for _, handler := range handlers {
		handler(peer, payload)
	}
}
