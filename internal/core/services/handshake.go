package services

import (
	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// Handshake orchestrates per-peer key agreement. Each side sends its
// public key as a handshake frame the moment the channel connects;
// receiving the peer's key completes derivation and arms encryption
// for every later frame.
type Handshake struct {
	exchanger ports.KeyExchanger
	registry  ports.PeerRegistry
	framer    *Framer
	logger    *zap.SugaredLogger
}

func NewHandshake(exchanger ports.KeyExchanger, registry ports.PeerRegistry, framer *Framer, logger *zap.SugaredLogger) *Handshake {
	h := &Handshake{
		exchanger: exchanger,
		registry:  registry,
		framer:    framer,
		logger:    logger,
	}
	framer.RegisterHandler(domain.FrameKindHandshake, h.handleFrame)
	return h
}

// Initiate sends the local public key to a freshly connected peer. The
// frame is necessarily unencrypted: no symmetric key exists yet.
func (h *Handshake) Initiate(peer domain.PeerID) {
	if err := h.framer.Send(peer, domain.FrameKindHandshake, h.exchanger.PublicKey()); err != nil {
		h.logger.Warnw("failed to send handshake", "peer_id", peer, "error", err)
	}
}

func (h *Handshake) handleFrame(from domain.PeerID, publicKey []byte) {
	key, err := h.exchanger.DeriveSessionKey(publicKey)
	if err != nil {
		h.logger.Warnw("dropping handshake with bad key material", "peer_id", from, "error", err)
		return
	}
	if err := h.registry.SetSessionKey(from, key); err != nil {
		h.logger.Warnw("failed to store session key", "peer_id", from, "error", err)
		return
	}
	h.logger.Infow("session key established", "peer_id", from)
}
