package domain

import "errors"

var (
	// ErrSignalingUnreachable means the relay probe timed out. It is
	// the trigger for fallback discovery, never a crash.
	ErrSignalingUnreachable = errors.New("signaling relay unreachable")

	// ErrNegotiationTimeout means no remote description arrived within
	// the configured bound; the peer is moved to Failed.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	ErrMalformedFrame    = errors.New("malformed frame")
	ErrMalformedEnvelope = errors.New("malformed signaling envelope")

	// ErrNotConnected is returned to callers that try to send to a
	// peer whose record is not in the Connected state.
	ErrNotConnected = errors.New("peer not connected")

	// ErrDecryptionFailed means an AEAD auth tag mismatch on a single
	// frame. The frame is dropped; the connection survives.
	ErrDecryptionFailed = errors.New("frame decryption failed")

	ErrInvalidTransition   = errors.New("invalid peer state transition")
	ErrPeerNotFound        = errors.New("peer not found")
	ErrPeerCapacityReached = errors.New("peer capacity reached")
	ErrNoSessionKey        = errors.New("no session key established")
	ErrRoomNotFound        = errors.New("room not found")
)
