package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"peerlink/internal/core/ports"

	"golang.org/x/crypto/hkdf"
)

const SessionKeySize = 32

// sessionKeyInfo binds derived keys to this protocol so the same ECDH
// secret can never be reused for another purpose.
var sessionKeyInfo = []byte("peerlink/v1/session-key")

// X25519Exchanger holds the process-lifetime local key pair and
// derives per-peer session keys via X25519 agreement plus HKDF-SHA256.
// Both sides compute the same shared secret, so the derived key is
// identical regardless of who initiated.
type X25519Exchanger struct {
	private *ecdh.PrivateKey
}

// NewX25519Exchanger generates a fresh key pair. The pair lives for
// the process lifetime and is never written to storage.
func NewX25519Exchanger() (*X25519Exchanger, error) {
	private, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate X25519 key pair: %w", err)
	}
	return &X25519Exchanger{private: private}, nil
}

func (e *X25519Exchanger) PublicKey() []byte {
	return e.private.PublicKey().Bytes()
}

func (e *X25519Exchanger) DeriveSessionKey(peerPublic []byte) ([]byte, error) {
	remote, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}

	secret, err := e.private.ECDH(remote)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	key := make([]byte, SessionKeySize)
	kdf := hkdf.New(sha256.New, secret, nil, sessionKeyInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("session key derivation failed: %w", err)
	}
	return key, nil
}

var _ ports.KeyExchanger = (*X25519Exchanger)(nil)
