package crypto

import (
	"crypto/rand"
	"fmt"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaChaFrameCipher seals frame payloads with XChaCha20-Poly1305. The
// 24-byte nonce is generated fresh per message and prepended to the
// ciphertext, so no counter state is shared between peers.
type ChaChaFrameCipher struct{}

func NewChaChaFrameCipher() *ChaChaFrameCipher {
	return &ChaChaFrameCipher{}
}

func (c *ChaChaFrameCipher) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *ChaChaFrameCipher) Open(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, domain.ErrDecryptionFailed
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Auth tag mismatch: drop the frame, keep the connection.
		return nil, domain.ErrDecryptionFailed
	}
	return plaintext, nil
}

var _ ports.FrameCipher = (*ChaChaFrameCipher)(nil)
