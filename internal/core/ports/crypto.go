package ports

import "context"

// KeyExchanger holds the process-lifetime local key pair and derives
// per-peer session keys. Keys are never persisted.
type KeyExchanger interface {
	// PublicKey returns the local public key material sent in the
	// handshake frame.
	PublicKey() []byte

	// DeriveSessionKey runs the key agreement against a remote public
	// key and returns the shared symmetric session key.
	DeriveSessionKey(peerPublic []byte) ([]byte, error)
}

// FrameCipher provides authenticated symmetric encryption for frame
// payloads. Seal uses a fresh random nonce per call; Open returns
// domain.ErrDecryptionFailed on any auth failure and never forged
// plaintext.
type FrameCipher interface {
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, ciphertext []byte) ([]byte, error)
}

// ChannelKeyDeriver stretches a channel password into a group key via
// a deliberately slow KDF. Derived keys are cached per channel and
// never transmitted.
type ChannelKeyDeriver interface {
	ChannelKey(ctx context.Context, channelID, password string) ([]byte, error)
}
