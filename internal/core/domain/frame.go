package domain

import "encoding/json"

// FrameKind distinguishes the routing class of an application frame.
type FrameKind string

const (
	// FrameKindHandshake carries public key material before a session
	// key exists. Its payload is the only one sent unencrypted.
	FrameKindHandshake FrameKind = "handshake"

	FrameKindChat         FrameKind = "chat"
	FrameKindPrivate      FrameKind = "private"
	FrameKindAnnouncement FrameKind = "announcement"
	FrameKindControl      FrameKind = "control"
)

// KnownFrameKind reports whether the framer has routing semantics for
// the kind. Unknown kinds are dropped with a warning, never fatal.
func KnownFrameKind(k FrameKind) bool {
	switch k {
	case FrameKindHandshake, FrameKindChat, FrameKindPrivate, FrameKindAnnouncement, FrameKindControl:
		return true
	}
	return false
}

// Frame is the envelope written to an established data channel,
// transmitted as UTF-8 JSON. Data holds the AEAD-sealed payload for
// every kind except handshake, where it is the raw public key.
type Frame struct {
	Kind FrameKind `json:"kind"`
	From PeerID    `json:"from"`
	Data []byte    `json:"data"`
}

// Encode serializes the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a raw channel message into a frame. Callers map a
// failure to ErrMalformedFrame.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Kind == "" {
		return nil, ErrMalformedFrame
	}
	return &f, nil
}
