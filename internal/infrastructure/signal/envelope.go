package signal

import (
	"encoding/json"

	"peerlink/internal/core/domain"
)

// Envelope types on the signaling stream.
const (
	TypeJoin         = "join"
	TypeRoomJoined   = "room-joined"
	TypePeerJoined   = "peer-joined"
	TypePeerLeft     = "peer-left"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeError        = "error"
)

// Envelope is the JSON wrapper for every message on the signaling
// stream. The relay inspects only the envelope; negotiation payloads
// in Data pass through verbatim.
type Envelope struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId,omitempty"`
	PeerID     domain.PeerID   `json:"peerId,omitempty"`
	TargetPeer domain.PeerID   `json:"targetPeer,omitempty"`
	Peers      []domain.PeerID `json:"peers,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// relayable reports whether the envelope type is a negotiation payload
// the relay forwards without inspection.
func relayable(envelopeType string) bool {
	switch envelopeType {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// sdpPayload is the Data shape for offer and answer envelopes.
type sdpPayload struct {
	SDP string `json:"sdp"`
}

// candidatePayload is the Data shape for ice-candidate envelopes.
type candidatePayload struct {
	Candidate string `json:"candidate"`
}
