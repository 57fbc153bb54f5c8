package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerStateTransitions(t *testing.T) {
	cases := []struct {
		from    PeerState
		to      PeerState
		allowed bool
	}{
		{PeerStateDiscovered, PeerStateNegotiating, true},
		{PeerStateDiscovered, PeerStateDisconnected, true},
		{PeerStateDiscovered, PeerStateConnected, false},
		{PeerStateNegotiating, PeerStateConnected, true},
		{PeerStateNegotiating, PeerStateDisconnected, true},
		{PeerStateNegotiating, PeerStateDiscovered, false},
		{PeerStateConnected, PeerStateDisconnected, true},
		{PeerStateConnected, PeerStateNegotiating, false},
		{PeerStateDisconnected, PeerStateNegotiating, true},
		{PeerStateDisconnected, PeerStateConnected, false},
		{PeerStateDisconnected, PeerStateDiscovered, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestSelectInitiatorIsSymmetric(t *testing.T) {
	assert.Equal(t, PeerID("alice"), SelectInitiator("alice", "bob"))
	assert.Equal(t, PeerID("alice"), SelectInitiator("bob", "alice"))
	assert.Equal(t, PeerID("a"), SelectInitiator("a", "a"))
}

func TestSessionStateTerminal(t *testing.T) {
	assert.True(t, SessionConnected.Terminal())
	assert.True(t, SessionFailed.Terminal())
	assert.False(t, SessionIdle.Terminal())
	assert.False(t, SessionOfferSent.Terminal())
	assert.False(t, SessionOfferReceived.Terminal())
	assert.False(t, SessionAnswerExchanged.Terminal())
}

func TestFrameRoundTrip(t *testing.T) {
	frame := &Frame{Kind: FrameKindChat, From: "alice", Data: []byte("sealed")}
	raw, err := frame.Encode()
	assert.NoError(t, err)

	decoded, err := DecodeFrame(raw)
	assert.NoError(t, err)
	assert.Equal(t, frame.Kind, decoded.Kind)
	assert.Equal(t, frame.From, decoded.From)
	assert.Equal(t, frame.Data, decoded.Data)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte("{{{"))
	assert.Error(t, err)
}

func TestDecodeFrameRequiresKind(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"from":"alice","data":"aGk="}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestKnownFrameKind(t *testing.T) {
	assert.True(t, KnownFrameKind(FrameKindHandshake))
	assert.True(t, KnownFrameKind(FrameKindChat))
	assert.True(t, KnownFrameKind(FrameKindPrivate))
	assert.True(t, KnownFrameKind(FrameKindAnnouncement))
	assert.True(t, KnownFrameKind(FrameKindControl))
	assert.False(t, KnownFrameKind("telemetry"))
	assert.False(t, KnownFrameKind(""))
}

func TestPeerRecordConnected(t *testing.T) {
	record := &PeerRecord{State: PeerStateConnected}
	assert.True(t, record.Connected())
	record.State = PeerStateNegotiating
	assert.False(t, record.Connected())
}
