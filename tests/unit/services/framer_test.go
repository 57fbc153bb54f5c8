package services_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/crypto"
	"peerlink/tests/testutils"
)

type framerHarness struct {
	registry ports.PeerRegistry
	framer   *services.Framer
	cipher   *crypto.ChaChaFrameCipher
}

func newFramerHarness(t *testing.T, localID domain.PeerID) *framerHarness {
	t.Helper()
	registry := services.NewPeerRegistry(8, testLogger())
	cipher := crypto.NewChaChaFrameCipher()
	return &framerHarness{
		registry: registry,
		framer:   services.NewFramer(localID, registry, cipher, testLogger()),
		cipher:   cipher,
	}
}

// connectPeer walks a peer to Connected with a session key and an
// attached fake transport.
func (h *framerHarness) connectPeer(t *testing.T, peer domain.PeerID, key []byte) *testutils.FakeTransport {
	t.Helper()
	assert.NoError(t, h.registry.Upsert(&domain.PeerRecord{ID: peer}))
	assert.NoError(t, h.registry.Transition(peer, domain.PeerStateNegotiating))
	assert.NoError(t, h.registry.Transition(peer, domain.PeerStateConnected))
	if key != nil {
		assert.NoError(t, h.registry.SetSessionKey(peer, key))
	}
	transport := testutils.NewFakeTransport(peer, domain.RoleInitiator)
	h.framer.Attach(peer, transport)
	return transport
}

func sessionKey(b byte) []byte {
	key := make([]byte, crypto.SessionKeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func decodeSent(t *testing.T, raw []byte) *domain.Frame {
	t.Helper()
	var frame domain.Frame
	assert.NoError(t, json.Unmarshal(raw, &frame))
	return &frame
}

func TestFramerSendSealsPayload(t *testing.T) {
	h := newFramerHarness(t, "alice")
	key := sessionKey(7)
	transport := h.connectPeer(t, "bob", key)

	assert.NoError(t, h.framer.Send("bob", domain.FrameKindChat, []byte("hello bob")))

	sent := transport.SentFrames()
	assert.Len(t, sent, 1)
	frame := decodeSent(t, sent[0])
	assert.Equal(t, domain.FrameKindChat, frame.Kind)
	assert.Equal(t, domain.PeerID("alice"), frame.From)

	// The wire payload is ciphertext, not the message.
	assert.NotEqual(t, []byte("hello bob"), frame.Data)
	plaintext, err := h.cipher.Open(key, frame.Data)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello bob"), plaintext)
}

func TestFramerSendHandshakeUnencrypted(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", nil)

	// Handshake frames carry raw key material before any session key
	// exists.
	assert.NoError(t, h.framer.Send("bob", domain.FrameKindHandshake, []byte("public-key")))

	frame := decodeSent(t, transport.SentFrames()[0])
	assert.Equal(t, []byte("public-key"), frame.Data)
}

func TestFramerSendRequiresConnectedPeer(t *testing.T) {
	h := newFramerHarness(t, "alice")

	assert.ErrorIs(t, h.framer.Send("ghost", domain.FrameKindChat, []byte("hi")), domain.ErrNotConnected)

	assert.NoError(t, h.registry.Upsert(&domain.PeerRecord{ID: "bob"}))
	assert.ErrorIs(t, h.framer.Send("bob", domain.FrameKindChat, []byte("hi")), domain.ErrNotConnected)
}

func TestFramerSendRequiresSessionKey(t *testing.T) {
	h := newFramerHarness(t, "alice")
	h.connectPeer(t, "bob", nil)

	assert.ErrorIs(t, h.framer.Send("bob", domain.FrameKindChat, []byte("hi")), domain.ErrNoSessionKey)
}

func TestFramerReceiveRoundTrip(t *testing.T) {
	h := newFramerHarness(t, "alice")
	key := sessionKey(9)
	transport := h.connectPeer(t, "bob", key)

	var mu sync.Mutex
	var got []string
	h.framer.RegisterHandler(domain.FrameKindChat, func(from domain.PeerID, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, domain.PeerID("bob"), from)
		got = append(got, string(payload))
	})

	sealed, err := h.cipher.Seal(key, []byte("hello alice"))
	assert.NoError(t, err)
	frame := &domain.Frame{Kind: domain.FrameKindChat, From: "bob", Data: sealed}
	raw, err := frame.Encode()
	assert.NoError(t, err)

	transport.EmitMessage(raw)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello alice"}, got)
}

func TestFramerChannelKeySealsAnnouncements(t *testing.T) {
	h := newFramerHarness(t, "alice")
	key := sessionKey(3)
	transport := h.connectPeer(t, "bob", key)

	channelKey := sessionKey(11)
	h.framer.SetChannelKey(channelKey)

	assert.NoError(t, h.framer.Send("bob", domain.FrameKindAnnouncement, []byte("room notice")))

	sent := transport.SentFrames()
	assert.Len(t, sent, 1)
	frame := decodeSent(t, sent[0])

	// Announcements seal with the group key, not the session key.
	_, err := h.cipher.Open(key, frame.Data)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	plaintext, err := h.cipher.Open(channelKey, frame.Data)
	assert.NoError(t, err)
	assert.Equal(t, []byte("room notice"), plaintext)

	// Chat frames keep using the per-peer session key.
	assert.NoError(t, h.framer.Send("bob", domain.FrameKindChat, []byte("hi")))
	chat := decodeSent(t, transport.SentFrames()[1])
	_, err = h.cipher.Open(key, chat.Data)
	assert.NoError(t, err)
}

func TestFramerAnnouncementsFallBackToSessionKey(t *testing.T) {
	h := newFramerHarness(t, "alice")
	key := sessionKey(4)
	transport := h.connectPeer(t, "bob", key)

	assert.NoError(t, h.framer.Send("bob", domain.FrameKindAnnouncement, []byte("plain notice")))

	frame := decodeSent(t, transport.SentFrames()[0])
	plaintext, err := h.cipher.Open(key, frame.Data)
	assert.NoError(t, err)
	assert.Equal(t, []byte("plain notice"), plaintext)
}

func TestFramerReceivesChannelKeyAnnouncement(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", sessionKey(5))

	channelKey := sessionKey(12)
	h.framer.SetChannelKey(channelKey)

	var mu sync.Mutex
	var got []string
	h.framer.RegisterHandler(domain.FrameKindAnnouncement, func(from domain.PeerID, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
	})

	sealed, err := h.cipher.Seal(channelKey, []byte("welcome"))
	assert.NoError(t, err)
	frame := &domain.Frame{Kind: domain.FrameKindAnnouncement, From: "bob", Data: sealed}
	raw, err := frame.Encode()
	assert.NoError(t, err)
	transport.EmitMessage(raw)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"welcome"}, got)
}

func TestFramerDropsMalformedFrame(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", sessionKey(1))

	var called bool
	h.framer.RegisterHandler(domain.FrameKindChat, func(domain.PeerID, []byte) { called = true })

	transport.EmitMessage([]byte("not json"))
	transport.EmitMessage([]byte(`{"from":"bob","data":null}`)) // missing kind
	assert.False(t, called)
}

func TestFramerDropsUnknownKind(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", sessionKey(1))

	var called bool
	h.framer.RegisterHandler(domain.FrameKindChat, func(domain.PeerID, []byte) { called = true })

	transport.EmitMessage([]byte(`{"kind":"telemetry","from":"bob","data":"aGk="}`))
	assert.False(t, called)
}

func TestFramerDropsUndecryptableFrame(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", sessionKey(2))

	var called bool
	h.framer.RegisterHandler(domain.FrameKindChat, func(domain.PeerID, []byte) { called = true })

	// Sealed under a different key: auth fails, frame is dropped, the
	// channel stays attached.
	sealed, err := h.cipher.Seal(sessionKey(3), []byte("forged"))
	assert.NoError(t, err)
	frame := &domain.Frame{Kind: domain.FrameKindChat, From: "bob", Data: sealed}
	raw, err := frame.Encode()
	assert.NoError(t, err)

	transport.EmitMessage(raw)
	assert.False(t, called)

	// A well-formed frame after the drop still goes through.
	sealed, err = h.cipher.Seal(sessionKey(2), []byte("legit"))
	assert.NoError(t, err)
	frame = &domain.Frame{Kind: domain.FrameKindChat, From: "bob", Data: sealed}
	raw, err = frame.Encode()
	assert.NoError(t, err)
	transport.EmitMessage(raw)
	assert.True(t, called)
}

func TestFramerBroadcast(t *testing.T) {
	h := newFramerHarness(t, "alice")
	keyB := sessionKey(4)
	keyC := sessionKey(5)
	transportB := h.connectPeer(t, "bob", keyB)
	transportC := h.connectPeer(t, "carol", keyC)

	// A merely discovered peer is skipped.
	assert.NoError(t, h.registry.Upsert(&domain.PeerRecord{ID: "dave"}))

	delivered := h.framer.Broadcast(domain.FrameKindChat, []byte("hi all"))
	assert.Equal(t, 2, delivered)
	assert.Len(t, transportB.SentFrames(), 1)
	assert.Len(t, transportC.SentFrames(), 1)
}

func TestFramerBroadcastCountsFailures(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transportB := h.connectPeer(t, "bob", sessionKey(4))
	h.connectPeer(t, "carol", sessionKey(5))
	transportB.SendErr = assert.AnError

	delivered := h.framer.Broadcast(domain.FrameKindChat, []byte("hi all"))
	assert.Equal(t, 1, delivered)
}

func TestFramerDetachClosesTransport(t *testing.T) {
	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", sessionKey(6))

	h.framer.Detach("bob")
	assert.True(t, transport.IsClosed())
	assert.ErrorIs(t, h.framer.Send("bob", domain.FrameKindChat, []byte("hi")), domain.ErrNotConnected)
}

func TestHandshakeEstablishesSessionKey(t *testing.T) {
	aliceExchanger, err := crypto.NewX25519Exchanger()
	assert.NoError(t, err)
	bobExchanger, err := crypto.NewX25519Exchanger()
	assert.NoError(t, err)

	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", nil)
	handshake := services.NewHandshake(aliceExchanger, h.registry, h.framer, testLogger())

	// Local side announces its public key in the clear.
	handshake.Initiate("bob")
	frame := decodeSent(t, transport.SentFrames()[0])
	assert.Equal(t, domain.FrameKindHandshake, frame.Kind)
	assert.Equal(t, aliceExchanger.PublicKey(), frame.Data)

	// The peer's key arrives and completes derivation.
	inbound := &domain.Frame{Kind: domain.FrameKindHandshake, From: "bob", Data: bobExchanger.PublicKey()}
	raw, err := inbound.Encode()
	assert.NoError(t, err)
	transport.EmitMessage(raw)

	key, err := h.registry.SessionKey("bob")
	assert.NoError(t, err)

	// Both sides derive the same key from opposite public keys.
	bobKey, err := bobExchanger.DeriveSessionKey(aliceExchanger.PublicKey())
	assert.NoError(t, err)
	assert.Equal(t, bobKey, key)
}

func TestHandshakeRejectsBadKeyMaterial(t *testing.T) {
	exchanger, err := crypto.NewX25519Exchanger()
	assert.NoError(t, err)

	h := newFramerHarness(t, "alice")
	transport := h.connectPeer(t, "bob", nil)
	services.NewHandshake(exchanger, h.registry, h.framer, testLogger())

	inbound := &domain.Frame{Kind: domain.FrameKindHandshake, From: "bob", Data: []byte("short")}
	raw, err := inbound.Encode()
	assert.NoError(t, err)
	transport.EmitMessage(raw)

	_, err = h.registry.SessionKey("bob")
	assert.ErrorIs(t, err, domain.ErrNoSessionKey)
}
