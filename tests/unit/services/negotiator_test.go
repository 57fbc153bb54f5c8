package services_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/tests/testutils"
)

type negotiatorHarness struct {
	localID  domain.PeerID
	registry ports.PeerRegistry
	signaler *testutils.FakeSignaler
	factory  *testutils.FakeFactory
	neg      *services.Negotiator
}

func newNegotiatorHarness(t *testing.T, localID domain.PeerID, timeout time.Duration) *negotiatorHarness {
	t.Helper()
	h := &negotiatorHarness{
		localID:  localID,
		registry: services.NewPeerRegistry(8, testLogger()),
		signaler: testutils.NewFakeSignaler(),
		factory:  testutils.NewFakeFactory(),
	}
	h.neg = services.NewNegotiator(localID, h.registry, h.signaler, h.factory, timeout, testLogger())
	return h
}

func (h *negotiatorHarness) discover(t *testing.T, peer domain.PeerID) {
	t.Helper()
	assert.NoError(t, h.registry.Upsert(&domain.PeerRecord{ID: peer}))
}

func (h *negotiatorHarness) peerState(t *testing.T, peer domain.PeerID) domain.PeerState {
	t.Helper()
	record, err := h.registry.Get(peer)
	assert.NoError(t, err)
	return record.State
}

func TestNegotiatorInitiatorFlow(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")

	var connected atomic.Bool
	h.neg.OnConnected(func(peer domain.PeerID, transport ports.PeerTransport) {
		assert.Equal(t, domain.PeerID("bob"), peer)
		assert.NotNil(t, transport)
		connected.Store(true)
	})

	assert.NoError(t, h.neg.Connect("bob"))
	assert.Equal(t, domain.PeerStateNegotiating, h.peerState(t, "bob"))

	offers := h.signaler.SentOffers()
	assert.Len(t, offers, 1)
	assert.Equal(t, domain.PeerID("bob"), offers[0].Target)

	session, ok := h.neg.Session("bob")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleInitiator, session.Role)
	assert.Equal(t, domain.SessionOfferSent, session.State)

	h.neg.HandleAnswer("bob", "answer-sdp")
	transport := h.factory.Transport("bob")
	assert.Equal(t, "answer-sdp", transport.AnswerSDP)

	session, ok = h.neg.Session("bob")
	assert.True(t, ok)
	assert.Equal(t, domain.SessionAnswerExchanged, session.State)

	transport.EmitState(ports.TransportConnected)
	assert.Equal(t, domain.PeerStateConnected, h.peerState(t, "bob"))
	assert.True(t, connected.Load())

	_, ok = h.neg.Session("bob")
	assert.False(t, ok)
	assert.Equal(t, 0, h.neg.SessionCount())
}

func TestNegotiatorResponderFlow(t *testing.T) {
	h := newNegotiatorHarness(t, "zoe", time.Minute)

	// The offer arrives before any discovery event; the peer must
	// still be admitted.
	h.neg.HandleOffer("alice", "offer-sdp")

	assert.Equal(t, domain.PeerStateNegotiating, h.peerState(t, "alice"))
	answers := h.signaler.SentAnswers()
	assert.Len(t, answers, 1)
	assert.Equal(t, domain.PeerID("alice"), answers[0].Target)

	transport := h.factory.Transport("alice")
	assert.Equal(t, "offer-sdp", transport.RemoteSDP)

	session, ok := h.neg.Session("alice")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleResponder, session.Role)
	assert.Equal(t, domain.SessionAnswerExchanged, session.State)

	transport.EmitState(ports.TransportConnected)
	assert.Equal(t, domain.PeerStateConnected, h.peerState(t, "alice"))
}

func TestNegotiatorTieBreak(t *testing.T) {
	// The lexicographically smaller peer creates the offer; the other
	// side waits.
	h := newNegotiatorHarness(t, "zoe", time.Minute)
	h.discover(t, "alice")

	assert.NoError(t, h.neg.Connect("alice"))
	assert.Empty(t, h.signaler.SentOffers())
	assert.Equal(t, 0, h.neg.SessionCount())
	assert.Equal(t, domain.PeerStateDiscovered, h.peerState(t, "alice"))

	h2 := newNegotiatorHarness(t, "alice", time.Minute)
	h2.discover(t, "zoe")
	assert.NoError(t, h2.neg.Connect("zoe"))
	assert.Len(t, h2.signaler.SentOffers(), 1)
}

func TestNegotiatorConnectIsIdempotent(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")

	assert.NoError(t, h.neg.Connect("bob"))
	assert.NoError(t, h.neg.Connect("bob"))
	assert.NoError(t, h.neg.Connect("bob"))

	assert.Len(t, h.signaler.SentOffers(), 1)
	assert.Equal(t, 1, h.neg.SessionCount())
}

func TestNegotiatorConnectToSelf(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	assert.NoError(t, h.neg.Connect("alice"))
	assert.Equal(t, 0, h.neg.SessionCount())
}

func TestNegotiatorDropsOfferDuringLiveSession(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	assert.NoError(t, h.neg.Connect("bob"))

	h.neg.HandleOffer("bob", "rogue-offer")

	// No answer goes out and the original session survives.
	assert.Empty(t, h.signaler.SentAnswers())
	session, ok := h.neg.Session("bob")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleInitiator, session.Role)
}

func TestNegotiatorDropsUnexpectedAnswer(t *testing.T) {
	h := newNegotiatorHarness(t, "zoe", time.Minute)
	h.neg.HandleOffer("alice", "offer-sdp")

	// The responder side never applies an answer.
	h.neg.HandleAnswer("alice", "answer-sdp")
	transport := h.factory.Transport("alice")
	assert.Empty(t, transport.AnswerSDP)

	// Nor does a peer with no session at all.
	h.neg.HandleAnswer("nobody", "answer-sdp")
}

func TestNegotiatorBuffersEarlyCandidates(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	assert.NoError(t, h.neg.Connect("bob"))
	transport := h.factory.Transport("bob")

	// Candidates before the answer are held back.
	h.neg.HandleCandidate("bob", "candidate-1")
	h.neg.HandleCandidate("bob", "candidate-2")
	assert.Empty(t, transport.AppliedCandidates())

	// The answer flushes the buffer in arrival order.
	h.neg.HandleAnswer("bob", "answer-sdp")
	assert.Equal(t, []string{"candidate-1", "candidate-2"}, transport.AppliedCandidates())

	// Later candidates apply directly.
	h.neg.HandleCandidate("bob", "candidate-3")
	assert.Equal(t, []string{"candidate-1", "candidate-2", "candidate-3"}, transport.AppliedCandidates())
}

func TestNegotiatorDropsCandidateWithoutSession(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.neg.HandleCandidate("ghost", "candidate-1")
	assert.Equal(t, 0, h.neg.SessionCount())
}

func TestNegotiatorForwardsLocalCandidates(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	assert.NoError(t, h.neg.Connect("bob"))

	h.factory.Transport("bob").EmitCandidate("local-candidate")

	candidates := h.signaler.SentCandidates()
	assert.Len(t, candidates, 1)
	assert.Equal(t, domain.PeerID("bob"), candidates[0].Target)
	assert.Equal(t, "local-candidate", candidates[0].Payload)
}

func TestNegotiatorTimeout(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", 50*time.Millisecond)
	h.discover(t, "bob")

	disconnected := make(chan domain.PeerID, 1)
	h.neg.OnDisconnected(func(peer domain.PeerID) {
		disconnected <- peer
	})

	assert.NoError(t, h.neg.Connect("bob"))

	select {
	case peer := <-disconnected:
		assert.Equal(t, domain.PeerID("bob"), peer)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}

	assert.Equal(t, 0, h.neg.SessionCount())
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
	assert.True(t, h.factory.Transport("bob").IsClosed())
}

func TestNegotiatorPeerLostDuringNegotiation(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	assert.NoError(t, h.neg.Connect("bob"))

	h.neg.PeerLost("bob")

	assert.Equal(t, 0, h.neg.SessionCount())
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
	assert.True(t, h.factory.Transport("bob").IsClosed())
}

func TestNegotiatorDisconnectEstablishedPeer(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	assert.NoError(t, h.neg.Connect("bob"))
	h.neg.HandleAnswer("bob", "answer-sdp")
	h.factory.Transport("bob").EmitState(ports.TransportConnected)
	assert.Equal(t, domain.PeerStateConnected, h.peerState(t, "bob"))

	h.neg.Disconnect("bob")
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
}

func TestNegotiatorTransportFailureAfterConnect(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")

	disconnected := make(chan domain.PeerID, 1)
	h.neg.OnDisconnected(func(peer domain.PeerID) {
		disconnected <- peer
	})

	assert.NoError(t, h.neg.Connect("bob"))
	h.neg.HandleAnswer("bob", "answer-sdp")
	transport := h.factory.Transport("bob")
	transport.EmitState(ports.TransportConnected)
	assert.Equal(t, domain.PeerStateConnected, h.peerState(t, "bob"))

	transport.EmitState(ports.TransportFailed)

	select {
	case peer := <-disconnected:
		assert.Equal(t, domain.PeerID("bob"), peer)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
}

func TestNegotiatorOfferSendFailure(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")
	h.signaler.OfferErr = assert.AnError

	assert.Error(t, h.neg.Connect("bob"))
	assert.Equal(t, 0, h.neg.SessionCount())
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
	assert.True(t, h.factory.Transport("bob").IsClosed())
}

func TestNegotiatorRetryAfterFailure(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)
	h.discover(t, "bob")

	h.signaler.OfferErr = assert.AnError
	assert.Error(t, h.neg.Connect("bob"))

	// A fresh discovery event restarts negotiation from Disconnected.
	h.signaler.OfferErr = nil
	h.neg.HandleDiscovery(ports.DiscoveryEvent{Type: ports.DiscoveryPeerFound, PeerID: "bob"})

	assert.Len(t, h.signaler.SentOffers(), 1)
	assert.Equal(t, domain.PeerStateNegotiating, h.peerState(t, "bob"))
}

func TestNegotiatorHandleDiscoveryStartsNegotiation(t *testing.T) {
	h := newNegotiatorHarness(t, "alice", time.Minute)

	h.neg.HandleDiscovery(ports.DiscoveryEvent{
		Type:        ports.DiscoveryPeerFound,
		PeerID:      "bob",
		DisplayName: "Bob",
	})

	assert.Len(t, h.signaler.SentOffers(), 1)
	record, err := h.registry.Get("bob")
	assert.NoError(t, err)
	assert.Equal(t, "Bob", record.DisplayName)

	h.neg.HandleDiscovery(ports.DiscoveryEvent{Type: ports.DiscoveryPeerLost, PeerID: "bob"})
	assert.Equal(t, 0, h.neg.SessionCount())
	assert.Equal(t, domain.PeerStateDisconnected, h.peerState(t, "bob"))
}
