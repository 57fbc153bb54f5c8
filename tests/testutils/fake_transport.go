package testutils

import (
	"context"
	"fmt"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

// FakeTransport is a scriptable in-memory PeerTransport. Tests drive
// the remote side through EmitState and EmitMessage; Close never fires
// callbacks, so synchronous emission from the test goroutine is safe.
type FakeTransport struct {
	Peer domain.PeerID
	Role domain.NegotiationRole

	mu         sync.Mutex
	offered    bool
	RemoteSDP  string
	AnswerSDP  string
	Candidates []string
	Sent       [][]byte
	Closed     bool

	OfferErr     error
	AnswerErr    error
	AcceptErr    error
	CandidateErr error
	SendErr      error

	onCandidate func(string)
	onState     func(ports.TransportState)
	onMessage   func([]byte)
}

func NewFakeTransport(peer domain.PeerID, role domain.NegotiationRole) *FakeTransport {
	return &FakeTransport{Peer: peer, Role: role}
}

func (t *FakeTransport) CreateOffer(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.OfferErr != nil {
		return "", t.OfferErr
	}
	t.offered = true
	return fmt.Sprintf("offer-for-%s", t.Peer), nil
}

func (t *FakeTransport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AnswerErr != nil {
		return "", t.AnswerErr
	}
	t.RemoteSDP = offerSDP
	return fmt.Sprintf("answer-for-%s", t.Peer), nil
}

func (t *FakeTransport) AcceptAnswer(answerSDP string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AcceptErr != nil {
		return t.AcceptErr
	}
	t.AnswerSDP = answerSDP
	return nil
}

func (t *FakeTransport) AddCandidate(candidate string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CandidateErr != nil {
		return t.CandidateErr
	}
	t.Candidates = append(t.Candidates, candidate)
	return nil
}

func (t *FakeTransport) OnCandidate(fn func(candidate string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *FakeTransport) OnStateChange(fn func(state ports.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *FakeTransport) OnMessage(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *FakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.Sent = append(t.Sent, buf)
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// EmitState invokes the registered state callback, simulating the
// underlying connection changing state.
func (t *FakeTransport) EmitState(state ports.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// EmitCandidate simulates the local ICE agent producing a candidate.
func (t *FakeTransport) EmitCandidate(candidate string) {
	t.mu.Lock()
	fn := t.onCandidate
	t.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// EmitMessage simulates an inbound data channel message.
func (t *FakeTransport) EmitMessage(data []byte) {
	t.mu.Lock()
	fn := t.onMessage
	t.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (t *FakeTransport) SentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := make([][]byte, len(t.Sent))
	copy(frames, t.Sent)
	return frames
}

func (t *FakeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

func (t *FakeTransport) AppliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.Candidates))
	copy(out, t.Candidates)
	return out
}

// FakeFactory hands out FakeTransports and remembers them per peer so
// tests can reach the transport a negotiator created internally.
type FakeFactory struct {
	mu         sync.Mutex
	Transports map[domain.PeerID]*FakeTransport
	Err        error
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{Transports: make(map[domain.PeerID]*FakeTransport)}
}

func (f *FakeFactory) NewTransport(peer domain.PeerID, role domain.NegotiationRole) (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	transport := NewFakeTransport(peer, role)
	f.Transports[peer] = transport
	return transport, nil
}

func (f *FakeFactory) Transport(peer domain.PeerID) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Transports[peer]
}

// SignalRecord is one captured outbound signaling payload.
type SignalRecord struct {
	Target  domain.PeerID
	Payload string
}

// FakeSignaler captures outbound signaling traffic.
type FakeSignaler struct {
	mu         sync.Mutex
	Offers     []SignalRecord
	Answers    []SignalRecord
	Candidates []SignalRecord

	OfferErr     error
	AnswerErr    error
	CandidateErr error
}

func NewFakeSignaler() *FakeSignaler {
	return &FakeSignaler{}
}

func (s *FakeSignaler) SendOffer(ctx context.Context, target domain.PeerID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OfferErr != nil {
		return s.OfferErr
	}
	s.Offers = append(s.Offers, SignalRecord{Target: target, Payload: sdp})
	return nil
}

func (s *FakeSignaler) SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AnswerErr != nil {
		return s.AnswerErr
	}
	s.Answers = append(s.Answers, SignalRecord{Target: target, Payload: sdp})
	return nil
}

func (s *FakeSignaler) SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CandidateErr != nil {
		return s.CandidateErr
	}
	s.Candidates = append(s.Candidates, SignalRecord{Target: target, Payload: candidate})
	return nil
}

func (s *FakeSignaler) SentOffers() []SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SignalRecord(nil), s.Offers...)
}

func (s *FakeSignaler) SentAnswers() []SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SignalRecord(nil), s.Answers...)
}

func (s *FakeSignaler) SentCandidates() []SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SignalRecord(nil), s.Candidates...)
}

var (
	_ ports.PeerTransport    = (*FakeTransport)(nil)
	_ ports.TransportFactory = (*FakeFactory)(nil)
	_ ports.Signaler         = (*FakeSignaler)(nil)
)
