package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"peerlink/internal/core/domain"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/retry"
)

type flakySignaler struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakySignaler) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return err
	}
	return nil
}

func (s *flakySignaler) SendOffer(ctx context.Context, target domain.PeerID, sdp string) error {
	return s.fail(errors.New("relay write failed"))
}

func (s *flakySignaler) SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error {
	return s.fail(errors.New("relay write failed"))
}

func (s *flakySignaler) SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error {
	return s.fail(errors.New("relay write failed"))
}

func (s *flakySignaler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestWrapperRetriesTransientFailure(t *testing.T) {
	inner := &flakySignaler{failures: 2}
	wrapper := NewSignalerWrapper(inner, fastRetry(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	err := wrapper.SendOffer(context.Background(), "bob", "sdp")
	assert.NoError(t, err)
	assert.Equal(t, 3, inner.callCount())
}

func TestWrapperGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakySignaler{failures: 100}
	wrapper := NewSignalerWrapper(inner, fastRetry(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	err := wrapper.SendAnswer(context.Background(), "bob", "sdp")
	assert.Error(t, err)
}

func TestWrapperDisabledRetryPassesThrough(t *testing.T) {
	inner := &flakySignaler{failures: 1}
	cfg := retry.Config{Enabled: false}
	wrapper := NewSignalerWrapper(inner, cfg, circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	assert.Error(t, wrapper.SendCandidate(context.Background(), "bob", "candidate"))
	assert.Equal(t, 1, inner.callCount())
}

func TestWrapperPerPeerBreakers(t *testing.T) {
	inner := &flakySignaler{}
	wrapper := NewSignalerWrapper(inner, fastRetry(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	assert.NoError(t, wrapper.SendOffer(context.Background(), "bob", "sdp"))
	assert.NoError(t, wrapper.SendOffer(context.Background(), "carol", "sdp"))

	_, ok := wrapper.GetPeerCircuitBreakerStats("bob")
	assert.True(t, ok)
	_, ok = wrapper.GetPeerCircuitBreakerStats("carol")
	assert.True(t, ok)
	_, ok = wrapper.GetPeerCircuitBreakerStats("stranger")
	assert.False(t, ok)

	stats := wrapper.GetCircuitBreakerStats()
	assert.Equal(t, circuitbreaker.StateClosed, stats.State)
}
