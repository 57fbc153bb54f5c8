package reliability

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/retry"

	"go.uber.org/zap"
)

// SignalerWrapper wraps a Signaler with retry logic and circuit breakers.
// Signaling sends are best effort on the wire, so a transient relay
// hiccup should not abort a whole negotiation; a peer that keeps
// failing gets its own breaker so other negotiations are unaffected.
type SignalerWrapper struct {
	signaler ports.Signaler
	logger   *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	peerBreakers   map[domain.PeerID]*circuitbreaker.CircuitBreaker
	peerBreakersMu sync.RWMutex
}

// NewSignalerWrapper creates a new wrapper with retry and circuit breaker
func NewSignalerWrapper(
	signaler ports.Signaler,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SignalerWrapper {
	wrapper := &SignalerWrapper{
		signaler:       signaler,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
		peerBreakers:   make(map[domain.PeerID]*circuitbreaker.CircuitBreaker),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("signaling circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// getPeerCircuitBreaker gets or creates a circuit breaker for a specific peer
func (w *SignalerWrapper) getPeerCircuitBreaker(peerID domain.PeerID) *circuitbreaker.CircuitBreaker {
	w.peerBreakersMu.RLock()
	cb, exists := w.peerBreakers[peerID]
	w.peerBreakersMu.RUnlock()

	if exists {
		return cb
	}

	w.peerBreakersMu.Lock()
	defer w.peerBreakersMu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := w.peerBreakers[peerID]; exists {
		return cb
	}

	cb = circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Infow("peer circuit breaker state changed",
			"peer_id", peerID,
			"from", from.String(),
			"to", to.String(),
		)
	})

	w.peerBreakers[peerID] = cb
	return cb
}

func (w *SignalerWrapper) send(ctx context.Context, target domain.PeerID, fn func() error) error {
	if !w.retryConfig.Enabled {
		return fn()
	}

	peerCB := w.getPeerCircuitBreaker(target)

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return peerCB.Execute(ctx, fn)
		})
	})
}

// SendOffer sends an offer with retry logic
func (w *SignalerWrapper) SendOffer(ctx context.Context, target domain.PeerID, sdp string) error {
	return w.send(ctx, target, func() error {
		return w.signaler.SendOffer(ctx, target, sdp)
	})
}

// SendAnswer sends an answer with retry logic
func (w *SignalerWrapper) SendAnswer(ctx context.Context, target domain.PeerID, sdp string) error {
	return w.send(ctx, target, func() error {
		return w.signaler.SendAnswer(ctx, target, sdp)
	})
}

// SendCandidate sends a connectivity candidate with retry logic
func (w *SignalerWrapper) SendCandidate(ctx context.Context, target domain.PeerID, candidate string) error {
	return w.send(ctx, target, func() error {
		return w.signaler.SendCandidate(ctx, target, candidate)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *SignalerWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

// GetPeerCircuitBreakerStats returns circuit breaker statistics for a specific peer
func (w *SignalerWrapper) GetPeerCircuitBreakerStats(peerID domain.PeerID) (circuitbreaker.Stats, bool) {
	w.peerBreakersMu.RLock()
	defer w.peerBreakersMu.RUnlock()

	cb, exists := w.peerBreakers[peerID]
	if !exists {
		return circuitbreaker.Stats{}, false
	}

	return cb.GetStats(), true
}

var _ ports.Signaler = (*SignalerWrapper)(nil)
