package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayMetrics exposes the relay's operational counters.
type RelayMetrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge

	envelopesRelayed *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
}

func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_relay_connections_active",
			Help: "Number of live signaling connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_relay_connections_total",
			Help: "Total signaling connections accepted",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_relay_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		envelopesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_relay_envelopes_relayed_total",
			Help: "Negotiation envelopes forwarded, by type",
		}, []string{"type"}),

		envelopesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_relay_envelopes_dropped_total",
			Help: "Envelopes dropped without forwarding, by reason",
		}, []string{"reason"}),
	}
}

func (m *RelayMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *RelayMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *RelayMetrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.roomsActive.Set(float64(n))
}

func (m *RelayMetrics) EnvelopeRelayed(envelopeType string) {
	if m == nil {
		return
	}
	m.envelopesRelayed.WithLabelValues(envelopeType).Inc()
}

func (m *RelayMetrics) EnvelopeDropped(reason string) {
	if m == nil {
		return
	}
	m.envelopesDropped.WithLabelValues(reason).Inc()
}
