package relay

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "meshroom"

// Metrics are the relay's Prometheus instruments.
type Metrics struct {
	rooms        prometheus.Gauge
	participants prometheus.Gauge
	relayed      *prometheus.CounterVec
	rejected     *prometheus.CounterVec
}

// NewMetrics creates the relay instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one participant.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "participants",
			Help:      "Participants currently in a room.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages sent to participants, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "rejected_total",
			Help:      "Requests answered with an error, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.rooms, m.participants, m.relayed, m.rejected)
	return m
}
