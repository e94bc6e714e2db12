package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solstice-desk/relay/internal/session"
)

// Metrics holds the relay's prometheus collectors on a private registry so
// tests can build independent instances.
type Metrics struct {
	Connections     prometheus.Counter
	Messages        *prometheus.CounterVec
	FramesRelayed   prometheus.Counter
	FramesDropped   prometheus.Counter
	InvalidMessages prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics(store *session.Store) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "WebSocket connections accepted.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		FramesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_relayed_total",
			Help: "Frames fanned out to viewers.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames dropped by the frame-credit gate.",
		}),
		InvalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_invalid_messages_total",
			Help: "Messages dropped for failing envelope or schema validation.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Connections, m.Messages, m.FramesRelayed, m.FramesDropped, m.InvalidMessages,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_sessions",
			Help: "Live sessions.",
		}, func() float64 { return float64(store.Stats().Sessions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_viewers",
			Help: "Viewers attached across all sessions.",
		}, func() float64 { return float64(store.Stats().Viewers) }),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
