package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus collectors. It satisfies the hub's
// metrics sink.
type Metrics struct {
	LiveConnections   prometheus.Gauge
	Admissions        prometheus.Counter
	Rejections        *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	Relays            *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	SweepReaped       prometheus.Counter
	BackplaneMessages *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socialwall_live_connections",
			Help: "Number of admitted connections",
		}),
		Admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialwall_connections_admitted_total",
			Help: "Total number of admitted connections",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_connections_rejected_total",
			Help: "Total number of connections rejected after upgrade by reason",
		}, []string{"reason"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_disconnects_total",
			Help: "Total number of disconnects by reason",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_broadcasts_total",
			Help: "Total number of broadcasts by audience",
		}, []string{"scope"}),
		Relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_presence_relays_total",
			Help: "Total number of presence relays by event",
		}, []string{"event"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socialwall_idle_sweep_duration_seconds",
			Help:    "Duration of idle sweeps",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		SweepReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialwall_idle_reaped_total",
			Help: "Total number of connections disconnected by the idle sweep",
		}),
		BackplaneMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_backplane_messages_total",
			Help: "Total number of backplane messages by direction and result",
		}, []string{"direction", "result"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwall_handshake_failures_total",
			Help: "Total number of handshakes rejected before upgrade by HTTP status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.LiveConnections,
		m.Admissions,
		m.Rejections,
		m.Disconnects,
		m.Broadcasts,
		m.Relays,
		m.SweepDuration,
		m.SweepReaped,
		m.BackplaneMessages,
		m.HandshakeFailures,
	)

	return m
}

func (m *Metrics) SetLiveConnections(n int) { m.LiveConnections.Set(float64(n)) }

func (m *Metrics) ConnectionAdmitted() { m.Admissions.Inc() }

func (m *Metrics) ConnectionRejected(reason string) { m.Rejections.WithLabelValues(reason).Inc() }

func (m *Metrics) ConnectionClosed(reason string) { m.Disconnects.WithLabelValues(reason).Inc() }

func (m *Metrics) BroadcastSent(scope string) { m.Broadcasts.WithLabelValues(scope).Inc() }

func (m *Metrics) SignalRelayed(event string) { m.Relays.WithLabelValues(event).Inc() }

func (m *Metrics) SweepCompleted(duration time.Duration, reaped int) {
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepReaped.Add(float64(reaped))
}

// BackplaneMessage counts a published or received backplane envelope.
func (m *Metrics) BackplaneMessage(direction, result string) {
	m.BackplaneMessages.WithLabelValues(direction, result).Inc()
}

// HandshakeRejected counts a handshake refused with status.
func (m *Metrics) HandshakeRejected(status int) {
	m.HandshakeFailures.WithLabelValues(strconv.Itoa(status)).Inc()
}
