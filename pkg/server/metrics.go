package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	connectionsTotal  prometheus.Counter
	loginOutcomes     *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	groupFanout       prometheus.Histogram
	groupsCreated     prometheus.Counter
}

// NewMetrics creates a metrics instance backed by its own registry, so tests
// can run multiple servers without duplicate-registration panics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tessenger_active_users",
			Help: "Current number of authenticated users",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessenger_connections_total",
			Help: "Total number of accepted TCP connections",
		}),
		loginOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tessenger_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}), // success, wrong_password, blocked, unknown_user
		messagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tessenger_messages_delivered_total",
			Help: "Messages delivered to recipients by kind",
		}, []string{"kind"}), // direct, group
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tessenger_delivery_failures_total",
			Help: "Recipient writes that failed or timed out, by kind",
		}, []string{"kind"}),
		groupFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tessenger_group_fanout",
			Help:    "Number of recipients per group message",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		groupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tessenger_groups_created_total",
			Help: "Total number of group chats created",
		}),
	}
}

// Registry exposes the backing registry for the HTTP /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordActiveUsers(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordConnection() {
	m.connectionsTotal.Inc()
}

func (m *Metrics) RecordLogin(outcome string) {
	m.loginOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDelivery(kind string) {
	m.messagesDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDeliveryFailure(kind string) {
	m.deliveryFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordGroupFanout(recipients int) {
	m.groupFanout.Observe(float64(recipients))
}

func (m *Metrics) RecordGroupCreated() {
	m.groupsCreated.Inc()
}
