package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Protocol error kinds, used as the "kind" label
const (
	errKindSyntax         = "syntax"
	errKindHeaderTooLarge = "header_too_large"
	errKindFrameTooLarge  = "frame_too_large"
	errKindUnknownCommand = "unknown_command"
)

// Metrics holds the server's Prometheus collectors. Each instance has its own
// registry so several servers (as in tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	joinedConnections prometheus.Gauge
	messagesReceived  *prometheus.CounterVec
	responsesSent     *prometheus.CounterVec
	broadcastFanout   prometheus.Histogram
	protocolErrors    *prometheus.CounterVec
	authFailures      prometheus.Counter
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Connections accepted, by transport",
		}, []string{"transport"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Currently registered connections",
		}),
		joinedConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_joined_connections",
			Help: "Connections currently in the room",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Decoded client messages, by verb",
		}, []string{"verb"}),
		responsesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_responses_sent_total",
			Help: "Frames queued to clients, by status",
		}, []string{"status"}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_broadcast_fanout",
			Help:    "Recipients per broadcast",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_protocol_errors_total",
			Help: "Malformed or unsupported client input, by kind",
		}, []string{"kind"}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Rejected AUTH commands",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordConnectionOpened(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) RecordConnectionClosed() {
	m.activeConnections.Dec()
}

func (m *Metrics) RecordJoined() {
	m.joinedConnections.Inc()
}

func (m *Metrics) RecordLeft() {
	m.joinedConnections.Dec()
}

func (m *Metrics) RecordMessageReceived(verb string) {
	m.messagesReceived.WithLabelValues(verb).Inc()
}

func (m *Metrics) RecordResponseSent(status string, count int) {
	m.responsesSent.WithLabelValues(status).Add(float64(count))
}

func (m *Metrics) RecordBroadcast(recipients int) {
	m.broadcastFanout.Observe(float64(recipients))
}

func (m *Metrics) RecordProtocolError(kind string) {
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordAuthFailure() {
	m.authFailures.Inc()
}
