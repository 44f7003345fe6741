package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the livekit server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	Operations        *prometheus.CounterVec
	LiveRegistrations prometheus.Gauge
	ReExecutions      *prometheus.CounterVec
	ChannelPublished  *prometheus.CounterVec
	ChannelDropped    *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livekit_connections_active",
			Help: "Number of open GraphQL WebSocket connections",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livekit_operations_total",
			Help: "Operations received, by mode and outcome",
		}, []string{"mode", "outcome"}),
		LiveRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livekit_live_registrations",
			Help: "Live queries currently registered with the store",
		}),
		ReExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livekit_live_reexecutions_total",
			Help: "Live query re-executions, by result (delivered or stale)",
		}, []string{"result"}),
		ChannelPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livekit_channel_published_total",
			Help: "Payloads published per event channel",
		}, []string{"channel"}),
		ChannelDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livekit_channel_dropped_total",
			Help: "Payloads dropped because a subscriber queue was full",
		}, []string{"channel"}),
	}
	m.registry.MustRegister(
		m.Connections,
		m.Operations,
		m.LiveRegistrations,
		m.ReExecutions,
		m.ChannelPublished,
		m.ChannelDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) Operation(mode, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(mode, outcome).Inc()
	}
}

func (m *Metrics) LiveRegistered() {
	if m != nil {
		m.LiveRegistrations.Inc()
	}
}

func (m *Metrics) LiveReleased() {
	if m != nil {
		m.LiveRegistrations.Dec()
	}
}

func (m *Metrics) ReExecution(result string) {
	if m != nil {
		m.ReExecutions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Published(channel string) {
	if m != nil {
		m.ChannelPublished.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Dropped(channel string) {
	if m != nil {
		m.ChannelDropped.WithLabelValues(channel).Inc()
	}
}
