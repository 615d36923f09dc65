// Package metrics holds the Prometheus collectors for provisioning runs and
// the tunnel relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. All methods are safe on a nil receiver.
type Metrics struct {
	registry          *prometheus.Registry
	stepsTotal        *prometheus.CounterVec
	provisionSeconds  *prometheus.HistogramVec
	tunnelConnections *prometheus.CounterVec
	tunnelBytes       *prometheus.CounterVec
	tunnelActive      prometheus.Gauge
}

// New constructs a registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	stepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawnetes",
			Subsystem: "provision",
			Name:      "steps_total",
			Help:      "Provisioning steps by name and outcome.",
		},
		[]string{"step", "status"},
	)
	provisionSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clawnetes",
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Wall time of a provisioning run.",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"result"},
	)
	tunnelConnections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawnetes",
			Subsystem: "tunnel",
			Name:      "connections_total",
			Help:      "Relayed connections by outcome.",
		},
		[]string{"result"},
	)
	tunnelBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawnetes",
			Subsystem: "tunnel",
			Name:      "bytes_total",
			Help:      "Bytes relayed through the tunnel.",
		},
		[]string{"direction"},
	)
	tunnelActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clawnetes",
			Subsystem: "tunnel",
			Name:      "active_connections",
			Help:      "Connections currently being relayed.",
		},
	)

	registry.MustRegister(stepsTotal, provisionSeconds, tunnelConnections, tunnelBytes, tunnelActive)

	return &Metrics{
		registry:          registry,
		stepsTotal:        stepsTotal,
		provisionSeconds:  provisionSeconds,
		tunnelConnections: tunnelConnections,
		tunnelBytes:       tunnelBytes,
		tunnelActive:      tunnelActive,
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and gatherers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncStep(step, status string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, status).Inc()
}

func (m *Metrics) ObserveProvision(result string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.provisionSeconds.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) IncTunnelConnection(result string) {
	if m == nil {
		return
	}
	m.tunnelConnections.WithLabelValues(result).Inc()
}

func (m *Metrics) AddTunnelBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tunnelBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) TunnelConnectionOpened() {
	if m == nil {
		return
	}
	m.tunnelActive.Inc()
}

func (m *Metrics) TunnelConnectionClosed() {
	if m == nil {
		return
	}
	m.tunnelActive.Dec()
}
