package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionMetrics observes the accept loop and connection handlers.
//
// Outcome labels are the strings of transport.Outcome ("complete",
// "timeout", "closed", "error").
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewConnectionMetrics()
//	adapter := tcp.New(config, handler, signal, m)
//
//	// Without metrics (no-op)
//	adapter := tcp.New(config, handler, signal, nil)
type ConnectionMetrics interface {
	// RecordConnectionAccepted counts a connection admitted to a handler.
	RecordConnectionAccepted()

	// RecordConnectionClosed counts a finished handler with the outcome
	// that ended it and how long the connection lived.
	RecordConnectionClosed(outcome string, lifetime time.Duration)

	// SetActiveConnections publishes the live-handler count.
	SetActiveConnections(count int)

	// RecordExchange observes one application exchange.
	RecordExchange(outcome string, duration time.Duration)

	// RecordBytesTransferred adds to the byte counters.
	//
	// Parameters:
	//   - direction: "recv" or "send"
	//   - bytes: Number of bytes moved
	RecordBytesTransferred(direction string, bytes int)

	// RecordAcceptError counts a failed accept that the loop survived.
	RecordAcceptError()

	// RecordAllocationFailure counts a connection dropped because its
	// handler state could not be built.
	RecordAllocationFailure()
}

// connectionMetrics is the Prometheus implementation of ConnectionMetrics.
type connectionMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   *prometheus.CounterVec
	connectionLifetime  prometheus.Histogram
	activeConnections   prometheus.Gauge
	exchangesTotal      *prometheus.CounterVec
	exchangeDuration    prometheus.Histogram
	bytesTransferred    *prometheus.CounterVec
	acceptErrors        prometheus.Counter
	allocationFailures  prometheus.Counter
}

var (
	sharedConnectionMetrics ConnectionMetrics
	sharedConnectionOnce    sync.Once
)

// NewConnectionMetrics returns the Prometheus-backed ConnectionMetrics bound
// to the global registry, or a no-op implementation when metrics are
// disabled. The collectors are registered once per process; later calls
// return the same instance.
func NewConnectionMetrics() ConnectionMetrics {
	if !IsEnabled() {
		return NewNoopConnectionMetrics()
	}
	sharedConnectionOnce.Do(func() {
		sharedConnectionMetrics = NewConnectionMetricsWith(GetRegistry())
	})
	return sharedConnectionMetrics
}

// NewConnectionMetricsWith registers the collectors on reg.
func NewConnectionMetricsWith(reg prometheus.Registerer) ConnectionMetrics {
	factory := promauto.With(reg)

	return &connectionMetrics{
		connectionsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sockd_connections_accepted_total",
				Help: "Total number of connections handed to a handler",
			},
		),
		connectionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sockd_connections_closed_total",
				Help: "Total number of finished connection handlers by outcome",
			},
			[]string{"outcome"},
		),
		connectionLifetime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sockd_connection_lifetime_seconds",
				Help:    "Time from admission to handler exit",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sockd_active_connections",
				Help: "Current number of live connection handlers",
			},
		),
		exchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sockd_exchanges_total",
				Help: "Total number of application exchanges by outcome",
			},
			[]string{"outcome"},
		),
		exchangeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "sockd_exchange_duration_seconds",
				Help: "Duration of application exchanges in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
		),
		bytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sockd_bytes_transferred_total",
				Help: "Total bytes moved by connection handlers",
			},
			[]string{"direction"},
		),
		acceptErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sockd_accept_errors_total",
				Help: "Total number of failed accept calls",
			},
		),
		allocationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sockd_allocation_failures_total",
				Help: "Total number of connections dropped before a handler started",
			},
		),
	}
}

func (m *connectionMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *connectionMetrics) RecordConnectionClosed(outcome string, lifetime time.Duration) {
	m.connectionsClosed.WithLabelValues(outcome).Inc()
	m.connectionLifetime.Observe(lifetime.Seconds())
}

func (m *connectionMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *connectionMetrics) RecordExchange(outcome string, duration time.Duration) {
	m.exchangesTotal.WithLabelValues(outcome).Inc()
	m.exchangeDuration.Observe(duration.Seconds())
}

func (m *connectionMetrics) RecordBytesTransferred(direction string, bytes int) {
	if bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *connectionMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *connectionMetrics) RecordAllocationFailure() {
	m.allocationFailures.Inc()
}

// noopConnectionMetrics is a no-op implementation with zero overhead.
type noopConnectionMetrics struct{}

// NewNoopConnectionMetrics returns a ConnectionMetrics that discards
// everything.
func NewNoopConnectionMetrics() ConnectionMetrics {
	return noopConnectionMetrics{}
}

func (noopConnectionMetrics) RecordConnectionAccepted()                              {}
func (noopConnectionMetrics) RecordConnectionClosed(outcome string, d time.Duration) {}
func (noopConnectionMetrics) SetActiveConnections(count int)                         {}
func (noopConnectionMetrics) RecordExchange(outcome string, d time.Duration)         {}
func (noopConnectionMetrics) RecordBytesTransferred(direction string, bytes int)     {}
func (noopConnectionMetrics) RecordAcceptError()                                     {}
func (noopConnectionMetrics) RecordAllocationFailure()                               {}
