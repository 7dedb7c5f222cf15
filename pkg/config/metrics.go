package config

import (
	"github.com/marmos91/sockd/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ConnectionMetrics is the collector for the stream adapter
	// (never nil, uses noop if disabled)
	ConnectionMetrics metrics.ConnectionMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed connection metrics
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// ready backs the /healthz endpoint; nil means always ready.
func InitializeMetrics(cfg *Config, ready func() bool) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:            nil,
			ConnectionMetrics: metrics.NewNoopConnectionMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:  cfg.Metrics.Port,
		Ready: ready,
	})

	return &MetricsResult{
		Server:            server,
		ConnectionMetrics: metrics.NewConnectionMetrics(),
	}
}
