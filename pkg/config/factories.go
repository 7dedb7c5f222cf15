package config

import (
	"fmt"

	"github.com/marmos91/sockd/internal/transport"
	"github.com/marmos91/sockd/pkg/adapter/tcp"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/marmos91/sockd/pkg/metrics"
	"github.com/marmos91/sockd/pkg/protocol"
	"github.com/marmos91/sockd/pkg/protocol/echo"
	"github.com/mitchellh/mapstructure"
)

// CreateProtocol creates the application protocol handler based on
// configuration.
//
// This factory function uses the Type field to determine which protocol to
// create, then decodes the type-specific configuration from the
// corresponding map and passes it to the protocol's constructor.
//
// Supported types:
//   - "echo": Uses pkg/protocol/echo (every chunk received is sent back)
func CreateProtocol(cfg *ProtocolConfig) (protocol.Handler, error) {
	switch cfg.Type {
	case "echo":
		return createEchoProtocol(cfg.Echo)
	default:
		return nil, fmt.Errorf("unknown protocol type: %q", cfg.Type)
	}
}

func createEchoProtocol(options map[string]any) (protocol.Handler, error) {
	var echoCfg echo.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &echoCfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create echo config decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode echo protocol config: %w", err)
	}

	if err := validate.Struct(echoCfg); err != nil {
		return nil, fmt.Errorf("echo protocol: %w", formatValidationError(err))
	}

	return echo.New(echoCfg), nil
}

// TCPConfig converts the server and metrics sections into the adapter
// configuration. A negative timeout_seconds becomes transport.Infinite.
func TCPConfig(cfg *Config) tcp.Config {
	timeout := cfg.Server.Timeout()
	if cfg.Server.TimeoutSeconds < 0 {
		timeout = transport.Infinite
	}

	return tcp.Config{
		BindAddress:        cfg.Server.BindAddress,
		Port:               cfg.Server.Port,
		EnableIPv6:         cfg.Server.EnableIPv6,
		EnableUDP:          cfg.Server.EnableUDP,
		MaxClients:         cfg.Server.MaxClients,
		MaxBacklog:         cfg.Server.MaxBacklog,
		Timeout:            timeout,
		DrainPollInterval:  cfg.Server.DrainPollInterval,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MetricsLogInterval: cfg.Metrics.LogInterval,
	}
}

// CreateAdapter builds the stream adapter with its protocol handler.
//
// Parameters:
//   - cfg: The complete sockd configuration
//   - signal: Shutdown signal shared with the caller (nil creates one)
//   - m: Connection metrics (nil selects the no-op implementation)
func CreateAdapter(cfg *Config, signal *lifecycle.Signal, m metrics.ConnectionMetrics) (*tcp.Adapter, error) {
	handler, err := CreateProtocol(&cfg.Protocol)
	if err != nil {
		return nil, err
	}

	return tcp.New(TCPConfig(cfg), handler, signal, m), nil
}
