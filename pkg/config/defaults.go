package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort              = 8000
	DefaultMaxClients        = 8
	DefaultMaxBacklog        = 10
	DefaultTimeoutSeconds    = 10
	DefaultDrainPollInterval = 2 * time.Second
	DefaultMetricsPort       = 9090
	DefaultLogOutput         = "stdout"
)

// setViperDefaults registers defaults for keys whose zero value is
// meaningful and therefore cannot be filled in by ApplyDefaults:
// max_clients 0 is unlimited and timeout_seconds 0 is a non-blocking wait.
//
// Registering every key also lets AutomaticEnv override keys that are
// absent from the config file.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", DefaultLogOutput)

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.bind_address", "")
	v.SetDefault("server.enable_ipv6", false)
	v.SetDefault("server.enable_udp", false)
	v.SetDefault("server.max_clients", DefaultMaxClients)
	v.SetDefault("server.max_backlog", DefaultMaxBacklog)
	v.SetDefault("server.timeout_seconds", DefaultTimeoutSeconds)
	v.SetDefault("server.drain_poll_interval", DefaultDrainPollInterval)
	v.SetDefault("server.shutdown_timeout", time.Duration(0))

	v.SetDefault("protocol.type", "echo")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", DefaultMetricsPort)
	v.SetDefault("metrics.log_interval", time.Duration(0))
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults where zero is not
//     a valid setting
//   - max_clients and timeout_seconds keep their zero value (see
//     setViperDefaults)
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyProtocolDefaults(&cfg.Protocol)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = DefaultLogOutput
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxBacklog == 0 {
		cfg.MaxBacklog = DefaultMaxBacklog
	}
	if cfg.DrainPollInterval == 0 {
		cfg.DrainPollInterval = DefaultDrainPollInterval
	}
}

func applyProtocolDefaults(cfg *ProtocolConfig) {
	if cfg.Type == "" {
		cfg.Type = "echo"
	}
	if cfg.Echo == nil {
		cfg.Echo = make(map[string]any)
	}
	if _, ok := cfg.Echo["chunk_size"]; !ok {
		cfg.Echo["chunk_size"] = 1024
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			MaxClients:     DefaultMaxClients,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
