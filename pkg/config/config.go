package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sockd configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SOCKD_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// The protocol section follows the factory pattern: Type selects the
// implementation and only the matching type-specific map is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Server contains the listening socket and connection lifecycle settings
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Protocol selects the application exchange run on every connection
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol" json:"protocol"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR, FATAL, NONE (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL NONE debug info warn error fatal none"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" json:"output" validate:"required"`
}

// ServerConfig contains the stream server settings.
type ServerConfig struct {
	// Port is the TCP port to listen on
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=1024,max=65535"`

	// BindAddress is the local address or host name to bind.
	// Empty binds every address of the selected family.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address" json:"bind_address,omitempty" validate:"omitempty,ip|hostname"`

	// EnableIPv6 binds an IPv6 socket that also accepts IPv4 clients
	EnableIPv6 bool `mapstructure:"enable_ipv6" yaml:"enable_ipv6" json:"enable_ipv6"`

	// EnableUDP selects datagram sockets. Not supported by the concurrent
	// stream server; kept so that configurations carrying it are rejected
	// explicitly rather than silently served over TCP.
	EnableUDP bool `mapstructure:"enable_udp" yaml:"enable_udp" json:"enable_udp"`

	// MaxClients bounds concurrently served connections. 0 means unlimited.
	MaxClients int `mapstructure:"max_clients" yaml:"max_clients" json:"max_clients" validate:"min=0"`

	// MaxBacklog is the kernel accept queue length
	MaxBacklog int `mapstructure:"max_backlog" yaml:"max_backlog" json:"max_backlog" validate:"min=1"`

	// TimeoutSeconds bounds every send/receive wait. 0 requires the socket
	// to be ready immediately; a negative value waits forever.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`

	// DrainPollInterval is how often shutdown re-checks live connections
	DrainPollInterval time.Duration `mapstructure:"drain_poll_interval" yaml:"drain_poll_interval" json:"drain_poll_interval" validate:"gt=0"`

	// ShutdownTimeout force-closes live connections once exceeded.
	// 0 waits for them to finish on their own.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// Timeout returns TimeoutSeconds as a duration. Negative values are returned
// unchanged in sign so callers can treat them as infinite.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ProtocolConfig specifies the application protocol.
type ProtocolConfig struct {
	// Type selects the protocol implementation
	// Valid values: echo
	Type string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=echo"`

	// Echo contains echo-specific configuration
	// Only used when Type = "echo"
	Echo map[string]any `mapstructure:"echo" yaml:"echo" json:"echo,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=1,max=65535"`

	// LogInterval periodically logs the live connection count. 0 disables.
	LogInterval time.Duration `mapstructure:"log_interval" yaml:"log_interval" json:"log_interval" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SOCKD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use SOCKD_ prefix and underscores
	// Example: SOCKD_SERVER_PORT=9000
	v.SetEnvPrefix("SOCKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/sockd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		// An explicit --config path that does not exist surfaces as a
		// plain os error.
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %w", err)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sockd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sockd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
