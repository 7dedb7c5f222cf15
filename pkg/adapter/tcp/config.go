package tcp

import (
	"fmt"
	"time"
)

// Config holds the parameters of the stream server.
//
// Default values (applied by New if zero):
//   - MaxBacklog: 10
//   - DrainPollInterval: 2s
//
// Timeout is used as given: zero means every wait must be satisfied
// immediately and a negative value waits forever. ShutdownTimeout zero
// waits for handlers to finish on their own.
type Config struct {
	// BindAddress is the local address to bind. Empty binds the wildcard
	// address of the selected family.
	BindAddress string

	// Port to listen on. 0 lets the kernel pick one (tests).
	Port int

	// EnableIPv6 binds an IPv6 dual-stack socket instead of IPv4.
	EnableIPv6 bool

	// EnableUDP is rejected by Serve with ErrUDPUnsupported.
	EnableUDP bool

	// MaxClients bounds concurrently live handlers. The accept loop stops
	// accepting while the bound is reached. 0 means unlimited.
	MaxClients int

	// MaxBacklog is the kernel accept queue length.
	MaxBacklog int

	// Timeout bounds every readiness wait inside a handler.
	Timeout time.Duration

	// DrainPollInterval is how often shutdown re-checks the live count.
	DrainPollInterval time.Duration

	// ShutdownTimeout force-closes remaining connections once exceeded.
	ShutdownTimeout time.Duration

	// MetricsLogInterval logs the live count periodically. 0 disables.
	MetricsLogInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBacklog <= 0 {
		c.MaxBacklog = 10
	}
	if c.DrainPollInterval <= 0 {
		c.DrainPollInterval = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid MaxClients %d: must be >= 0", c.MaxClients)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be >= 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}

func describeTimeout(d time.Duration) string {
	if d < 0 {
		return "infinite"
	}
	return d.String()
}
