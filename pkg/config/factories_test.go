package config

import (
	"testing"
	"time"

	"github.com/marmos91/sockd/internal/transport"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/marmos91/sockd/pkg/protocol/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProtocol(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ProtocolConfig
		wantChunk int
		wantErr   bool
	}{
		{
			name:      "EchoDefaults",
			cfg:       ProtocolConfig{Type: "echo"},
			wantChunk: echo.DefaultChunkSize,
		},
		{
			name:      "EchoChunkSize",
			cfg:       ProtocolConfig{Type: "echo", Echo: map[string]any{"chunk_size": 4096}},
			wantChunk: 4096,
		},
		{
			name:      "EchoChunkSizeFromString",
			cfg:       ProtocolConfig{Type: "echo", Echo: map[string]any{"chunk_size": "2048"}},
			wantChunk: 2048,
		},
		{
			name:    "EchoChunkTooLarge",
			cfg:     ProtocolConfig{Type: "echo", Echo: map[string]any{"chunk_size": 1 << 21}},
			wantErr: true,
		},
		{
			name:    "EchoUnknownOption",
			cfg:     ProtocolConfig{Type: "echo", Echo: map[string]any{"chunk": 10}},
			wantErr: true,
		},
		{
			name:    "UnknownType",
			cfg:     ProtocolConfig{Type: "gopher"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := CreateProtocol(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			h, ok := handler.(*echo.Handler)
			require.True(t, ok, "expected *echo.Handler, got %T", handler)
			assert.Equal(t, tt.wantChunk, h.ChunkSize())
		})
	}
}

func TestTCPConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.EnableIPv6 = true
	cfg.Server.MaxClients = 3
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Metrics.LogInterval = time.Minute

	tcpCfg := TCPConfig(cfg)
	assert.Equal(t, "127.0.0.1", tcpCfg.BindAddress)
	assert.Equal(t, DefaultPort, tcpCfg.Port)
	assert.True(t, tcpCfg.EnableIPv6)
	assert.Equal(t, 3, tcpCfg.MaxClients)
	assert.Equal(t, DefaultMaxBacklog, tcpCfg.MaxBacklog)
	assert.Equal(t, 10*time.Second, tcpCfg.Timeout)
	assert.Equal(t, DefaultDrainPollInterval, tcpCfg.DrainPollInterval)
	assert.Equal(t, 5*time.Second, tcpCfg.ShutdownTimeout)
	assert.Equal(t, time.Minute, tcpCfg.MetricsLogInterval)

	t.Run("NegativeTimeoutIsInfinite", func(t *testing.T) {
		cfg.Server.TimeoutSeconds = -5
		assert.Equal(t, transport.Infinite, TCPConfig(cfg).Timeout)
	})

	t.Run("ZeroTimeout", func(t *testing.T) {
		cfg.Server.TimeoutSeconds = 0
		assert.Zero(t, TCPConfig(cfg).Timeout)
	})
}

func TestCreateAdapter(t *testing.T) {
	cfg := GetDefaultConfig()
	sig := lifecycle.New()

	a, err := CreateAdapter(cfg, sig, nil)
	require.NoError(t, err)
	assert.Equal(t, "TCP", a.Protocol())
	assert.Equal(t, DefaultPort, a.Port())
	assert.Same(t, sig, a.Signal())

	cfg.Protocol.Type = "unknown"
	_, err = CreateAdapter(cfg, sig, nil)
	assert.Error(t, err)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig(), nil)
	assert.Nil(t, result.Server)
	require.NotNil(t, result.ConnectionMetrics)

	// The no-op collector accepts every call.
	result.ConnectionMetrics.RecordConnectionAccepted()
	result.ConnectionMetrics.SetActiveConnections(1)
}
