package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/sockd/internal/logger"
	"github.com/marmos91/sockd/pkg/config"
	"github.com/marmos91/sockd/pkg/lifecycle"
	"github.com/marmos91/sockd/pkg/server"
	"github.com/spf13/cobra"
)

type startOptions struct {
	configPath string
	port       int
	logLevel   string
}

func startCmd() *cobra.Command {
	var opts startOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		Long: `Start the server in the foreground.

SIGINT and SIGTERM stop admitting new clients; the process exits once every
connected client has disconnected. SIGPIPE is logged and ignored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg, opts.configPath)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default $XDG_CONFIG_HOME/sockd/config.yaml)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Override server.port")
	cmd.Flags().StringVarP(&opts.logLevel, "log-level", "l", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")

	return cmd
}

// loadConfig loads the configuration and applies command line overrides,
// which take precedence over the file and the environment.
func loadConfig(cmd *cobra.Command, opts startOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid command line override: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, configPath string) error {
	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logger.Close() }()

	printBanner()
	logServerConfig(cfg, configPath)

	sig := lifecycle.New()
	metricsResult := config.InitializeMetrics(cfg, func() bool { return !sig.Terminated() })

	adapter, err := config.CreateAdapter(cfg, sig, metricsResult.ConnectionMetrics)
	if err != nil {
		logger.Error("Failed to create adapter: %v", err)
		return err
	}

	srv := server.New(sig)
	if err := srv.AddAdapter(adapter); err != nil {
		logger.Error("Failed to register adapter: %v", err)
		return err
	}
	if metricsResult.Server != nil {
		srv.SetMetricsServer(metricsResult.Server)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	defer signal.Stop(sigChan)

	go handleSignals(sigChan, srv)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := srv.Serve(context.Background()); err != nil {
		logger.Error("Server stopped with error: %v", err)
		return err
	}
	return nil
}

// handleSignals forwards SIGINT and SIGTERM to target as their signal
// number until sigChan is closed. SIGPIPE is logged and otherwise ignored.
func handleSignals(sigChan <-chan os.Signal, target server.Terminator) {
	for s := range sigChan {
		sysSig, ok := s.(syscall.Signal)
		if !ok || sysSig == syscall.SIGPIPE {
			logger.Warn("Received %v, ignoring", s)
			continue
		}
		logger.Info("Received %v, shutting down", s)
		target.Terminate(uint32(sysSig))
	}
}

// logServerConfig dumps the effective configuration at startup.
func logServerConfig(cfg *config.Config, configPath string) {
	source := configPath
	if source == "" {
		if config.ConfigExists() {
			source = config.GetDefaultConfigPath()
		} else {
			source = "(defaults)"
		}
	}

	family := "IPv4"
	if cfg.Server.EnableIPv6 {
		family = "IPv6"
	}
	timeout := fmt.Sprintf("%d", cfg.Server.TimeoutSeconds)
	if cfg.Server.TimeoutSeconds < 0 {
		timeout = "infinite"
	}
	maxClients := fmt.Sprintf("%d", cfg.Server.MaxClients)
	if cfg.Server.MaxClients == 0 {
		maxClients = "unlimited"
	}
	bind := cfg.Server.BindAddress
	if bind == "" {
		bind = "(any)"
	}

	logger.Info("========= Server Configuration =========")
	logger.Info("  Config Source:      %s", source)
	logger.Info("  Network Settings:")
	logger.Info("    Bind Address:     %s", bind)
	logger.Info("    Port:             %d", cfg.Server.Port)
	logger.Info("    Max Clients:      %s", maxClients)
	logger.Info("    Max Backlog:      %d", cfg.Server.MaxBacklog)
	logger.Info("    Timeout (sec):    %s", timeout)
	logger.Info("    IP Version:       %s", family)
	logger.Info("    Protocol:         TCP")
	logger.Info("  Shutdown:")
	logger.Info("    Drain Poll:       %v", cfg.Server.DrainPollInterval)
	logger.Info("    Force After:      %v", cfg.Server.ShutdownTimeout)
	logger.Info("  Application:")
	logger.Info("    Protocol Type:    %s", cfg.Protocol.Type)
	logger.Info("  Logging:")
	logger.Info("    Level:            %s", cfg.Logging.Level)
	logger.Info("    Format:           %s", cfg.Logging.Format)
	logger.Info("    Output:           %s", cfg.Logging.Output)
	if cfg.Metrics.Enabled {
		logger.Info("  Metrics:            enabled on port %d", cfg.Metrics.Port)
	} else {
		logger.Info("  Metrics:            disabled")
	}
	logger.Info("========================================")
}
