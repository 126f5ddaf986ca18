package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/config"
	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

var (
	configPath string
	network    string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "swarmwatch",
		Short:         "Service node uptime monitor",
		Long:          "Discovers the service nodes of a network, probes their stats endpoints in rotation and serves their online status.",
		Version:       version + " (" + gitSHA + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&network, "network", "", "network to monitor (mainnet, testnet or a configured name)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd(), nodesCmd(), mirrorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig applies the persistent flags over file and environment settings.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if network != "" {
		cfg.Network = network
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return cfg, nil, err
	}
	telemetry.SetBuildInfo(version, gitSHA)
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
