package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/monitor"
)

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and its HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if listen != "" {
				cfg.Listen = listen
			}

			m, err := monitor.New(cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, stop := signalContext()
			defer stop()

			if err := m.Serve(ctx); err != nil {
				logger.Error("monitor stopped", zap.Error(err))
				return err
			}
			logger.Info("shut down cleanly")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default :3030)")
	return cmd
}
