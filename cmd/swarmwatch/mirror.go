package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/pkg/directory"
	"github.com/ryandielhenn/swarmwatch/pkg/store"
)

// mirrorCmd copies the seed node's list into etcd so that monitors running
// with directory_source: etcd do not each query the seed.
func mirrorCmd() *cobra.Command {
	var (
		once bool
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Publish the seed node list into the etcd directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if len(cfg.EtcdEndpoints) == 0 {
				return errors.New("mirror needs etcd_endpoints")
			}
			net, err := cfg.ResolveNetwork()
			if err != nil {
				return err
			}

			cli, err := store.NewClient(cfg.EtcdEndpoints)
			if err != nil {
				return err
			}
			defer cli.Close()

			src := directory.NewRPCClient(cfg.RefreshTimeout, cfg.DirectoryLimit)
			dst := directory.NewEtcdDirectory(cli, logger.Named("directory"))
			if ttl == 0 {
				ttl = 3 * cfg.RefreshInterval
			}

			sync := func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
				defer cancel()
				entries, err := src.FetchAll(ctx, net)
				if err != nil {
					return err
				}
				// One lease per snapshot; nodes missing from later snapshots
				// expire with it.
				lease, err := dst.Grant(ctx, int64(ttl/time.Second))
				if err != nil {
					return err
				}
				for _, e := range entries {
					if err := dst.Publish(ctx, net, e.Descriptor, lease); err != nil {
						return err
					}
				}
				logger.Info("mirrored node list", zap.String("network", net.Name), zap.Int("nodes", len(entries)))
				return nil
			}

			ctx, stop := signalContext()
			defer stop()
			if once {
				return sync(ctx)
			}

			ticker := time.NewTicker(cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				if err := sync(ctx); err != nil {
					logger.Warn("mirror failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "publish a single snapshot and exit")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease TTL for published keys (default 3x refresh interval)")
	return cmd
}
