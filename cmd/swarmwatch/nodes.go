package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/swarmwatch/internal/config"
	"github.com/ryandielhenn/swarmwatch/pkg/directory"
	"github.com/ryandielhenn/swarmwatch/pkg/registry"
	"github.com/ryandielhenn/swarmwatch/pkg/store"
)

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Fetch the node list from the directory once and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			net, err := cfg.ResolveNetwork()
			if err != nil {
				return err
			}

			var dir registry.Directory = directory.NewRPCClient(cfg.RefreshTimeout, cfg.DirectoryLimit)
			if cfg.DirectorySource == config.SourceEtcd {
				cli, err := store.NewClient(cfg.EtcdEndpoints)
				if err != nil {
					return err
				}
				defer cli.Close()
				dir = directory.NewEtcdDirectory(cli, logger)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RefreshTimeout)
			defer cancel()

			reg := registry.New(registry.WithLogger(logger), registry.WithRefreshTimeout(cfg.RefreshTimeout))
			if err := reg.Refresh(ctx, dir, net); err != nil {
				return err
			}

			nodes := reg.Snapshot()
			ids := reg.Keys()
			sort.Slice(ids, func(i, j int) bool {
				a, b := nodes[ids[i]], nodes[ids[j]]
				if a.SwarmID != b.SwarmID {
					return a.SwarmID < b.SwarmID
				}
				return ids[i] < ids[j]
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SWARM\tED25519\tADDRESS\tLMQ PORT")
			for _, id := range ids {
				d := nodes[id]
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", d.SwarmID, id, d.Addr(), d.StorageLMQPort)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d nodes on %s\n", len(ids), net.Name)
			return nil
		},
	}
}
