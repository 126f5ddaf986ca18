// Package monitor wires the registry, scheduler, status cache, poller and
// report handlers into one running service.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/config"
	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/directory"
	"github.com/ryandielhenn/swarmwatch/pkg/poller"
	"github.com/ryandielhenn/swarmwatch/pkg/probe"
	"github.com/ryandielhenn/swarmwatch/pkg/registry"
	"github.com/ryandielhenn/swarmwatch/pkg/report"
	"github.com/ryandielhenn/swarmwatch/pkg/scheduler"
	"github.com/ryandielhenn/swarmwatch/pkg/statuscache"
	"github.com/ryandielhenn/swarmwatch/pkg/store"
)

type Option func(*Monitor)

// WithDirectory replaces the configured directory client.
func WithDirectory(d registry.Directory) Option {
	return func(m *Monitor) { m.dir = d }
}

// WithStatsClient replaces the HTTPS stats client.
func WithStatsClient(c poller.StatsClient) Option {
	return func(m *Monitor) { m.stats = c }
}

// WithStore replaces the configured transition store.
func WithStore(s store.TransitionStore) Option {
	return func(m *Monitor) { m.store = s }
}

type Monitor struct {
	cfg     config.Config
	network directory.Network
	log     *zap.Logger

	etcd  *clientv3.Client
	dir   registry.Directory
	stats poller.StatsClient
	store store.TransitionStore

	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Cache     *statuscache.Cache
	Writer    *store.AsyncWriter
	Poller    *poller.Poller
	Report    *report.Handler
}

// New validates cfg and builds every component. Collaborators not supplied by
// options are created from cfg; etcd is dialed only when endpoints are set.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	net, err := cfg.ResolveNetwork()
	if err != nil {
		return nil, err
	}
	m := &Monitor{cfg: cfg, network: net, log: logging.OrNop(logger)}
	for _, o := range opts {
		o(m)
	}

	needEtcd := len(cfg.EtcdEndpoints) > 0 &&
		(m.store == nil || (m.dir == nil && cfg.DirectorySource == config.SourceEtcd))
	if needEtcd {
		m.etcd, err = store.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		m.log.Info("etcd client created", zap.Strings("endpoints", cfg.EtcdEndpoints))
	}

	if m.dir == nil {
		switch cfg.DirectorySource {
		case config.SourceEtcd:
			m.dir = directory.NewEtcdDirectory(m.etcd, m.log.Named("directory"))
		default:
			m.dir = directory.NewRPCClient(cfg.RefreshTimeout, cfg.DirectoryLimit)
		}
	}
	if m.stats == nil {
		m.stats = probe.NewClient(cfg.ProbeTimeout)
	}
	if m.store == nil {
		if m.etcd != nil {
			m.store = store.NewEtcdStore(m.etcd, m.log.Named("store"))
		} else {
			m.log.Warn("no etcd endpoints configured, transitions are kept in memory only")
			m.store = store.NewMemoryStore()
		}
	}

	m.Registry = registry.New(
		registry.WithExpiry(cfg.ExpiryCycles),
		registry.WithRefreshTimeout(cfg.RefreshTimeout),
		registry.WithLogger(m.log.Named("registry")),
	)
	m.Scheduler = scheduler.New(m.Registry)
	m.Writer = store.NewAsyncWriter(m.store, cfg.PersistQueue, m.log.Named("store"))
	m.Cache = statuscache.New(m.Writer)
	m.Poller = poller.New(m.Scheduler, m.stats, m.Cache, poller.Config{
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.ProbeInterval,
		MaxInFlight: cfg.MaxInFlight,
	}, m.log.Named("poller"))
	m.Report = report.NewHandler(m.Registry, m.Cache, net.Name, m.log.Named("report"))
	return m, nil
}

// Network is the network being monitored.
func (m *Monitor) Network() directory.Network { return m.network }

// Restore replays the persisted transition log into the cache.
func (m *Monitor) Restore(ctx context.Context) error {
	rows, err := m.store.ReadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "read transition log")
	}
	m.Cache.Load(rows)
	m.log.Info("status cache restored", zap.Int("rows", len(rows)), zap.Int("nodes", m.Cache.Len()))
	return nil
}

// Handler returns the HTTP surface: report endpoints plus /metrics.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	m.Report.Register(mux)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

// Run restores the cache and then runs the refresh loop, the poller and the
// transition writer until ctx is done. The writer flushes queued rows before
// Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Restore(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		m.Writer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.Registry.RefreshLoop(ctx, m.dir, m.network, m.cfg.RefreshInterval)
	}()
	go func() {
		defer wg.Done()
		m.Poller.Run(ctx)
	}()

	m.log.Info("monitor running",
		zap.String("network", m.network.Name),
		zap.Bool("testnet", m.network.Testnet),
		zap.Duration("refresh_interval", m.cfg.RefreshInterval),
	)
	<-ctx.Done()
	wg.Wait()
	return nil
}

// Serve runs the monitor and its HTTP server until ctx is done.
func (m *Monitor) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.cfg.Listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.log.Info("http listening", zap.String("addr", m.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(runCtx) }()

	var err error
	select {
	case err = <-errCh:
		err = errors.Wrap(err, "http server")
	case <-ctx.Done():
	case err = <-runErr:
		runErr = nil
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	if runErr != nil {
		if e := <-runErr; err == nil {
			err = e
		}
	}
	return err
}

// Close releases the etcd client, if one was dialed.
func (m *Monitor) Close() error {
	if m.etcd != nil {
		return m.etcd.Close()
	}
	return nil
}
