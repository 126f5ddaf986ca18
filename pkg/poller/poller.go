// Package poller drives the probe cycle: every tick it takes the next batch
// from the scheduler, probes each node concurrently and records the outcome.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/probe"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// BatchSource hands out the next nodes to probe.
type BatchSource interface {
	NextBatch(n int) []snode.NodeEntry
}

// StatsClient probes one node. It must apply its own timeout.
type StatsClient interface {
	Probe(ctx context.Context, d snode.Descriptor) (snode.Stats, error)
}

// Outcomes receives probe results.
type Outcomes interface {
	RecordOutcome(id snode.NodeID, status snode.OnlineStatus) bool
	RecordStats(id snode.NodeID, stats snode.Stats)
}

type Config struct {
	BatchSize   int
	Interval    time.Duration
	MaxInFlight int
}

func DefaultConfig() Config {
	return Config{BatchSize: 10, Interval: time.Second, MaxInFlight: 64}
}

type Poller struct {
	src   BatchSource
	stats StatsClient
	out   Outcomes
	cfg   Config
	slots chan struct{}
	wg    sync.WaitGroup
	log   *zap.Logger
}

func New(src BatchSource, stats StatsClient, out Outcomes, cfg Config, logger *zap.Logger) *Poller {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	return &Poller{
		src:   src,
		stats: stats,
		out:   out,
		cfg:   cfg,
		slots: make(chan struct{}, cfg.MaxInFlight),
		log:   logging.OrNop(logger),
	}
}

// Run ticks until ctx is done. In-flight probes are not waited for.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poller started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("max_in_flight", p.cfg.MaxInFlight),
	)
	for {
		p.Tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		}
	}
}

// Tick launches one probe per node of the next batch and returns without
// waiting for them. It returns the number of probes launched.
func (p *Poller) Tick(ctx context.Context) int {
	batch := p.src.NextBatch(p.cfg.BatchSize)
	for _, e := range batch {
		p.wg.Add(1)
		go p.probeOne(ctx, e)
	}
	return len(batch)
}

// Wait blocks until every probe launched so far has been recorded.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) probeOne(ctx context.Context, e snode.NodeEntry) {
	defer p.wg.Done()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	telemetry.InFlightProbes.Inc()
	defer func() {
		telemetry.InFlightProbes.Dec()
		<-p.slots
	}()

	start := time.Now()
	stats, err := p.stats.Probe(ctx, e.Descriptor)
	telemetry.ProbeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; a cancelled probe says nothing about the node.
			return
		}
		kind := probe.KindOf(err)
		if kind == "" {
			kind = probe.KindTransport
		}
		telemetry.ProbesTotal.WithLabelValues(string(kind)).Inc()
		p.log.Debug("node probe failed",
			zap.String("node", e.ID.String()),
			zap.String("addr", e.Descriptor.Addr()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if p.out.RecordOutcome(e.ID, snode.Offline) {
			p.log.Info("node went offline", zap.String("node", e.ID.String()), zap.Error(err))
		}
		return
	}

	telemetry.ProbesTotal.WithLabelValues("ok").Inc()
	p.out.RecordStats(e.ID, stats)
	if p.out.RecordOutcome(e.ID, snode.Online) {
		p.log.Info("node came online",
			zap.String("node", e.ID.String()),
			zap.String("version", stats.Version),
		)
	}
}
