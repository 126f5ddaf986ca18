// Package registry holds the set of service nodes known to the monitor, kept
// up to date from a directory.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/directory"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// Directory lists every node of a network.
type Directory interface {
	FetchAll(ctx context.Context, net directory.Network) ([]snode.NodeEntry, error)
}

type Option func(*Registry)

// WithExpiry removes nodes that were missing from n consecutive successful
// refreshes. n == 0 keeps nodes forever.
func WithExpiry(n int) Option {
	return func(r *Registry) { r.expiry = n }
}

// WithRefreshTimeout bounds every directory fetch. A fetch that outlives d
// counts as a failed refresh. d <= 0 leaves fetches bounded only by the
// caller's context.
func WithRefreshTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

// Registry maps node identity to descriptor. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[snode.NodeID]snode.Descriptor
	lastSeen map[snode.NodeID]uint64 // refresh generation a node was last reported in
	gen      uint64
	expiry   int
	timeout  time.Duration
	log      *zap.Logger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		nodes:    make(map[snode.NodeID]snode.Descriptor),
		lastSeen: make(map[snode.NodeID]uint64),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Merge inserts every incoming node, replacing the descriptor of nodes that
// are already known.
func (r *Registry) Merge(incoming []snode.NodeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeLocked(incoming)
}

func (r *Registry) mergeLocked(incoming []snode.NodeEntry) {
	for _, e := range incoming {
		r.nodes[e.ID] = e.Descriptor
		r.lastSeen[e.ID] = r.gen
	}
	telemetry.RegistrySize.Set(float64(len(r.nodes)))
}

func (r *Registry) sweepLocked() []snode.NodeID {
	if r.expiry <= 0 {
		return nil
	}
	var gone []snode.NodeID
	for id, seen := range r.lastSeen {
		if r.gen-seen >= uint64(r.expiry) {
			delete(r.nodes, id)
			delete(r.lastSeen, id)
			gone = append(gone, id)
		}
	}
	telemetry.RegistrySize.Set(float64(len(r.nodes)))
	return gone
}

// Snapshot returns a copy of the whole map.
func (r *Registry) Snapshot() map[snode.NodeID]snode.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[snode.NodeID]snode.Descriptor, len(r.nodes))
	for k, v := range r.nodes {
		out[k] = v
	}
	return out
}

// Keys returns a copy of the current key set, in no particular order.
func (r *Registry) Keys() []snode.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]snode.NodeID, 0, len(r.nodes))
	for k := range r.nodes {
		out = append(out, k)
	}
	return out
}

func (r *Registry) Get(id snode.NodeID) (snode.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.nodes[id]
	return d, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Refresh fetches the node list once and merges it. On error the registry is
// left untouched.
func (r *Registry) Refresh(ctx context.Context, dir Directory, net directory.Network) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	entries, err := dir.FetchAll(ctx, net)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("error").Inc()
		return errors.Wrapf(err, "fetch nodes from %s", net.Name)
	}

	r.mu.Lock()
	r.gen++
	r.mergeLocked(entries)
	gone := r.sweepLocked()
	size := len(r.nodes)
	r.mu.Unlock()

	telemetry.RefreshTotal.WithLabelValues("ok").Inc()
	for _, id := range gone {
		r.log.Info("node expired from registry", zap.String("node", id.String()))
	}
	r.log.Debug("registry refreshed",
		zap.String("network", net.Name),
		zap.Int("fetched", len(entries)),
		zap.Int("size", size),
	)
	return nil
}

// RefreshLoop refreshes immediately and then every period until ctx is done.
// Failed refreshes are logged and retried on the next period.
func (r *Registry) RefreshLoop(ctx context.Context, dir Directory, net directory.Network, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx, dir, net); err != nil && ctx.Err() == nil {
			r.log.Warn("registry refresh failed, keeping last known nodes",
				zap.Int("size", r.Len()),
				zap.Error(err),
			)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
