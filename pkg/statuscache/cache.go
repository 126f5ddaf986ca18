// Package statuscache keeps the latest observed status and stats of every
// probed node, and emits a transition record whenever a node's status changes.
package statuscache

import (
	"sync"
	"time"

	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// Sink receives transition records. Record is called with the cache lock held
// and must not block.
type Sink interface {
	Record(t snode.Transition) bool
}

type Option func(*Cache)

// WithClock overrides the wall clock used to timestamp observations.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	status map[snode.NodeID]snode.TimestampedStatus
	stats  map[snode.NodeID]snode.Stats
	sink   Sink
	now    func() time.Time
}

func New(sink Sink, opts ...Option) *Cache {
	c := &Cache{
		status: make(map[snode.NodeID]snode.TimestampedStatus),
		stats:  make(map[snode.NodeID]snode.Stats),
		sink:   sink,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RecordOutcome stores a probe result for id. The entry and a transition
// record are written only when id has no entry yet or its status differs from
// the cached one; it reports whether that happened.
func (c *Cache) RecordOutcome(id snode.NodeID, status snode.OnlineStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.status[id]; ok && cur.Status == status {
		return false
	}

	ts := snode.TimestampedStatus{Status: status, Timestamp: c.now()}
	c.status[id] = ts
	telemetry.TransitionsTotal.WithLabelValues(status.String()).Inc()
	if c.sink != nil {
		c.sink.Record(snode.Transition{NodeID: id, Timestamp: ts.Timestamp, Status: status})
	}
	return true
}

// RecordStats replaces the stats held for id.
func (c *Cache) RecordStats(id snode.NodeID, stats snode.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[id] = stats
}

// Load seeds the status map from persisted transitions. For each node the
// record with the greatest timestamp wins; on equal timestamps the later
// record in the slice wins. Nothing is sent to the sink.
func (c *Cache) Load(records []snode.Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		if cur, ok := c.status[r.NodeID]; ok && r.Timestamp.Before(cur.Timestamp) {
			continue
		}
		c.status[r.NodeID] = snode.TimestampedStatus{Status: r.Status, Timestamp: r.Timestamp}
	}
}

// Status returns the cached status of id, if any.
func (c *Cache) Status(id snode.NodeID) (snode.TimestampedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.status[id]
	return s, ok
}

// Stats returns the latest stats of id, if any.
func (c *Cache) Stats(id snode.NodeID) (snode.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[id]
	return s, ok
}

// Snapshot is a point-in-time copy of both maps.
type Snapshot struct {
	Status map[snode.NodeID]snode.TimestampedStatus
	Stats  map[snode.NodeID]snode.Stats
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Snapshot{
		Status: make(map[snode.NodeID]snode.TimestampedStatus, len(c.status)),
		Stats:  make(map[snode.NodeID]snode.Stats, len(c.stats)),
	}
	for k, v := range c.status {
		out.Status[k] = v
	}
	for k, v := range c.stats {
		out.Stats[k] = v
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.status)
}
