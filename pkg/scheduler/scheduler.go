// Package scheduler hands out batches of nodes to probe, rotating through the
// registry in random order so that every node is probed once per cycle.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// Source is the node set being rotated through. Implemented by
// *registry.Registry.
type Source interface {
	Keys() []snode.NodeID
	Snapshot() map[snode.NodeID]snode.Descriptor
}

type Scheduler struct {
	mu    sync.Mutex
	queue Queue
	rng   *rand.Rand
	src   Source
}

func New(src Source) *Scheduler {
	return NewWithRand(src, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand uses rng for shuffling. rng is only touched under the
// scheduler's lock.
func NewWithRand(src Source, rng *rand.Rand) *Scheduler {
	return &Scheduler{src: src, rng: rng}
}

// NextBatch returns up to n nodes to probe next. When the current cycle is
// exhausted a new one is built from the source's current keys. Ids that are
// no longer in the source when the batch is resolved are dropped.
func (s *Scheduler) NextBatch(n int) []snode.NodeEntry {
	ids := s.pop(n)
	if len(ids) == 0 {
		return nil
	}

	// Resolve outside the scheduler lock; the two locks are never nested.
	nodes := s.src.Snapshot()
	out := make([]snode.NodeEntry, 0, len(ids))
	for _, id := range ids {
		if d, ok := nodes[id]; ok {
			out = append(out, snode.NodeEntry{ID: id, Descriptor: d})
		}
	}
	return out
}

func (s *Scheduler) pop(n int) []snode.NodeID {
	keys := s.keysIfEmpty()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Empty() && len(keys) > 0 {
		s.queue = NewQueue(keys, s.rng)
		telemetry.RotationsTotal.Inc()
	}
	return s.queue.Pop(n)
}

// keysIfEmpty reads the source's keys when a refill is likely needed, without
// holding the scheduler lock across the read.
func (s *Scheduler) keysIfEmpty() []snode.NodeID {
	s.mu.Lock()
	empty := s.queue.Empty()
	s.mu.Unlock()
	if !empty {
		return nil
	}
	return s.src.Keys()
}

// Remaining reports how many ids are left in the current cycle.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
