// Package store persists status transitions. The log is append-only: rows are
// written once and read back in full when the monitor starts.
package store

import (
	"context"
	"sync"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// TransitionStore is the durable transition log.
type TransitionStore interface {
	Append(ctx context.Context, t snode.Transition) error
	ReadAll(ctx context.Context) ([]snode.Transition, error)
}

// MemoryStore keeps transitions in process memory. It is used when no etcd
// endpoints are configured, and by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []snode.Transition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, t snode.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, t)
	return nil
}

// ReadAll returns a copy of every row in append order.
func (s *MemoryStore) ReadAll(_ context.Context) ([]snode.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]snode.Transition(nil), s.rows...), nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
