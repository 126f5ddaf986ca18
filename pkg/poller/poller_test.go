package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryandielhenn/swarmwatch/pkg/probe"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
	"github.com/ryandielhenn/swarmwatch/pkg/statuscache"
	"github.com/ryandielhenn/swarmwatch/pkg/store"
)

type fixedBatches struct {
	mu      sync.Mutex
	batches [][]snode.NodeEntry
	asked   []int
}

func (f *fixedBatches) NextBatch(n int) []snode.NodeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, n)
	if len(f.batches) == 0 {
		return nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b
}

type fakeStats struct {
	down  map[snode.NodeID]bool
	block chan struct{}

	cur, peak atomic.Int32
}

func (f *fakeStats) Probe(ctx context.Context, d snode.Descriptor) (snode.Stats, error) {
	n := f.cur.Add(1)
	defer f.cur.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return snode.Stats{}, ctx.Err()
		}
	}
	if f.down[d.ID()] {
		return snode.Stats{}, &probe.Error{Addr: d.Addr(), Kind: probe.KindStatus, Err: errors.New("503")}
	}
	return snode.Stats{Version: "v-" + d.PubkeyEd25519, Height: 1}, nil
}

func node(id string) snode.NodeEntry {
	d := snode.Descriptor{PubkeyEd25519: id, PublicIP: "10.0.0.1", StoragePort: 22021}
	return snode.NodeEntry{ID: d.ID(), Descriptor: d}
}

func newCache() (*statuscache.Cache, *store.MemoryStore, *store.AsyncWriter) {
	mem := store.NewMemoryStore()
	w := store.NewAsyncWriter(mem, 128, nil)
	return statuscache.New(w), mem, w
}

func TestTickRecordsOutcomes(t *testing.T) {
	src := &fixedBatches{batches: [][]snode.NodeEntry{{node("up1"), node("up2"), node("down")}}}
	stats := &fakeStats{down: map[snode.NodeID]bool{"down": true}}
	cache, _, w := newCache()

	p := New(src, stats, cache, Config{BatchSize: 10, Interval: time.Second, MaxInFlight: 4}, nil)
	if n := p.Tick(context.Background()); n != 3 {
		t.Fatalf("Tick launched %d probes, want 3", n)
	}
	p.Wait()

	if src.asked[0] != 10 {
		t.Fatalf("asked for %d nodes, want batch size 10", src.asked[0])
	}
	for _, id := range []snode.NodeID{"up1", "up2"} {
		st, ok := cache.Status(id)
		if !ok || st.Status != snode.Online {
			t.Fatalf("%s status = %+v, %v; want ONLINE", id, st, ok)
		}
		s, ok := cache.Stats(id)
		if !ok || s.Version != "v-"+string(id) {
			t.Fatalf("%s stats = %+v, %v", id, s, ok)
		}
	}
	st, ok := cache.Status("down")
	if !ok || st.Status != snode.Offline {
		t.Fatalf("down status = %+v, %v; want OFFLINE", st, ok)
	}
	if _, ok := cache.Stats("down"); ok {
		t.Fatal("failed probe must not record stats")
	}
	if w.Pending() != 3 {
		t.Fatalf("queued transitions = %d, want 3", w.Pending())
	}
}

func TestTickDoesNotWaitForProbes(t *testing.T) {
	src := &fixedBatches{batches: [][]snode.NodeEntry{{node("slow")}, {node("next")}}}
	stats := &fakeStats{block: make(chan struct{})}
	cache, _, _ := newCache()
	p := New(src, stats, cache, Config{MaxInFlight: 4}, nil)

	done := make(chan struct{})
	go func() {
		p.Tick(context.Background())
		p.Tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tick blocked on an in-flight probe")
	}

	close(stats.block)
	p.Wait()
	if cache.Len() != 2 {
		t.Fatalf("recorded %d nodes, want 2", cache.Len())
	}
}

func TestInFlightBound(t *testing.T) {
	var batch []snode.NodeEntry
	for i := 0; i < 30; i++ {
		batch = append(batch, node(fmt.Sprintf("n%d", i)))
	}
	src := &fixedBatches{batches: [][]snode.NodeEntry{batch}}
	stats := &fakeStats{block: make(chan struct{})}
	cache, _, _ := newCache()
	p := New(src, stats, cache, Config{BatchSize: 30, MaxInFlight: 3}, nil)

	p.Tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	if got := stats.cur.Load(); got != 3 {
		t.Fatalf("%d probes in flight, want 3", got)
	}
	close(stats.block)
	p.Wait()

	if peak := stats.peak.Load(); peak > 3 {
		t.Fatalf("peak in-flight = %d, want <= 3", peak)
	}
	if cache.Len() != 30 {
		t.Fatalf("recorded %d nodes, want 30", cache.Len())
	}
}

func TestCancelledProbesAreNotRecorded(t *testing.T) {
	src := &fixedBatches{batches: [][]snode.NodeEntry{{node("a"), node("b")}}}
	stats := &fakeStats{block: make(chan struct{})}
	cache, _, _ := newCache()
	p := New(src, stats, cache, Config{MaxInFlight: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.Wait()

	if cache.Len() != 0 {
		t.Fatalf("shutdown produced %d observations, want 0", cache.Len())
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	var batches [][]snode.NodeEntry
	for i := 0; i < 100; i++ {
		batches = append(batches, []snode.NodeEntry{node(fmt.Sprintf("n%d", i))})
	}
	src := &fixedBatches{batches: batches}
	cache, _, _ := newCache()
	p := New(src, &fakeStats{}, cache, Config{BatchSize: 1, Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	p.Wait()

	if cache.Len() < 3 {
		t.Fatalf("only %d nodes probed by Run", cache.Len())
	}
}

func TestDefaultsApplied(t *testing.T) {
	p := New(&fixedBatches{}, &fakeStats{}, statuscache.New(nil), Config{}, nil)
	if p.cfg != DefaultConfig() {
		t.Fatalf("cfg = %+v, want defaults %+v", p.cfg, DefaultConfig())
	}
	if cap(p.slots) != DefaultConfig().MaxInFlight {
		t.Fatalf("slots = %d", cap(p.slots))
	}
}
