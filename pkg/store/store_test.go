package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

func tr(id string, sec int64, st snode.OnlineStatus) snode.Transition {
	return snode.Transition{NodeID: snode.NodeID(id), Timestamp: time.Unix(sec, 0), Status: st}
}

func TestMemoryStoreAppendReadAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	want := []snode.Transition{tr("a", 1, snode.Online), tr("b", 2, snode.Offline), tr("a", 3, snode.Offline)}
	for _, r := range want {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadAll len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// ReadAll returns a copy.
	got[0].NodeID = "mutated"
	again, _ := s.ReadAll(ctx)
	if again[0].NodeID != "a" {
		t.Fatal("ReadAll returned a reference to internal rows")
	}
}

func TestAsyncWriterDrainsInOrder(t *testing.T) {
	mem := NewMemoryStore()
	w := NewAsyncWriter(mem, 16, nil)

	rows := []snode.Transition{tr("a", 1, snode.Online), tr("a", 2, snode.Offline), tr("b", 3, snode.Online)}
	for _, r := range rows {
		if !w.Record(r) {
			t.Fatalf("Record(%v) rejected with free queue", r)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mem.Len() < len(rows) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got, _ := mem.ReadAll(context.Background())
	if len(got) != len(rows) {
		t.Fatalf("persisted %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Fatalf("row %d = %+v, want %+v", i, got[i], rows[i])
		}
	}
}

func TestAsyncWriterDropsWhenFull(t *testing.T) {
	w := NewAsyncWriter(NewMemoryStore(), 2, nil)
	if !w.Record(tr("a", 1, snode.Online)) || !w.Record(tr("b", 1, snode.Online)) {
		t.Fatal("first two records should fit")
	}
	if w.Record(tr("c", 1, snode.Online)) {
		t.Fatal("third record should be dropped")
	}
	if w.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", w.Pending())
	}
}

func TestAsyncWriterFlushesOnCancel(t *testing.T) {
	mem := NewMemoryStore()
	w := NewAsyncWriter(mem, 8, nil)
	for i := 0; i < 5; i++ {
		w.Record(tr("n", int64(i), snode.Online))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	if mem.Len() != 5 {
		t.Fatalf("flushed %d rows, want 5", mem.Len())
	}
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, snode.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk on fire")
}

func (f *failingStore) ReadAll(context.Context) ([]snode.Transition, error) { return nil, nil }

func TestAsyncWriterSurvivesAppendErrors(t *testing.T) {
	fs := &failingStore{}
	w := NewAsyncWriter(fs, 4, nil)
	w.Record(tr("a", 1, snode.Online))
	w.Record(tr("b", 1, snode.Offline))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.calls != 2 {
		t.Fatalf("Append called %d times, want 2", fs.calls)
	}
}

func TestTransitionKeyLayout(t *testing.T) {
	k1 := transitionKey(TransitionKeyPrefix, tr("abc", 42, snode.Online), 7, 1)
	k2 := transitionKey(TransitionKeyPrefix, tr("abc", 42, snode.Online), 7, 2)
	if k1 == k2 {
		t.Fatal("same-second transitions must get distinct keys")
	}
	if !strings.HasPrefix(k1, TransitionKeyPrefix+"abc/") {
		t.Fatalf("key %q not under node prefix", k1)
	}
	// Zero padding keeps lexical order equal to time order.
	early := transitionKey(TransitionKeyPrefix, tr("abc", 9, snode.Online), 7, 1)
	late := transitionKey(TransitionKeyPrefix, tr("abc", 10, snode.Online), 7, 1)
	if !(early < late) {
		t.Fatalf("key order broken: %q >= %q", early, late)
	}
}

func TestDecodeTransition(t *testing.T) {
	got, err := decodeTransition(&mvccpb.KeyValue{
		Key:   []byte(TransitionKeyPrefix + "abc/x"),
		Value: []byte(`{"edkey":"abc","date":1600000000,"status":1}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := tr("abc", 1600000000, snode.Offline)
	if got != want {
		t.Fatalf("decoded %+v, want %+v", got, want)
	}

	if _, err := decodeTransition(&mvccpb.KeyValue{Key: []byte("k"), Value: []byte("{")}); err == nil {
		t.Fatal("expected error for malformed row")
	}
	if _, err := decodeTransition(&mvccpb.KeyValue{Key: []byte("k"), Value: []byte(`{"date":1}`)}); err == nil {
		t.Fatal("expected error for row without node key")
	}
}
