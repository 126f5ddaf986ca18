package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

const appendTimeout = 5 * time.Second

// AsyncWriter decouples callers from store latency. Record never blocks: the
// row is queued, and Run appends queued rows one at a time. When the queue is
// full the row is dropped and counted.
type AsyncWriter struct {
	store TransitionStore
	queue chan snode.Transition
	log   *zap.Logger
}

func NewAsyncWriter(s TransitionStore, size int, logger *zap.Logger) *AsyncWriter {
	if size <= 0 {
		size = 1
	}
	return &AsyncWriter{
		store: s,
		queue: make(chan snode.Transition, size),
		log:   logging.OrNop(logger),
	}
}

// Record queues t for persistence. It reports whether the row was accepted.
func (w *AsyncWriter) Record(t snode.Transition) bool {
	select {
	case w.queue <- t:
		return true
	default:
		telemetry.PersistDropped.Inc()
		w.log.Warn("transition queue full, dropping row",
			zap.String("node", t.NodeID.String()),
			zap.Stringer("status", t.Status),
		)
		return false
	}
}

// Pending reports how many rows are waiting to be written.
func (w *AsyncWriter) Pending() int {
	return len(w.queue)
}

// Run drains the queue until ctx is done, then flushes what is still queued.
func (w *AsyncWriter) Run(ctx context.Context) {
	for {
		select {
		case t := <-w.queue:
			w.write(ctx, t)
		case <-ctx.Done():
			w.flush()
			return
		}
	}
}

func (w *AsyncWriter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	for {
		select {
		case t := <-w.queue:
			w.write(ctx, t)
		default:
			return
		}
	}
}

func (w *AsyncWriter) write(ctx context.Context, t snode.Transition) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if err := w.store.Append(ctx, t); err != nil {
		telemetry.PersistFailures.Inc()
		w.log.Error("could not persist transition",
			zap.String("node", t.NodeID.String()),
			zap.Stringer("status", t.Status),
			zap.Error(err),
		)
	}
}
