package scheduler

import (
	"math/rand"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// Queue is one rotation cycle: every node known at build time, in shuffled
// order. It is a plain value owned by a single Scheduler.
type Queue struct {
	ids []snode.NodeID
}

// NewQueue copies keys and shuffles the copy.
func NewQueue(keys []snode.NodeID, rng *rand.Rand) Queue {
	ids := append([]snode.NodeID(nil), keys...)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return Queue{ids: ids}
}

// Pop removes up to n ids from the end of the queue.
func (q *Queue) Pop(n int) []snode.NodeID {
	if n > len(q.ids) {
		n = len(q.ids)
	}
	if n <= 0 {
		return nil
	}
	out := make([]snode.NodeID, 0, n)
	for i := 0; i < n; i++ {
		last := len(q.ids) - 1
		out = append(out, q.ids[last])
		q.ids = q.ids[:last]
	}
	return out
}

func (q Queue) Len() int { return len(q.ids) }

func (q Queue) Empty() bool { return len(q.ids) == 0 }
