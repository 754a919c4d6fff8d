package board

import (
	"context"
	"sync"
)

// writeQueue serializes writes per task id. Each write waits for the one
// queued before it on the same task, so the last queued write is also the
// last one applied by the resource service. Writes to different tasks do not
// wait on each other.
type writeQueue struct {
	mu    sync.Mutex
	tails map[int64]chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{tails: make(map[int64]chan struct{})}
}

type ticket struct {
	q    *writeQueue
	id   int64
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

func (q *writeQueue) enqueue(id int64) *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &ticket{q: q, id: id, prev: q.tails[id], done: make(chan struct{})}
	q.tails[id] = t.done
	return t
}

// wait blocks until the previous write on the same task has finished. When ctx
// ends first the ticket is released in the background once its predecessor
// finishes, and the caller must not call release.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-t.prev
			t.release()
		}()
		return ctx.Err()
	}
}

func (t *ticket) release() {
	t.once.Do(func() {
		t.q.mu.Lock()
		if t.q.tails[t.id] == t.done {
			delete(t.q.tails, t.id)
		}
		t.q.mu.Unlock()
		close(t.done)
	})
}

// inFlight reports how many tasks currently have a write queued or running.
func (q *writeQueue) inFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
