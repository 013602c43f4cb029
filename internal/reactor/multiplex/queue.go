package multiplex

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kubefabric/reactor/pkg/k8sclient"
)

// queueItem is one entry in a per-object backlog: either a raw watch
// event or the end-of-stream sentinel pushed at shutdown.
type queueItem struct {
	raw *k8sclient.RawEvent
	eos bool
}

// unboundedQueue is a FIFO of unbounded capacity backed by
// container/list, the Go analogue of Python's unbounded asyncio.Queue:
// spec.md forbids dropping events because a fixed-capacity channel
// filled up, so a plain buffered channel cannot serve as the backlog.
type unboundedQueue struct {
	mu     sync.Mutex
	items  list.List
	notify chan struct{}
}

func newUnboundedQueue() *unboundedQueue {
	return &unboundedQueue{notify: make(chan struct{}, 1)}
}

func (q *unboundedQueue) push(item queueItem) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *unboundedQueue) tryPop() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return queueItem{}, false
	}
	q.items.Remove(e)
	return e.Value.(queueItem), true
}

// pop waits up to timeout (zero or negative means "wait indefinitely")
// for an item to become available, re-polling the queue on every
// notify wakeup. ok is false when timeout or ctx cancellation won the
// race with an arriving item.
func (q *unboundedQueue) pop(ctx context.Context, timeout time.Duration) (queueItem, bool) {
	for {
		if item, ok := q.tryPop(); ok {
			return item, true
		}
		var timer *time.Timer
		var timerC <-chan time.Time
		if timeout > 0 {
			timer = time.NewTimer(timeout)
			timerC = timer.C
		}
		select {
		case <-q.notify:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerC:
			return queueItem{}, false
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return queueItem{}, false
		}
	}
}
