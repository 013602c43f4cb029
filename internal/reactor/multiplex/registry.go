package multiplex

import (
	"sync"
	"time"

	"github.com/kubefabric/reactor/pkg/primitives"
)

// stream is one object's backlog plus the pressure toggle its worker
// clears right before invoking process, so the handler can observe
// (via pressure.IsOn()) whether a new event arrived while it was
// running.
type stream struct {
	queue    *unboundedQueue
	pressure *primitives.Toggle
}

func newStream(key string) *stream {
	return &stream{queue: newUnboundedQueue(), pressure: primitives.NewToggle(false, key)}
}

func (s *stream) push(item queueItem) {
	s.queue.push(item)
	s.pressure.TurnOn()
}

// registry owns streams[ObjectUID]*stream; only the dispatch goroutine
// mutates it by key, workers only ever remove their own entry on exit
// (spec.md §5's shared-resource policy). It doubles as the depletion
// signaller for shutdown, the Go port of queueing's
// `_wait_for_depletion`.
type registry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items map[string]*stream
}

func newRegistry() *registry {
	r := &registry{items: map[string]*stream{}}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *registry) getOrCreate(key string) (st *stream, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.items[key]; ok {
		return st, false
	}
	st = newStream(key)
	r.items[key] = st
	return st, true
}

func (r *registry) remove(key string) {
	r.mu.Lock()
	delete(r.items, key)
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *registry) snapshot() []*stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stream, 0, len(r.items))
	for _, st := range r.items {
		out = append(out, st)
	}
	return out
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	return keys
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// waitForDepletion blocks until every stream has been removed or
// timeout elapses. The waiting goroutine outlives a timed-out call
// (it exits once the registry does empty, via the next Broadcast) --
// an accepted trade-off over plumbing cancellation through sync.Cond,
// which offers no select-based wait.
func (r *registry) waitForDepletion(timeout time.Duration) (drained bool) {
	done := make(chan struct{})
	go func() {
		r.mu.Lock()
		for len(r.items) > 0 {
			r.cond.Wait()
		}
		r.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
