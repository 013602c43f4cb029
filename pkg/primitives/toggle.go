// Package primitives implements the synchronisation primitives shared by
// the reactor: bi-directional toggles, toggle sets, single-value
// containers, and condition chains. They are the Go counterparts of
// kopf's structs.primitives module, adapted from an async/await,
// single-threaded cooperative model to real goroutines guarded by mutexes.
package primitives

import (
	"context"
	"sync"
)

// Toggle is a boolean that can be awaited both until set and until cleared,
// unlike a plain channel-based "done" signal which only fires once.
type Toggle struct {
	name string

	mu        sync.Mutex
	cond      *sync.Cond
	state     bool
	observers []func()
}

// NewToggle creates a toggle with the given initial state and an optional
// diagnostic name (surfaced in orchestration logs when listing blockers).
func NewToggle(initial bool, name string) *Toggle {
	t := &Toggle{state: initial, name: name}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Toggle) Name() string {
	return t.name
}

// IsOn reports whether the toggle is currently on.
func (t *Toggle) IsOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsOff is the negation of IsOn, kept as a named method to mirror the
// symmetric is_on()/is_off() pair in the original.
func (t *Toggle) IsOff() bool {
	return !t.IsOn()
}

// TurnOn sets the toggle and wakes every waiter.
func (t *Toggle) TurnOn() {
	t.turnTo(true)
}

// TurnOff clears the toggle and wakes every waiter.
func (t *Toggle) TurnOff() {
	t.turnTo(false)
}

// TurnTo sets the toggle to an explicit value.
func (t *Toggle) TurnTo(value bool) {
	t.turnTo(value)
}

func (t *Toggle) turnTo(value bool) {
	t.mu.Lock()
	t.state = value
	observers := append([]func(){}, t.observers...)
	t.mu.Unlock()
	t.cond.Broadcast()
	for _, notify := range observers {
		notify()
	}
}

// observe registers a callback invoked (outside the toggle's own lock)
// every time the toggle's state changes. Used by ToggleSet to recompute
// its composite state whenever a member toggle flips.
func (t *Toggle) observe(fn func()) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// WaitFor blocks until the toggle reaches the given value, or the context
// is cancelled. A background goroutine relays ctx.Done() into a Broadcast
// so the waiter wakes up promptly on cancellation.
func (t *Toggle) WaitFor(ctx context.Context, value bool) error {
	stop := t.watchCancellation(ctx)
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.state != value {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}

// watchCancellation starts a goroutine that broadcasts on the toggle's
// condition when ctx is done, so blocked WaitFor calls can re-check
// ctx.Err() instead of hanging forever. The returned func stops it.
func (t *Toggle) watchCancellation(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}
