package primitives

import "context"

// Flag is the uniform "something that can be waited on" abstraction kopf's
// structs.primitives.Flag union represents with asyncio.Future/Event and
// friends. In Go we have real types for each and no need for runtime type
// switching, but call sites that are generic over "however this task is
// told to wake up" (e.g. a peering processor woken either by its own
// deadline or by fresh stream pressure) benefit from a single interface.
type Flag interface {
	// Wait blocks until the flag is raised or ctx is cancelled.
	Wait(ctx context.Context) error
}

// ToggleFlag adapts a *Toggle (waiting for it to turn on) to Flag.
type ToggleFlag struct {
	Toggle *Toggle
}

func (f ToggleFlag) Wait(ctx context.Context) error {
	return f.Toggle.WaitFor(ctx, true)
}

// ChanFlag adapts a channel close/send to Flag.
type ChanFlag <-chan struct{}

func (f ChanFlag) Wait(ctx context.Context) error {
	select {
	case <-f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ContextFlag adapts a context's own cancellation to Flag, used where a
// sibling goroutine's cancellation should itself be waited upon.
type ContextFlag struct {
	Ctx context.Context
}

func (f ContextFlag) Wait(ctx context.Context) error {
	select {
	case <-f.Ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAny blocks until any of the given flags is raised, or ctx is
// cancelled; it returns the index of whichever fired first, or -1 with
// ctx.Err() on cancellation. This is the Go analogue of asyncio.wait with
// FIRST_COMPLETED, used e.g. by the peering processor to race its sleep
// deadline against incoming stream pressure.
func WaitAny(ctx context.Context, flags ...Flag) (int, error) {
	sub, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		idx int
		err error
	}
	results := make(chan result, len(flags))
	for i, f := range flags {
		i, f := i, f
		go func() {
			err := f.Wait(sub)
			results <- result{idx: i, err: err}
		}()
	}

	r := <-results
	if r.err != nil && sub.Err() != nil && ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return r.idx, r.err
}
