package primitives

import "context"

// WaitUntil blocks until predicate() returns true, re-checking it every
// time source fires, or until ctx is cancelled. It is the generic form
// of kopf's various `insights.revised`-gated `wait_for(...)` helpers
// (e.g. Insights.backbone.wait_for(NAMESPACES)): any Broadcaster paired
// with a plain predicate closure over the caller's own state.
func WaitUntil(ctx context.Context, source Broadcaster, predicate func() bool) error {
	if predicate() {
		return nil
	}

	woke := make(chan struct{}, 1)
	cancel := source.Subscribe(func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		if predicate() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-woke:
		}
	}
}
