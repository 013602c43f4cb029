package multiplex

import (
	"context"
	"time"

	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/primitives"
)

// Processor handles one coalesced batch of events for a single object.
// pressure reports whether another event has arrived for this object
// since process started (checked via pressure.IsOn()); resourceIndexed
// and operatorIndexed are passed through unused by most processors but
// let indexing handlers participate in the readiness protocol.
type Processor func(ctx context.Context, raw watch.Event, pressure *primitives.Toggle,
	resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error

// runWorker is one object's lifetime: pull the backlog, coalescing
// rapid arrivals into a single process call, until idle for
// settings.Batching.IdleTimeout or an end-of-stream token arrives. The
// Go port of queueing.worker.
func runWorker(
	ctx context.Context,
	settings config.Settings,
	st *stream,
	process Processor,
	resourceIndexed *primitives.Toggle,
	operatorIndexed *primitives.ToggleSet,
) error {
	for {
		first, ok := st.queue.pop(ctx, settings.Batching.IdleTimeout)
		if !ok {
			return nil // idle timeout, or ctx cancelled: exit, freeing this object's slot
		}
		if first.eos {
			return nil
		}

		latest := first
		sawEOS := false
		deadline := time.Now().Add(settings.Batching.BatchWindow)
	coalesce:
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break coalesce
			}
			next, ok := st.queue.pop(ctx, remaining)
			if !ok {
				break coalesce
			}
			if next.eos {
				sawEOS = true
				break coalesce // process the latest pre-EOS event, then exit without re-polling
			}
			latest = next
		}

		st.pressure.TurnOff()
		ev := watch.Event{Raw: latest.raw}
		if err := process(ctx, ev, st.pressure, resourceIndexed, operatorIndexed); err != nil {
			return err
		}
		if sawEOS {
			return nil
		}
	}
}
