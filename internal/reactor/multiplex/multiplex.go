// Package multiplex implements the per-object queue multiplexer and
// bounded worker pool (C6): it fans one resource's watch-event stream
// out into one goroutine per distinct object, serializing that
// object's own events while letting different objects process
// concurrently, up to settings.Batching.WorkerLimit at a time. It is
// the Go port of kopf.reactor.queueing.
package multiplex

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/resource"
)

// Watch consumes events (typically internal/reactor/watch.InfiniteWatch's
// output for r/ns) and dispatches each distinct object's events to its
// own worker, invoking process once per coalesced batch. It returns
// when events closes cleanly (ctx cancellation) or when the upstream
// stream or a worker reports a fatal error, wrapped so the caller (the
// orchestrator) can identify which resource's watcher failed.
func Watch(
	ctx context.Context,
	settings config.Settings,
	r resource.Resource,
	ns *resource.NamespaceName,
	events <-chan watch.Event,
	process Processor,
	operatorIndexed *primitives.ToggleSet,
	resourceIndexed *primitives.Toggle,
) error {
	// workerCtx is detached from ctx's cancellation: on shutdown every
	// stream first gets an EOS and up to ExitTimeout to drain, and only
	// the deferred cancelWorkers stops whatever is still running.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	reg := newRegistry()
	pool := newPool(settings.Batching.WorkerLimit)
	fatal := make(chan error, 1)
	listed := false

	var outcome error
dispatch:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break dispatch
			}
			if ev.Err != nil {
				outcome = fmt.Errorf("watch stream for %s: %w", r.Name(), ev.Err)
				break dispatch
			}
			if ev.Bookmark != nil {
				if ev.Bookmark.Listed && !listed {
					listed = true
					operatorIndexed.DropToggle(resourceIndexed)
				}
				continue
			}
			if ev.Raw == nil {
				continue
			}
			spawnFor(workerCtx, settings, reg, pool, process, resourceIndexed, operatorIndexed, ev.Raw, fatal)

		case err := <-fatal:
			outcome = fmt.Errorf("multiplexer worker for %s: %w", r.Name(), err)
			break dispatch

		case <-ctx.Done():
			break dispatch
		}
	}

	for _, st := range reg.snapshot() {
		st.push(queueItem{eos: true})
	}
	if !reg.waitForDepletion(settings.Batching.ExitTimeout) {
		klog.InfoS("workers did not drain before shutdown", "resource", r.Name(), "undrained", reg.keys())
	}

	if outcome != nil {
		return outcome
	}
	return nil
}

// spawnFor routes one raw event to its object's stream, creating the
// stream (and a worker goroutine for it) on first sight, the Go port
// of queueing.watcher's per-key dispatch.
func spawnFor(
	ctx context.Context,
	settings config.Settings,
	reg *registry,
	pool *pool,
	process Processor,
	resourceIndexed *primitives.Toggle,
	operatorIndexed *primitives.ToggleSet,
	raw *k8sclient.RawEvent,
	fatal chan<- error,
) {
	key := objects.UID(raw.Object)
	st, created := reg.getOrCreate(key)
	if created {
		pool.spawn(
			func() error {
				return runWorker(ctx, settings, st, process, resourceIndexed, operatorIndexed)
			},
			func(err error) {
				reg.remove(key)
				if err != nil {
					select {
					case fatal <- err:
					default:
					}
				}
			},
		)
	}
	st.push(queueItem{raw: raw})
}
