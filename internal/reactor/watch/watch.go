package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// InfiniteWatch lists r (optionally scoped to ns), then watches it
// forever, reconnecting across disconnects, server timeouts, and 410
// Gone resourceVersion expiry, and blocking while paused turns on. The
// returned channel is closed when ctx is done; a non-nil Event.Err is
// sent immediately before closing if the stream fails for a reason
// other than shutdown or pause (a decode failure or an unrecognized
// ERROR event) -- the Go port of kopf.clients.watching.infinite_watch.
func InfiniteWatch(
	ctx context.Context,
	settings config.Settings,
	client *k8sclient.Client,
	r resource.Resource,
	ns *resource.NamespaceName,
	paused *primitives.ToggleSet,
) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		for {
			if err := waitWhilePaused(ctx, paused); err != nil {
				return
			}

			streamCtx, cancel := context.WithCancel(ctx)
			stopPauseWatch := watchForPause(streamCtx, paused, cancel)
			err := streamSession(streamCtx, settings, client, r, ns, out)
			stopPauseWatch()
			cancel()

			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				// Our own pause-triggered cancellation fired; the parent
				// ctx is still alive, so loop back to the pause-check.
				continue
			}

			select {
			case out <- Event{Err: err}:
			case <-ctx.Done():
			}
			return
		}
	}()

	return out
}

// waitWhilePaused blocks until paused is off (or nil), matching
// streaming_block's pre-stream gate.
func waitWhilePaused(ctx context.Context, paused *primitives.ToggleSet) error {
	if paused == nil {
		return nil
	}
	return paused.WaitFor(ctx, false)
}

// watchForPause cancels cancel as soon as paused turns on, the Go
// analogue of attaching response.close() to operator_pause_waiter's
// done callback. Returns a stop func to release the watcher when the
// stream ends on its own first.
func watchForPause(ctx context.Context, paused *primitives.ToggleSet, cancel context.CancelFunc) func() {
	if paused == nil {
		return func() {}
	}
	waitCtx, stop := context.WithCancel(ctx)
	go func() {
		if err := paused.WaitFor(waitCtx, true); err == nil {
			cancel()
		}
	}()
	return stop
}

// streamSession runs continuous_watch: list once, then watch since the
// listed resourceVersion forever, relisting only on a 410 Gone. It
// returns only when ctx is done (shutdown or pause-triggered cancel) or
// on a fatal error.
func streamSession(
	ctx context.Context,
	settings config.Settings,
	client *k8sclient.Client,
	r resource.Resource,
	ns *resource.NamespaceName,
	out chan<- Event,
) error {
	for {
		resourceVersion, err := listAndEmit(ctx, client, r, ns, out)
		if err != nil {
			return err
		}

		for {
			restart, werr := watchOnce(ctx, settings, client, r, ns, &resourceVersion, out)
			if werr != nil {
				return werr
			}
			if restart {
				break // 410 Gone: relist (outer loop), no pause re-check, no backoff
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			select {
			case <-time.After(settings.Watching.ReconnectBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func listAndEmit(
	ctx context.Context,
	client *k8sclient.Client,
	r resource.Resource,
	ns *resource.NamespaceName,
	out chan<- Event,
) (string, error) {
	result, err := client.List(ctx, r, ns)
	if err != nil {
		return "", err
	}
	for _, item := range result.Items {
		select {
		case out <- Event{Raw: &k8sclient.RawEvent{Object: item}}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	select {
	case out <- Event{Bookmark: &Bookmark{Listed: true}}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return result.ResourceVersion, nil
}

// watchOnce opens one watch connection since *resourceVersion and
// streams it into out, updating *resourceVersion as ADDED/MODIFIED/DELETED
// events arrive. It returns (true, nil) on a 410 Gone ERROR event (the
// caller must relist), (false, err) with err the shutdown/pause context
// error or a fatal *reactorerrors.WatchingError, or (false, nil) on an
// ordinary disconnect (the caller reopens the watch with the same
// resourceVersion).
func watchOnce(
	ctx context.Context,
	settings config.Settings,
	client *k8sclient.Client,
	r resource.Resource,
	ns *resource.NamespaceName,
	resourceVersion *string,
	out chan<- Event,
) (bool, error) {
	events, errc := client.Watch(ctx, r, ns, *resourceVersion, settings.Watching.ServerTimeoutSeconds)

	for ev := range events {
		switch ev.Type {
		case "ERROR":
			if isResourceVersionGone(ev.Object) {
				return true, nil
			}
			return false, reactorerrors.NewWatchingError(fmt.Errorf("error in the watch-stream: %v", ev.Object))

		case "ADDED", "MODIFIED", "DELETED":
			if rv, ok := objects.GetString(ev.Object, "metadata", "resourceVersion"); ok && rv != "" {
				*resourceVersion = rv
			}
			evCopy := ev
			select {
			case out <- Event{Raw: &evCopy}:
			case <-ctx.Done():
				return false, ctx.Err()
			}

		default:
			klog.InfoS("ignoring unsupported watch event type", "type", ev.Type, "resource", r.Name())
		}
	}

	if err := <-errc; err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var watchingErr *reactorerrors.WatchingError
		if errors.As(err, &watchingErr) {
			return false, err
		}
		// A transport-level failure (connection reset, etc.): treat it
		// like an ordinary timeout and let the caller reopen.
		return false, nil
	}
	return false, nil
}

func isResourceVersionGone(obj objects.Body) bool {
	code, ok := objects.Get(obj, "code")
	if !ok {
		return false
	}
	switch v := code.(type) {
	case float64:
		return int(v) == 410
	case int:
		return v == 410
	default:
		return false
	}
}
