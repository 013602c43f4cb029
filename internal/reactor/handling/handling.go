// Package handling implements the handler-cycle orchestrator (C7): for
// one incoming event on one object, it diffs against the stored
// last-seen state, selects the next handlers to run via a Lifecycle,
// invokes them, maps their outcomes onto the object's progress
// subtree, and returns a single accumulated merge-patch. It is the Go
// port of kopf.reactor.processing/kopf.reactor.handling.
package handling

import (
	"context"
	"time"

	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/diff"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/lastseen"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/progress"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
)

// Outcome records one handler's result for this cycle.
type Outcome struct {
	Result interface{}
	Retry  *time.Duration
	Err    error
}

// RunCycle runs one handling cycle for cause against reg's matching
// handlers, ordered/subset-selected by lifecycle. It returns the single
// accumulated patch (progress markers plus whatever the handlers staged
// via Cause-provided mutation, always non-nil), the per-handler outcome
// map for this cycle, and a non-nil err only for a failure outside any
// individual handler's control (context cancellation).
func RunCycle(
	ctx context.Context,
	settings config.Settings,
	reg handlers.Registry,
	lifecycle Lifecycle,
	cause handlers.Cause,
	defaultErrors handlers.ErrorsMode,
) (*objects.Patch, map[handlers.HandlerID]Outcome, error) {
	patch := objects.NewPatch()
	outcomes := map[handlers.HandlerID]Outcome{}

	digest := lastseen.ComputeDigest(cause.Body)
	bodyDiff := lastseen.Diff(cause.Body)

	candidates := selectCandidates(reg, cause, bodyDiff)

	now := time.Now()
	awakened := make([]handlers.Handler, 0, len(candidates))
	for _, h := range candidates {
		if progress.IsAwakened(cause.Body, progress.Digest(digest), progress.HandlerID(h.ID), now) {
			awakened = append(awakened, h)
		}
	}

	selected := lifecycle(awakened, cause.Body)

	for _, h := range selected {
		if err := ctx.Err(); err != nil {
			return patch, outcomes, err
		}

		progress.SetStartTime(cause.Body, patch, progress.HandlerID(h.ID), now)

		result, err := invoke(ctx, h, cause)
		outcomes[h.ID] = applyOutcome(patch, cause.Body, progress.Digest(digest), h, Outcome{Result: result, Err: err}, defaultErrors, now)
	}

	if allFinished(cause.Body, patch, digest, candidates) {
		if err := lastseen.Refresh(cause.Body, patch.Raw()); err != nil {
			return patch, outcomes, err
		}
		progress.PurgeProgress(patch)
	}

	return patch, outcomes, nil
}

// selectCandidates returns every handler matching cause's resource,
// event type, and static filters -- everything a Lifecycle is allowed
// to choose among, before the awakened-state narrowing.
func selectCandidates(reg handlers.Registry, cause handlers.Cause, bodyDiff diff.Diff) []handlers.Handler {
	all := reg.ResourceHandlers(cause.Resource)

	out := make([]handlers.Handler, 0, len(all))
	for _, h := range all {
		if !matchesEvent(h, cause.Event) {
			continue
		}
		if !matchesFilter(h.Filter, cause.Body, bodyDiff) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Invoke runs a single handler the same way RunCycle does: panic-safe,
// racing against h.Timeout when set. It is exported for C10's admission
// dispatch, which selects and invokes handlers outside of RunCycle's own
// resource-change selection (reg.WebhookHandlers instead of
// reg.ResourceHandlers) but still wants identical invocation semantics.
func Invoke(ctx context.Context, h handlers.Handler, cause handlers.Cause) (interface{}, error) {
	return invoke(ctx, h, cause)
}

// invoke calls h.Fn, recovering a panic into a PermanentError (a
// misbehaving handler must not take down the whole cycle) and, when the
// handler declares a Timeout, racing it against the call -- Fn itself
// takes no context, so a timed-out call's goroutine is abandoned rather
// than cancelled, matching the original's use of a plain wall-clock
// deadline around a synchronous callback.
func invoke(ctx context.Context, h handlers.Handler, cause handlers.Cause) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: reactorerrors.NewPermanentError(panicMessage(r))}
			}
		}()
		result, err := h.Fn(cause)
		done <- outcome{result: result, err: err}
	}()

	if h.Timeout == nil {
		o := <-done
		return o.result, o.err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(*h.Timeout):
		return nil, reactorerrors.NewTemporaryError("handler timed out", 0)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func panicMessage(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "handler panicked"
}

// applyOutcome maps one handler's result onto the progress subtree,
// exactly per spec.md's PermanentError/TemporaryError/other/success
// rules.
func applyOutcome(
	patch *objects.Patch,
	body objects.Body,
	digest progress.Digest,
	h handlers.Handler,
	outcome Outcome,
	defaultErrors handlers.ErrorsMode,
	now time.Time,
) Outcome {
	id := progress.HandlerID(h.ID)

	if outcome.Err == nil {
		progress.StoreSuccess(body, patch, id, digest, now, outcome.Result)
		return outcome
	}

	switch e := outcome.Err.(type) {
	case *reactorerrors.PermanentError:
		progress.StoreFailure(body, patch, id, digest, now, e)
		return outcome
	case *reactorerrors.TemporaryError:
		delay := e.Delay
		progress.SetRetryTime(body, patch, id, now, &delay)
		outcome.Retry = &delay
		return outcome
	}

	switch defaultErrors {
	case handlers.ErrorsPermanent:
		progress.StoreFailure(body, patch, id, digest, now, outcome.Err)
	case handlers.ErrorsIgnored:
		// log-and-continue: no progress recorded, next cycle retries as if
		// this attempt never happened.
	default:
		delay := defaultRetryDelay
		progress.SetRetryTime(body, patch, id, now, &delay)
		outcome.Retry = &delay
	}
	return outcome
}

// defaultRetryDelay is the backoff applied to an unclassified handler
// error, matching kopf's own default retry interval.
const defaultRetryDelay = 60 * time.Second

// allFinished reports whether every candidate handler now has a
// terminal marker, counting both what was already persisted on body and
// what this cycle staged into patch.
func allFinished(body objects.Body, patch *objects.Patch, digest lastseen.Digest, candidates []handlers.Handler) bool {
	merged := patch.Apply(body)
	for _, h := range candidates {
		if !progress.IsFinished(merged, progress.Digest(digest), progress.HandlerID(h.ID)) {
			return false
		}
	}
	return true
}
