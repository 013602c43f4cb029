package peering

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// MakeProcessor builds a multiplex.Processor (C6) that handles one
// update of the peering object for res/ns: it is the peering watcher's
// entry point, run through the very same per-object worker machinery as
// any other resource. conflictsFound is turned on/off exactly per
// spec.md's dead/higher/same/lower partitioning; it is nil in tests that
// only observe the peers list.
//
// The Processor's pressure toggle doubles as the peering-specific
// "stream pressure" signal from kopf's process_peering_event: a fresh
// peering update arriving while this call sleeps out a peer's deadline
// wakes it early for immediate re-evaluation.
func MakeProcessor(
	client *k8sclient.Client,
	settings config.Settings,
	res resource.Resource,
	ns *resource.NamespaceName,
	identity Identity,
	autoclean bool,
	conflictsFound *primitives.Toggle,
) func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
	resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
	return func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
		resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
		if ev.Raw == nil {
			return nil
		}
		return ProcessEvent(ctx, client, settings, res, ns, identity, ev.Raw.Object, autoclean, pressure, conflictsFound)
	}
}

// ProcessEvent handles a single update of the peers by us or by other
// operators. When an operator with a higher priority appears, this
// operator is paused via conflictsFound. When conflicting operators
// disappear or go stale, the pause is lifted. The Go port of
// kopf.engines.peering.process_peering_event.
func ProcessEvent(
	ctx context.Context,
	client *k8sclient.Client,
	settings config.Settings,
	res resource.Resource,
	ns *resource.NamespaceName,
	identity Identity,
	body objects.Body,
	autoclean bool,
	pressure *primitives.Toggle,
	conflictsFound *primitives.Toggle,
) error {
	name, _ := objects.GetString(body, "metadata", "name")
	if name != settings.Peering.Name {
		// Not our peering object (e.g. a peering CRD shared across
		// multiple differently-configured operators); ignore silently.
		return nil
	}

	status, _ := objects.Get(body, "status")
	statusMap, _ := status.(map[string]interface{})
	peers := parsePeers(statusMap)

	now := time.Now().UTC()
	var dead, live []Peer
	for _, p := range peers {
		if p.IsDead(now) {
			dead = append(dead, p)
		} else if p.Identity != identity {
			live = append(live, p)
		}
	}

	var higher, same []Peer
	for _, p := range live {
		switch {
		case p.Priority > settings.Peering.Priority:
			higher = append(higher, p)
		case p.Priority == settings.Peering.Priority:
			same = append(same, p)
		}
	}

	if autoclean && len(dead) > 0 {
		if err := Clean(ctx, client, settings, res, ns, dead); err != nil {
			return fmt.Errorf("cleaning dead peers: %w", err)
		}
	}

	applyConflictState(conflictsFound, peers, higher, same)

	blockers := append(append([]Peer{}, same...), higher...)
	if len(blockers) == 0 {
		return nil
	}

	deadline := blockers[0].Deadline()
	for _, p := range blockers[1:] {
		if p.Deadline().Before(deadline) {
			deadline = p.Deadline()
		}
	}

	woke, err := sleepOrWake(ctx, time.Until(deadline), pressure)
	if err != nil {
		return err
	}
	if !woke {
		// The deadline fired with no fresher update from anyone; force a
		// touch so our own lastseen changes, re-triggering evaluation.
		return Touch(ctx, client, settings, res, ns, identity, nil)
	}
	return nil
}

// applyConflictState mirrors kopf's is_off()/is_on() gated logging and
// toggle transitions exactly, including the deliberately-kept
// "undefined leadership" warning for same-priority peers (see
// DESIGN.md's Open Question on peering priority ties).
func applyConflictState(conflictsFound *primitives.Toggle, peers, higher, same []Peer) {
	if conflictsFound == nil {
		return
	}
	switch {
	case len(higher) > 0:
		if conflictsFound.IsOff() {
			klog.InfoS("pausing operations in favor of higher-priority peers", "peers", higher)
			conflictsFound.TurnOn()
		}
	case len(same) > 0:
		klog.InfoS("possibly conflicting operators with the same priority", "peers", same)
		if conflictsFound.IsOff() {
			klog.InfoS("pausing all operators, including self", "peers", peers)
			conflictsFound.TurnOn()
		}
	default:
		if conflictsFound.IsOn() {
			klog.InfoS("resuming operations: conflicting same-priority operators are gone")
			conflictsFound.TurnOff()
		}
	}
}

// sleepOrWake blocks for d, or until pressure turns on, whichever comes
// first. It returns true if woken by pressure before d elapsed, false on
// a clean timeout, and a non-nil error only on ctx cancellation.
func sleepOrWake(ctx context.Context, d time.Duration, pressure *primitives.Toggle) (bool, error) {
	if d <= 0 {
		return false, nil
	}
	if pressure == nil {
		select {
		case <-time.After(d):
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	idx, err := primitives.WaitAny(ctx, timerFlag(d), primitives.ToggleFlag{Toggle: pressure})
	if err != nil {
		return false, err
	}
	return idx == 1, nil
}

// timerFlag is a primitives.Flag that fires once d has elapsed.
type timerFlag time.Duration

func (d timerFlag) Wait(ctx context.Context) error {
	select {
	case <-time.After(time.Duration(d)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Keepalive regularly announces identity's presence in the peering
// object until ctx is cancelled, then removes the entry (a zero-lifetime
// Touch) using a short-lived detached context so the departure patch
// still has a chance to land even though ctx itself is already done --
// the Go analogue of kopf's asyncio.shield around the farewell touch.
func Keepalive(
	ctx context.Context,
	client *k8sclient.Client,
	settings config.Settings,
	res resource.Resource,
	ns *resource.NamespaceName,
	identity Identity,
) error {
	for {
		if err := Touch(ctx, client, settings, res, ns, identity, nil); err != nil {
			klog.InfoS("peering keepalive failed, will retry", "identity", identity, "err", err)
		}

		lifetime := settings.Peering.Lifetime
		jitter := time.Duration(5+rand.Intn(6)) * time.Second
		duration := lifetime - jitter
		if duration < time.Second {
			duration = time.Second
		}

		select {
		case <-time.After(duration):
		case <-ctx.Done():
			farewell(client, settings, res, ns, identity)
			return ctx.Err()
		}
	}
}

func farewell(client *k8sclient.Client, settings config.Settings, res resource.Resource, ns *resource.NamespaceName, identity Identity) {
	detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	zero := time.Duration(0)
	if err := Touch(detached, client, settings, res, ns, identity, &zero); err != nil {
		klog.InfoS("could not remove self from the peering, ignoring", "identity", identity, "err", err)
	}
}

// Touch posts identity's own keep-alive entry, or (when lifetime points
// at a zero duration) nulls it out to signal a clean departure.
func Touch(
	ctx context.Context,
	client *k8sclient.Client,
	settings config.Settings,
	res resource.Resource,
	ns *resource.NamespaceName,
	identity Identity,
	lifetime *time.Duration,
) error {
	effective := settings.Peering.Lifetime
	if lifetime != nil {
		effective = *lifetime
	}
	peer := Peer{Identity: identity, Priority: settings.Peering.Priority, Lifetime: effective, LastSeen: time.Now().UTC()}

	patch := objects.NewPatch()
	if peer.IsDead(time.Now().UTC()) {
		patch.SetIn([]string{"status", string(identity)}, nil)
	} else {
		patch.SetIn([]string{"status", string(identity)}, peer.asStatus())
	}

	_, err := client.Patch(ctx, res, ns, settings.Peering.Name, patch)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.IsNotFound() {
			if !settings.Peering.Stealth {
				klog.InfoS("keep-alive skipped: peering object not found", "name", settings.Peering.Name)
			}
			return nil
		}
		return err
	}
	return nil
}

func asAPIError(err error) (*reactorerrors.APIError, bool) {
	var apiErr *reactorerrors.APIError
	return apiErr, errors.As(err, &apiErr)
}

// Clean removes the given (already known-dead) peers' entries from the
// peering object's status in a single patch.
func Clean(
	ctx context.Context,
	client *k8sclient.Client,
	settings config.Settings,
	res resource.Resource,
	ns *resource.NamespaceName,
	dead []Peer,
) error {
	if len(dead) == 0 {
		return nil
	}
	patch := objects.NewPatch()
	for _, p := range dead {
		patch.SetIn([]string{"status", string(p.Identity)}, nil)
	}
	_, err := client.Patch(ctx, res, ns, settings.Peering.Name, patch)
	return err
}

// GuessSelector picks the peering resource selector implied by
// settings.Peering: nil in standalone mode (no peering at all), the
// cluster-scoped kind when ClusterWide, the namespaced kind otherwise.
func GuessSelector(settings config.Settings) *resource.Selector {
	switch {
	case settings.Peering.Standalone:
		return nil
	case settings.Peering.ClusterWide:
		return &ClusterPeerings
	default:
		return &NamespacedPeerings
	}
}

// ClusterPeerings and NamespacedPeerings select the two peering CRD
// kinds an operator may be configured to use, per spec.md's §3 "Peering
// object" definition.
var (
	ClusterPeerings    = resource.Selector{Group: "kopf.zalando.org", Kind: "ClusterKopfPeering"}
	NamespacedPeerings = resource.Selector{Group: "kopf.zalando.org", Kind: "KopfPeering"}
)
