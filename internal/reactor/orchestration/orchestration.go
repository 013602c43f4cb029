// Package orchestration implements C9: the ensemble that keeps watcher,
// peering and keepalive goroutines in sync with the live discovery
// picture published by C3, and aggregates their pause/readiness signals
// into the two operator-wide ToggleSets that gate everything else. It
// is the Go port of kopf.reactor.orchestration.
package orchestration

import (
	"context"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/multiplex"
	"github.com/kubefabric/reactor/internal/reactor/peering"
	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/resource"
)

// EnsembleKey identifies one watcher or peering task: a resource and the
// single namespace it is scoped to, or an empty Namespace for a
// cluster-scoped resource or a cluster-wide watch.
type EnsembleKey struct {
	Resource  resource.Identity
	Namespace resource.NamespaceName
}

type watcherEntry struct {
	cancel  context.CancelFunc
	indexed *primitives.Toggle
}

type peeringEntry struct {
	cancel    context.CancelFunc
	conflicts *primitives.Toggle
}

// Ensemble owns the set of currently-running watcher/peering/keepalive
// goroutines and the two aggregate ToggleSets derived from them: Paused
// (Any semantics -- on iff any contributor wants the operator stopped)
// and Ready (All semantics -- on iff any contributor's initial scan is
// still pending; "ready" in the ordinary sense is Ready.IsOff()).
type Ensemble struct {
	client   *k8sclient.Client
	settings config.Settings
	reg      handlers.Registry
	insights *resource.Insights
	identity peering.Identity

	paused                *primitives.ToggleSet
	ready                 *primitives.ToggleSet
	orchestrationBlocker  *primitives.Toggle
	peeringMissingBlocker *primitives.Toggle
	processor             ProcessorFactory

	mu       sync.Mutex
	watchers map[EnsembleKey]*watcherEntry
	peerings map[EnsembleKey]*peeringEntry
	pingings map[EnsembleKey]context.CancelFunc

	wg sync.WaitGroup
}

// NewEnsemble builds an empty Ensemble wired against client/settings/reg
// and the shared insights snapshot. The returned Ensemble has no running
// tasks until Run is called.
func NewEnsemble(client *k8sclient.Client, settings config.Settings, reg handlers.Registry, insights *resource.Insights, identity peering.Identity) *Ensemble {
	paused := primitives.NewToggleSet(primitives.Any)
	return &Ensemble{
		client:                client,
		settings:              settings,
		reg:                   reg,
		insights:              insights,
		identity:              identity,
		paused:                paused,
		ready:                 primitives.NewToggleSet(primitives.All),
		orchestrationBlocker:  paused.MakeToggle("orchestration-in-progress", false),
		peeringMissingBlocker: paused.MakeToggle("peering-crd-missing", false),
		processor:             func(resource.Resource) multiplex.Processor { return passthroughProcessor },
		watchers:              map[EnsembleKey]*watcherEntry{},
		peerings:              map[EnsembleKey]*peeringEntry{},
		pingings:              map[EnsembleKey]context.CancelFunc{},
	}
}

// Paused is the operator-wide pause signal: every C5 watcher blocks
// while it is on.
func (e *Ensemble) Paused() *primitives.ToggleSet { return e.paused }

// Ready is the operator-wide not-yet-ready signal: consumers (C10's
// readiness gate, post-init tasks) wait for it to turn off.
func (e *Ensemble) Ready() *primitives.ToggleSet { return e.ready }

// ProcessorFactory builds the Processor a watcher for r should run its
// events through -- a factory rather than a single Processor because
// each watcher needs its own resource bound into the handler.Cause it
// constructs per event.
type ProcessorFactory func(r resource.Resource) multiplex.Processor

// SetProcessor overrides the ProcessorFactory every watcher spawned from
// now on uses to handle its events; absent a call, watchers use a no-op
// processor. cmd/kubefabric calls this before Run with a factory that
// drives handling.RunCycle against reg, wiring C7 into every per-object
// worker C9 spawns.
func (e *Ensemble) SetProcessor(f ProcessorFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processor = f
}

// Run drives the ensemble off insights.Revised(): every revision it
// reconciles the required watcher/peering set against what is currently
// running, then waits for the next revision or ctx cancellation. It
// returns only when ctx is done, having cancelled every task it started.
func (e *Ensemble) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	nudge := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	chain := primitives.Chain(e.insights.Revised(), nudge)
	defer chain.Close()

	e.reconcile(ctx)
	for {
		select {
		case <-wake:
			e.reconcile(ctx)
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		}
	}
}

// required computes every (resource, namespace) key that should be
// running right now: one entry per namespace for a namespaced resource
// (or a single cluster-wide entry when the operator watches
// cluster-wide), one cluster-scoped entry for a cluster-scoped resource.
// isPeering marks the peering resource's own keys, which Run spawns
// through the peering machinery instead of a plain watcher.
func (e *Ensemble) required() (map[EnsembleKey]resource.Resource, map[EnsembleKey]bool) {
	keys := map[EnsembleKey]resource.Resource{}
	isPeering := map[EnsembleKey]bool{}

	namespaces := e.insights.Namespaces()
	clusterWide := e.insights.ClusterWide()

	addResource := func(r resource.Resource, peeringKind bool) {
		if !r.Namespaced || clusterWide {
			k := EnsembleKey{Resource: r.ID()}
			keys[k] = r
			isPeering[k] = peeringKind
			return
		}
		for _, ns := range namespaces {
			k := EnsembleKey{Resource: r.ID(), Namespace: ns}
			keys[k] = r
			isPeering[k] = peeringKind
		}
	}

	for _, r := range e.insights.Resources() {
		addResource(r, false)
	}

	peeringMissing := false
	if sel := peering.GuessSelector(e.settings); sel != nil {
		if r, ok := e.insights.Backbone(*sel); ok {
			addResource(r, true)
		} else if e.settings.Peering.Mandatory {
			// The peering CRD is required but not yet discovered (or was
			// removed): block every watcher until it reappears, exactly
			// as a live higher-priority peer would.
			peeringMissing = true
		}
	}
	e.peeringMissingBlocker.TurnTo(peeringMissing)

	return keys, isPeering
}

// reconcile is one revision: cancel tasks no longer required, then spawn
// tasks newly required, bracketing the spawn loop with
// orchestrationBlocker so the pause/readiness sets never see a
// misleadingly-empty topology mid-change.
func (e *Ensemble) reconcile(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, isPeering := e.required()

	for k, entry := range e.watchers {
		if _, ok := keys[k]; !ok {
			entry.cancel()
			e.ready.DropToggle(entry.indexed)
			delete(e.watchers, k)
		}
	}
	for k, entry := range e.peerings {
		if _, ok := keys[k]; !ok {
			entry.cancel()
			e.paused.DropToggle(entry.conflicts)
			delete(e.peerings, k)
			if cancel, ok := e.pingings[k]; ok {
				cancel()
				delete(e.pingings, k)
			}
		}
	}

	e.orchestrationBlocker.TurnOn()
	for k, r := range keys {
		if isPeering[k] {
			if _, running := e.peerings[k]; running {
				continue
			}
			e.spawnPeering(ctx, k, r)
			continue
		}
		if _, running := e.watchers[k]; running {
			continue
		}
		e.spawnWatcher(ctx, k, r)
	}
	e.orchestrationBlocker.TurnOff()
}

func (e *Ensemble) spawnWatcher(ctx context.Context, k EnsembleKey, r resource.Resource) {
	var ns *resource.NamespaceName
	if k.Namespace != "" {
		n := k.Namespace
		ns = &n
	}

	// Only resources with at least one index handler get an
	// "operator-indexed" sub-toggle at all; an indexable-less deployment
	// (the common case, since this core's Registry surface does not yet
	// model index handlers) must stay vacuously ready rather than block
	// on every watcher's initial-list completion.
	var indexed *primitives.Toggle
	if e.insights.IsIndexable(r) {
		indexed = e.ready.MakeToggle(r.Name()+"/"+string(k.Namespace), true)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	e.watchers[k] = &watcherEntry{cancel: cancel, indexed: indexed}
	process := e.processor(r)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		events := watch.InfiniteWatch(taskCtx, e.settings, e.client, r, ns, e.paused)
		if err := multiplex.Watch(taskCtx, e.settings, r, ns, events, process, e.ready, indexed); err != nil && taskCtx.Err() == nil {
			klog.InfoS("watcher exited with error", "resource", r.Name(), "namespace", k.Namespace, "err", err)
		}
	}()
}

// passthroughProcessor is the Ensemble's default Processor, used until
// SetProcessor installs one that drives events through C7.
var passthroughProcessor multiplex.Processor = func(ctx context.Context, ev watch.Event, pressure *primitives.Toggle,
	resourceIndexed *primitives.Toggle, operatorIndexed *primitives.ToggleSet) error {
	return nil
}

func (e *Ensemble) spawnPeering(ctx context.Context, k EnsembleKey, r resource.Resource) {
	var ns *resource.NamespaceName
	if k.Namespace != "" {
		n := k.Namespace
		ns = &n
	}

	conflicts := e.paused.MakeToggle("peering-conflicts/"+string(k.Namespace), e.settings.Peering.Mandatory)
	taskCtx, cancel := context.WithCancel(ctx)
	e.peerings[k] = &peeringEntry{cancel: cancel, conflicts: conflicts}

	pingCtx, pingCancel := context.WithCancel(ctx)
	e.pingings[k] = pingCancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := peering.Keepalive(pingCtx, e.client, e.settings, r, ns, e.identity); err != nil && pingCtx.Err() == nil {
			klog.InfoS("peering keepalive exited with error", "resource", r.Name(), "namespace", k.Namespace, "err", err)
		}
	}()

	processor := peering.MakeProcessor(e.client, e.settings, r, ns, e.identity, true, conflicts)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		events := watch.InfiniteWatch(taskCtx, e.settings, e.client, r, ns, nil)
		if err := multiplex.Watch(taskCtx, e.settings, r, ns, events, processor, e.ready, nil); err != nil && taskCtx.Err() == nil {
			klog.InfoS("peering watcher exited with error", "resource", r.Name(), "namespace", k.Namespace, "err", err)
		}
	}()
}

func (e *Ensemble) shutdown() {
	e.mu.Lock()
	for _, entry := range e.watchers {
		entry.cancel()
	}
	for _, entry := range e.peerings {
		entry.cancel()
	}
	for _, cancel := range e.pingings {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
