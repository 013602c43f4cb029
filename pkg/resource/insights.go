package resource

import (
	"sync"

	"github.com/kubefabric/reactor/pkg/primitives"
)

// Insights is the mutable, concurrently-read snapshot of cluster
// discovery state published by the discovery component (C3) and
// consumed by the watch engine, admission server, and orchestrator. It
// follows a single-writer-many-readers pattern: only the resource and
// namespace observers mutate it, everyone else takes a snapshot or
// subscribes to Revised.
type Insights struct {
	mu sync.RWMutex

	resources  map[Identity]Resource
	indexable  map[Identity]Resource
	namespaces map[NamespaceName]struct{}
	clusterWide bool
	backbone   map[Selector]Resource

	// ReadyResources turns on once the initial resource scan has
	// populated Resources/Backbone at least once.
	ReadyResources *primitives.Toggle
	// ReadyNamespaces turns on once the initial namespace list has run.
	ReadyNamespaces *primitives.Toggle

	revised *revisedCondition
}

// revisedCondition is the "single monotonically-notified condition" the
// spec requires: every mutation bumps a version and broadcasts, and it
// also implements primitives.Broadcaster so orchestration can chain its
// own wakeup condition off of it.
type revisedCondition struct {
	mu        sync.Mutex
	cond      *sync.Cond
	version   uint64
	observers map[int]func()
	nextID    int
}

func newRevisedCondition() *revisedCondition {
	c := &revisedCondition{observers: map[int]func(){}}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *revisedCondition) notify() {
	c.mu.Lock()
	c.version++
	fns := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	c.cond.Broadcast()
	for _, fn := range fns {
		fn()
	}
}

// Subscribe implements primitives.Broadcaster.
func (c *revisedCondition) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

var _ primitives.Broadcaster = (*revisedCondition)(nil)

// NewInsights creates an empty Insights snapshot.
func NewInsights() *Insights {
	return &Insights{
		resources:      map[Identity]Resource{},
		indexable:      map[Identity]Resource{},
		namespaces:     map[NamespaceName]struct{}{},
		backbone:       map[Selector]Resource{},
		ReadyResources: primitives.NewToggle(false, "ready_resources"),
		ReadyNamespaces: primitives.NewToggle(false, "ready_namespaces"),
		revised:        newRevisedCondition(),
	}
}

// Revised exposes the change-notification condition for subscription,
// e.g. by an orchestration.ConditionChain.
func (in *Insights) Revised() primitives.Broadcaster {
	return in.revised
}

// ReplaceGroupResources atomically swaps the slice of resources
// belonging to one API group, leaving all other groups untouched, per
// the discovery component's "rescan the affected group only" behaviour.
// Selectors are (re-)resolved against the full resulting resource set to
// refresh the backbone map.
func (in *Insights) ReplaceGroupResources(group string, resources []Resource, selectors []Selector, indexableOf func(Resource) bool) {
	in.mu.Lock()
	for id, r := range in.resources {
		if r.Group == group {
			delete(in.resources, id)
			delete(in.indexable, id)
		}
	}
	for _, r := range resources {
		in.resources[r.ID()] = r
		if indexableOf != nil && indexableOf(r) {
			in.indexable[r.ID()] = r
		}
	}
	in.rebuildBackboneLocked(selectors)
	in.mu.Unlock()
	in.revised.notify()
}

// rebuildBackboneLocked must be called with mu held for writing.
func (in *Insights) rebuildBackboneLocked(selectors []Selector) {
	all := make([]Resource, 0, len(in.resources))
	for _, r := range in.resources {
		all = append(all, r)
	}
	for _, sel := range selectors {
		matches := sel.Resolve(all)
		if len(matches) == 1 {
			in.backbone[sel] = matches[0]
		} else {
			delete(in.backbone, sel)
		}
	}
}

// Resources returns a snapshot slice of all currently known resources.
func (in *Insights) Resources() []Resource {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Resource, 0, len(in.resources))
	for _, r := range in.resources {
		out = append(out, r)
	}
	return out
}

// Backbone resolves a selector to its single matching resource, as
// established by the most recent rebuild, returning false if the
// selector is not (yet, or unambiguously) resolved.
func (in *Insights) Backbone(sel Selector) (Resource, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	r, ok := in.backbone[sel]
	return r, ok
}

// IsIndexable reports whether r has at least one index handler
// registered against it, per ReplaceGroupResources' indexableOf
// classification. The orchestrator uses this to decide whether a
// watcher needs an "operator-indexed" readiness sub-toggle at all.
func (in *Insights) IsIndexable(r Resource) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.indexable[r.ID()]
	return ok
}

// SetNamespaces atomically replaces the known namespace set.
func (in *Insights) SetNamespaces(names []NamespaceName, clusterWide bool) {
	in.mu.Lock()
	in.namespaces = make(map[NamespaceName]struct{}, len(names))
	for _, n := range names {
		in.namespaces[n] = struct{}{}
	}
	in.clusterWide = clusterWide
	in.mu.Unlock()
	in.revised.notify()
}

// AddNamespace inserts a single namespace (on an ADDED/MODIFIED event
// whose name matches the configured pattern).
func (in *Insights) AddNamespace(name NamespaceName) {
	in.mu.Lock()
	in.namespaces[name] = struct{}{}
	in.mu.Unlock()
	in.revised.notify()
}

// RemoveNamespace deletes a single namespace (on DELETED, or on a
// deletionTimestamp being set).
func (in *Insights) RemoveNamespace(name NamespaceName) {
	in.mu.Lock()
	delete(in.namespaces, name)
	in.mu.Unlock()
	in.revised.notify()
}

// Namespaces returns a snapshot slice of currently known namespaces.
func (in *Insights) Namespaces() []NamespaceName {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]NamespaceName, 0, len(in.namespaces))
	for n := range in.namespaces {
		out = append(out, n)
	}
	return out
}

// ClusterWide reports whether the operator is configured to watch
// cluster-wide (no namespace restriction) rather than a concrete set.
func (in *Insights) ClusterWide() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.clusterWide
}
