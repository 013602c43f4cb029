// Package discovery implements the resource and namespace observers
// (C3): the goroutines that keep a shared resource.Insights snapshot
// current by scanning the API server's discovery documents and, where
// permitted, watching for CRD/Namespace changes at runtime. It is the
// Go port of kopf.reactor.observation.
package discovery

import (
	"context"

	"github.com/go-logr/logr"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// namespacesSelector and crdSelector are the two backbone resources
// the observers bootstrap against before anything else can run: the
// Namespace resource (to list/watch namespaces) and the
// CustomResourceDefinition resource (to notice new/removed CRDs).
var (
	namespacesSelector = resource.Selector{Group: "", Version: "v1", Plural: "namespaces"}
	crdSelector        = resource.Selector{Group: "apiextensions.k8s.io", Version: "v1", Plural: "customresourcedefinitions"}
)

// groupFilter computes the set of API groups worth scanning: nil means
// "every group", returned as soon as any selector leaves its Group
// unrestricted (""), matching observation.py's `None in groups` check.
// Otherwise it is the union of every selector's named group plus the
// two backbone groups discovery always needs regardless of what's
// registered.
func groupFilter(selectors []resource.Selector) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, sel := range selectors {
		if sel.Group == "" {
			return nil
		}
		filter[sel.Group] = struct{}{}
	}
	filter[namespacesSelector.Group] = struct{}{}
	filter[crdSelector.Group] = struct{}{}
	return filter
}

// ResourceObserver performs the initial full-cluster resource scan,
// publishes it into insights, then (unless scanning is disabled or
// forbidden) watches CustomResourceDefinition changes and rescans just
// the affected group on each one. It never returns under normal
// operation; it returns only on ctx cancellation or a fatal API error.
func ResourceObserver(
	ctx context.Context,
	settings config.Settings,
	client *k8sclient.Client,
	reg handlers.Registry,
	insights *resource.Insights,
	logger logr.Logger,
) error {
	groups := groupFilter(reg.Selectors())

	resources, err := client.Discover(ctx, groups)
	if err != nil {
		return reactorerrors.NewAccessError(err)
	}
	reviseResources(insights, resources, reg, "", true, logger)
	insights.ReadyResources.TurnOn()

	if settings.Scanning.Disabled {
		<-ctx.Done()
		return ctx.Err()
	}

	crdRes, ok := insights.Backbone(crdSelector)
	if !ok {
		<-ctx.Done()
		return ctx.Err()
	}

	events := watch.InfiniteWatch(ctx, settings, client, crdRes, nil, nil)
	for ev := range events {
		if ev.Bookmark != nil || ev.Raw == nil {
			continue // initial listing / bookmark: already covered by the scan above
		}
		groupName := crdGroup(ev.Raw.Object, logger)

		rescanned, err := client.Discover(ctx, map[string]struct{}{groupName: {}})
		if err != nil {
			if apiErr, ok := err.(*reactorerrors.APIError); ok && apiErr.IsForbidden() {
				logger.Info("not enough permissions to watch for resources; changes will not be noticed until restart")
				<-ctx.Done()
				return ctx.Err()
			}
			return err
		}
		reviseResources(insights, rescanned, reg, groupName, false, logger)
	}
	return nil
}

// NamespaceObserver lists namespaces matching the configured patterns,
// publishes them into insights, then watches Namespace changes. On a
// 403 (or settings.Scanning.Disabled), it degrades to the exact literal
// names present in the patterns and never watches at runtime.
func NamespaceObserver(
	ctx context.Context,
	settings config.Settings,
	client *k8sclient.Client,
	patterns []resource.NamespacePattern,
	clusterWide bool,
	insights *resource.Insights,
	logger logr.Logger,
) error {
	if err := primitives.WaitUntil(ctx, insights.Revised(), func() bool {
		_, ok := insights.Backbone(namespacesSelector)
		return ok
	}); err != nil {
		return err
	}
	nsRes, _ := insights.Backbone(namespacesSelector)

	exact := explicitNames(patterns)

	if !settings.Scanning.Disabled && !clusterWide {
		result, err := client.List(ctx, nsRes, nil)
		if err == nil {
			names := make([]resource.NamespaceName, 0, len(result.Items))
			for _, item := range result.Items {
				name, _ := objects.GetString(item, "metadata", "name")
				if matchesAny(resource.NamespaceName(name), patterns) {
					names = append(names, resource.NamespaceName(name))
				}
			}
			insights.SetNamespaces(names, false)
		} else if apiErr, ok := err.(*reactorerrors.APIError); ok && apiErr.IsForbidden() {
			logger.Info("not enough permissions to list namespaces; falling back to explicit names", "namespaces", exact)
			insights.SetNamespaces(exact, false)
		} else {
			return err
		}
	} else {
		insights.SetNamespaces(exact, clusterWide)
	}
	insights.ReadyNamespaces.TurnOn()

	if settings.Scanning.Disabled || clusterWide {
		<-ctx.Done()
		return ctx.Err()
	}

	events := watch.InfiniteWatch(ctx, settings, client, nsRes, nil, nil)
	for ev := range events {
		if ev.Bookmark != nil || ev.Raw == nil {
			continue
		}
		name, _ := objects.GetString(ev.Raw.Object, "metadata", "name")
		deletionTimestamp, _ := objects.Get(ev.Raw.Object, "metadata", "deletionTimestamp")
		deleted := ev.Raw.Type == "DELETED" || deletionTimestamp != nil
		if deleted {
			insights.RemoveNamespace(resource.NamespaceName(name))
		} else if matchesAny(resource.NamespaceName(name), patterns) {
			insights.AddNamespace(resource.NamespaceName(name))
		}
	}
	return nil
}

// crdGroup decodes a watched CustomResourceDefinition event into the real
// apiextensions/v1 type rather than reaching into the unstructured body by
// hand, so a malformed or future-schema CRD degrades to an empty group
// (skipping the rescan) instead of a silently wrong one.
func crdGroup(body objects.Body, logger logr.Logger) string {
	var crd apiextensionsv1.CustomResourceDefinition
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(body, &crd); err != nil {
		logger.Info("could not decode CustomResourceDefinition event; skipping rescan", "error", err.Error())
		return ""
	}
	return crd.Spec.Group
}

func explicitNames(patterns []resource.NamespacePattern) []resource.NamespaceName {
	var out []resource.NamespaceName
	for _, p := range patterns {
		out = append(out, resource.SelectSpecificNamespaces(p)...)
	}
	return out
}

func matchesAny(name resource.NamespaceName, patterns []resource.NamespacePattern) bool {
	for _, p := range patterns {
		if p.Match(string(name)) {
			return true
		}
	}
	return false
}

// reviseResources is the Go port of observation.py's revise_resources:
// recompute (or, when group != "", refresh just that group's slice of)
// insights.resources from the freshly-scanned resources, resolve every
// registered selector's ambiguity, drop non-watchable/non-patchable
// resources, and refresh the backbone.
func reviseResources(
	insights *resource.Insights,
	scanned []resource.Resource,
	reg handlers.Registry,
	group string,
	initial bool,
	logger logr.Logger,
) {
	selectors := append(append([]resource.Selector(nil), reg.Selectors()...), namespacesSelector, crdSelector)

	kept := make([]resource.Resource, 0, len(scanned))
	resolved := map[resource.Selector][]resource.Resource{}
	for _, sel := range selectors {
		matches := sel.Resolve(scanned)
		resolved[sel] = matches
	}

	// A resource survives if some selector resolves to exactly it (after
	// ambiguity resolution); anything an ambiguous selector rejected is
	// dropped and logged, mirroring revise_resources' two-pass approach.
	wanted := map[resource.Identity]resource.Resource{}
	for sel, matches := range resolved {
		if sel.IsSpecific() && len(matches) > 1 {
			logger.Info("ambiguous resources will not be served", "selector", sel)
			continue
		}
		for _, r := range matches {
			wanted[r.ID()] = r
		}
	}

	for _, r := range scanned {
		if _, ok := wanted[r.ID()]; !ok {
			continue
		}
		if !r.IsWatchable() {
			logger.Info("non-watchable resource will not be served", "resource", r.Name())
			continue
		}
		if !r.IsPatchable() && anyHandlerRequiresPatching(reg, r) {
			logger.Info("non-patchable resource will not be served", "resource", r.Name())
			continue
		}
		kept = append(kept, r)
	}

	indexableOf := func(r resource.Resource) bool { return false } // indexing handlers: not modeled by this Registry surface
	insights.ReplaceGroupResources(group, kept, selectors, indexableOf)
}

func anyHandlerRequiresPatching(reg handlers.Registry, r resource.Resource) bool {
	for _, h := range reg.ResourceHandlers(r) {
		if h.RequiresPatching {
			return true
		}
	}
	return false
}
