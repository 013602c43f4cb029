// Package resource implements the shared description of a Kubernetes
// resource endpoint family (group/version/plural, verbs, scope), the
// fuzzy selector handlers register against, namespace name/pattern
// matching, and the Insights snapshot the discovery component publishes.
// It is the Go counterpart of kopf's structs.references module, enriched
// with the discovery metadata (kind, short names, categories, verbs)
// that the original derives ad hoc from the API discovery documents.
package resource

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceName is a concrete, already-resolved namespace. The zero value
// never denotes "all namespaces" on its own -- use a *NamespaceName to
// carry the cluster-wide case, mirroring kopf's Optional[NamespaceName].
type NamespaceName string

// Resource is an immutable descriptor of one API resource endpoint
// family, identified by (Group, Version, Plural). All other fields are
// discovery metadata carried alongside for convenience and ambiguity
// resolution; they do not participate in equality.
type Resource struct {
	Group      string
	Version    string
	Plural     string
	Singular   string
	Kind       string
	ShortNames []string
	Categories []string
	Subresources []string
	Verbs      []string
	Namespaced bool
	Preferred  bool
}

// Identity returns the (group, version, plural) triple used for equality
// and map keys. Resource itself is not comparable with == because of its
// slice fields, so callers needing a map key should use this method's
// result.
type Identity struct {
	Group   string
	Version string
	Plural  string
}

func (r Resource) ID() Identity {
	return Identity{Group: r.Group, Version: r.Version, Plural: r.Plural}
}

// Name is the fully-qualified resource name, e.g. "pods" or
// "deployments.apps".
func (r Resource) Name() string {
	return strings.Trim(fmt.Sprintf("%s.%s", r.Plural, r.Group), ".")
}

// APIVersion is the "group/version" string used in apiVersion fields,
// e.g. "apps/v1" or just "v1" for the core group.
func (r Resource) APIVersion() string {
	return strings.Trim(fmt.Sprintf("%s/%s", r.Group, r.Version), "/")
}

// IsCore reports whether this is the unnamed core/v1 group.
func (r Resource) IsCore() bool {
	return r.Group == "" && r.Version == "v1"
}

// HasVerb reports whether the discovery document advertised verb v for
// this resource (e.g. "watch", "list", "patch", "create").
func (r Resource) HasVerb(v string) bool {
	for _, have := range r.Verbs {
		if have == v {
			return true
		}
	}
	return false
}

// IsWatchable reports whether the resource can be listed and watched,
// the minimum requirement for the watch-stream engine to use it.
func (r Resource) IsWatchable() bool {
	return r.HasVerb("watch") && r.HasVerb("list")
}

// IsPatchable reports whether the resource can be PATCHed, required for
// any handler that stores progress or patches the object.
func (r Resource) IsPatchable() bool {
	return r.HasVerb("patch")
}

// HasSubresource reports whether the named subresource (e.g. "status")
// is exposed separately for this resource.
func (r Resource) HasSubresource(name string) bool {
	for _, s := range r.Subresources {
		if s == name {
			return true
		}
	}
	return false
}

// URLOptions configures Resource.URL.
type URLOptions struct {
	Server      string
	Namespace   *NamespaceName
	Name        string
	Subresource string
	Params      url.Values
}

// URL builds the REST path (or full URL, if Server is set) addressing
// this resource, optionally a specific object and subresource within
// it. It mirrors kopf's Resource.get_url: core/v1 uses "/api" instead of
// "/apis/{group}/{version}", and "namespaces/{ns}" is inserted only when
// a namespace is supplied for a namespaced resource.
func (r Resource) URL(opts URLOptions) (string, error) {
	if opts.Subresource != "" && opts.Name == "" {
		return "", fmt.Errorf("resource: subresource %q requires a specific object name", opts.Subresource)
	}

	parts := []string{r.apiRoot()}
	if r.Group != "" {
		parts = append(parts, r.Group)
	}
	parts = append(parts, r.Version)
	if opts.Namespace != nil && r.Namespaced {
		parts = append(parts, "namespaces", string(*opts.Namespace))
	}
	parts = append(parts, r.Plural)
	if opts.Name != "" {
		parts = append(parts, opts.Name)
	}
	if opts.Subresource != "" {
		parts = append(parts, opts.Subresource)
	}

	return buildURL(opts.Server, opts.Params, parts), nil
}

// VersionURL builds the discovery URL for this resource's own
// group/version listing (the per-version GET performed during the
// initial resource scan).
func (r Resource) VersionURL(server string) string {
	parts := []string{r.apiRoot()}
	if r.Group != "" {
		parts = append(parts, r.Group)
	}
	parts = append(parts, r.Version)
	return buildURL(server, nil, parts)
}

func (r Resource) apiRoot() string {
	if r.IsCore() {
		return "/api"
	}
	return "/apis"
}

func buildURL(server string, params url.Values, parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, strings.Trim(p, "/"))
		}
	}
	path := "/" + strings.Join(kept, "/")

	u := path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	if server == "" {
		return u
	}
	return strings.TrimRight(server, "/") + "/" + strings.TrimLeft(u, "/")
}
