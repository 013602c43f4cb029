package handlers

import "github.com/kubefabric/reactor/pkg/resource"

// MapRegistry is a straightforward in-memory Registry: a flat slice of
// handlers, filtered on demand. It is the Go analogue of kopf's
// GlobalRegistry/OperatorRegistry pair (test_global_registry.py), kept
// deliberately simple since population is out of this module's scope --
// most real registries in front of this interface would be generated
// from decorator-style registration, which spec.md's Non-goals exclude.
type MapRegistry struct {
	handlers []Handler
}

// NewMapRegistry builds a registry from a fixed handler list.
func NewMapRegistry(hs []Handler) *MapRegistry {
	return &MapRegistry{handlers: append([]Handler(nil), hs...)}
}

// Add appends a handler, for incremental construction (e.g. by tests).
func (r *MapRegistry) Add(h Handler) {
	r.handlers = append(r.handlers, h)
}

func (r *MapRegistry) ResourceHandlers(res resource.Resource) []Handler {
	var out []Handler
	for _, h := range r.handlers {
		if h.Operation != "" {
			continue // webhook-only handler
		}
		if h.Selector.Check(res) {
			out = append(out, h)
		}
	}
	return out
}

func (r *MapRegistry) WebhookHandlers(cause Cause, idHint HandlerID, reasonHint WebhookKind, operation Operation) []Handler {
	var out []Handler
	for _, h := range r.handlers {
		if h.Operation == "" {
			continue // resource-change-only handler
		}
		if idHint != "" && h.ID != idHint {
			continue
		}
		if reasonHint != "" && h.Kind != reasonHint {
			continue
		}
		if !h.Selector.Check(cause.Resource) {
			continue
		}
		if operation == OperationDelete && h.Kind == WebhookMutating && h.Operation != OperationDelete {
			// Mutating handlers are excluded from DELETE reviews unless
			// explicitly registered for it; validating handlers keep
			// running on DELETE by default -- kept exactly as kopf's
			// admission dispatch does (see DESIGN.md Open Question #1).
			continue
		}
		if h.Operation != "" && h.Operation != operation {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (r *MapRegistry) Selectors() []resource.Selector {
	seen := map[resource.Selector]struct{}{}
	var out []resource.Selector
	for _, h := range r.handlers {
		if _, ok := seen[h.Selector]; ok {
			continue
		}
		seen[h.Selector] = struct{}{}
		out = append(out, h.Selector)
	}
	return out
}
