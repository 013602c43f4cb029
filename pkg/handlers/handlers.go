// Package handlers defines the core's *consumption* surface of a
// handler registry: the Handler/Cause/Filter types the handler runner
// (C7) and admission server (C10) read from, and the Registry interface
// they query. Populating a registry (the `@kopf.on.*` decorator
// equivalent) is external to this module, per spec.md's Non-goals --
// this package only describes what the core needs to read. Grounded in
// kopf.reactor.registry.Handler (tests/basic-structs/test_handler.py)
// and kopf.reactor.registries' ResourceWatchingRegistry /
// ResourceSpawningRegistry / ResourceChangingRegistry
// (tests/registries/test_operator_resources.py).
package handlers

import (
	"time"

	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/resource"
)

// HandlerID names one handler uniquely within the registries it is
// stored in; progress is keyed by it under status.kopf.progress.<id>.
type HandlerID string

// EventType is the resource-change trigger a handler reacts to.
type EventType string

const (
	EventCreate  EventType = "create"
	EventUpdate  EventType = "update"
	EventDelete  EventType = "delete"
	EventResume  EventType = "resume"
	EventAny     EventType = ""
)

// Operation is the admission-review verb a webhook handler reacts to.
type Operation string

const (
	OperationCreate  Operation = "CREATE"
	OperationUpdate  Operation = "UPDATE"
	OperationDelete  Operation = "DELETE"
	OperationConnect Operation = "CONNECT"
)

// WebhookKind distinguishes a validating webhook handler (can only
// accept/reject, never mutate) from a mutating one. It is the Go
// counterpart of kopf's WebhookType, and is irrelevant (zero-valued) on
// a resource-change handler.
type WebhookKind string

const (
	WebhookValidating WebhookKind = "validating"
	WebhookMutating   WebhookKind = "mutating"
)

// LabelFilter matches one label/annotation's value against an exact
// string, or against one of the two sentinel states, or a predicate.
type LabelFilter struct {
	Present  bool // PRESENT: any value, key must exist
	Absent   bool // ABSENT: key must be missing
	Value    string
	Predicate func(value string, present bool) bool
}

// Filter is the static, pre-invocation predicate set a handler
// registration carries: a field-path change requirement, and
// label/annotation matchers. RunCycle applies these before invoking the
// handler function at all.
type Filter struct {
	Field       []string // non-empty: only fire if diff.Reduce(Field) != empty
	Labels      map[string]LabelFilter
	Annotations map[string]LabelFilter
}

// Handler is one registered callback plus its static metadata: the
// field the handler runner and admission server need to select,
// order, filter, and invoke it without depending on its registrar.
type Handler struct {
	ID        HandlerID
	Selector  resource.Selector
	Event     EventType
	Operation Operation   // relevant only for webhook-registered handlers
	Kind      WebhookKind // relevant only for webhook-registered handlers
	Filter    Filter
	Timeout   *time.Duration
	Errors    ErrorsMode

	// RequiresPatching reports whether invoking this handler can mutate
	// the object (as opposed to a read-only watcher/validator), used by
	// discovery to decide whether a non-patchable resource must be
	// dropped entirely.
	RequiresPatching bool

	// Fn is the actual callback. Its signature is intentionally left as
	// `any` here: the calling convention (arguments, context values) is
	// owned by whatever populates the registry, outside this package's
	// scope.
	Fn func(cause Cause) (interface{}, error)
}

// ErrorsMode selects the default error-handling policy RunCycle applies
// to a plain (non-Permanent, non-Temporary) error returned by a handler.
type ErrorsMode int

const (
	ErrorsTemporary ErrorsMode = iota // default: retry with backoff
	ErrorsPermanent                   // treat as PermanentError: no retries
	ErrorsIgnored                     // log and continue, no retry, no failure recorded
)

// Cause is the context a handler is invoked with: the object body, its
// diff against last-seen state, the triggering event, and (for webhook
// handlers) the raw admission request fields.
type Cause struct {
	Body      objects.Body
	OldBody   objects.Body
	Event     EventType
	Resource  resource.Resource
	Namespace *resource.NamespaceName

	// Webhook-only fields; zero-valued for resource-change causes.
	Operation  Operation
	DryRun     bool
	UserInfo   objects.Body
	SubResource string
}

// Registry is the read-only surface the handler runner and admission
// server query. Implementations own how handlers were registered;
// they only need to answer these three questions.
type Registry interface {
	// ResourceHandlers returns every resource-change handler whose
	// selector could match res, without filtering by event/labels yet
	// (RunCycle applies Filter itself).
	ResourceHandlers(res resource.Resource) []Handler

	// WebhookHandlers returns every admission handler matching cause,
	// optionally narrowed by an id hint (non-empty selects exactly that
	// handler) and a reason hint (non-empty selects only handlers of
	// that WebhookKind), for the given operation. Mutating handlers are
	// excluded from a DELETE operation unless explicitly registered for
	// it; validating handlers are never excluded by operation alone.
	WebhookHandlers(cause Cause, idHint HandlerID, reasonHint WebhookKind, operation Operation) []Handler

	// Selectors returns the distinct selectors referenced by any handler
	// across every registry kind -- used by discovery to scope its
	// initial group filter (a nil/empty result means "all groups").
	Selectors() []resource.Selector
}
