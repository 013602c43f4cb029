// Package watch implements the infinite list-then-watch stream engine
// (C5): for one resource (optionally namespace-scoped), it lists the
// current objects, then watches for changes forever, reconnecting
// across disconnects, server timeouts, and 410 Gone resourceVersion
// expiry. It is the Go port of kopf.clients.watching.
package watch

import "github.com/kubefabric/reactor/pkg/k8sclient"

// Bookmark marks a synthetic point in the event stream that carries no
// object of its own. Listed is emitted exactly once per (re)connection,
// immediately after the initial List completes, letting a consumer tell
// "every object from the last full list has now been seen" apart from
// an ordinary watch event.
type Bookmark struct {
	Listed bool
}

// Event is the tagged union InfiniteWatch emits: exactly one of
// Bookmark, Raw, or Err is non-nil. Err carries a fatal stream failure
// and is always the last event sent before the channel closes.
type Event struct {
	Bookmark *Bookmark
	Raw      *k8sclient.RawEvent
	Err      error
}
