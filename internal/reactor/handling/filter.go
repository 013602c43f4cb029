package handling

import (
	"github.com/kubefabric/reactor/pkg/diff"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/objects"
)

// matchesFilter applies a handler's static, pre-invocation predicates:
// the field-path change requirement and the label/annotation matchers.
// d is the cause's diff against its last-seen state.
func matchesFilter(f handlers.Filter, body objects.Body, d diff.Diff) bool {
	if len(f.Field) > 0 && len(diff.Reduce(d, diff.FieldPath(f.Field))) == 0 {
		return false
	}
	for key, lf := range f.Labels {
		if !matchLabelFilter(lf, body, "labels", key) {
			return false
		}
	}
	for key, lf := range f.Annotations {
		if !matchLabelFilter(lf, body, "annotations", key) {
			return false
		}
	}
	return true
}

func matchLabelFilter(lf handlers.LabelFilter, body objects.Body, kind, key string) bool {
	value, present := objects.GetString(body, "metadata", kind, key)
	switch {
	case lf.Predicate != nil:
		return lf.Predicate(value, present)
	case lf.Present:
		return present
	case lf.Absent:
		return !present
	default:
		return present && value == lf.Value
	}
}

// matchesEvent reports whether a handler registered for EventAny (any
// trigger) or specifically for event.
func matchesEvent(h handlers.Handler, event handlers.EventType) bool {
	return h.Event == handlers.EventAny || h.Event == event
}
