package resource

import (
	"strings"

	"github.com/gobuffalo/flect"
)

// Selector is a partial, possibly-fuzzy description of resources, used
// both for handler registration (@kopf.on.event(...) equivalents) and
// for scoping discovery. Any subset of Group/Version may be set; exactly
// one of the "kind-ish" fields below should be set to make it specific;
// with none set, it matches EVERYTHING only when Everything is true, and
// nothing otherwise.
type Selector struct {
	Group   string
	Version string

	Kind     string
	Plural   string
	Singular string
	Shortcut string
	Category string
	AnyName  string

	// Everything, when true and all kind-ish fields above are empty,
	// matches every discovered resource (except events -- see Check).
	Everything bool
}

// IsSpecific reports whether the selector names a single object type, as
// opposed to a category or the catch-all EVERYTHING selector.
func (s Selector) IsSpecific() bool {
	return s.Kind != "" || s.Plural != "" || s.Singular != "" || s.Shortcut != "" || s.AnyName != ""
}

func isEventsResource(r Resource) bool {
	return r.Plural == "events" && (r.Group == "" || r.Group == "events.k8s.io")
}

// Check reports whether r matches this selector.
//
// Events (the core "events" resource and "events.k8s.io") are excluded
// from a bare EVERYTHING selector -- watching them by default would
// create feedback loops with the client's own event-posting -- but are
// still matched when named explicitly via Plural/Kind/etc.
func (s Selector) Check(r Resource) bool {
	if s.Group != "" && s.Group != r.Group {
		return false
	}
	if s.Version != "" && s.Version != r.Version {
		return false
	}

	switch {
	case s.Kind != "":
		return strings.EqualFold(s.Kind, r.Kind)
	case s.Plural != "":
		return s.Plural == r.Plural
	case s.Singular != "":
		return strings.EqualFold(s.Singular, r.Singular)
	case s.Shortcut != "":
		for _, sn := range r.ShortNames {
			if strings.EqualFold(s.Shortcut, sn) {
				return true
			}
		}
		return false
	case s.AnyName != "":
		return matchesAnyName(s.AnyName, r)
	case s.Category != "":
		for _, c := range r.Categories {
			if strings.EqualFold(s.Category, c) {
				return true
			}
		}
		return false
	case s.Everything:
		return !isEventsResource(r)
	default:
		return false
	}
}

// matchesAnyName accepts the name in any of its plural/singular/kind
// forms, using flect to normalise case and pluralisation the way a user
// typing "pod" or "Pods" on the command line would expect to match.
func matchesAnyName(name string, r Resource) bool {
	forms := map[string]bool{
		strings.ToLower(name):                    true,
		strings.ToLower(flect.Pluralize(name)):   true,
		strings.ToLower(flect.Singularize(name)): true,
	}
	candidates := []string{
		strings.ToLower(r.Plural),
		strings.ToLower(r.Singular),
		strings.ToLower(r.Kind),
	}
	for _, sn := range r.ShortNames {
		candidates = append(candidates, strings.ToLower(sn))
	}
	for _, c := range candidates {
		if c != "" && forms[c] {
			return true
		}
	}
	return false
}

// Resolve finds every resource among candidates matching the selector,
// then applies the core/v1 ambiguity resolver: if the selector is
// specific and more than one candidate matches, and exactly one of them
// belongs to the core/v1 group, that one is returned alone; otherwise
// all matches are returned (the caller logs and drops on ambiguity).
func (s Selector) Resolve(candidates []Resource) []Resource {
	var matches []Resource
	for _, r := range candidates {
		if s.Check(r) {
			matches = append(matches, r)
		}
	}
	if !s.IsSpecific() || len(matches) <= 1 {
		return matches
	}

	var core []Resource
	for _, r := range matches {
		if r.IsCore() {
			core = append(core, r)
		}
	}
	if len(core) == 1 {
		return core
	}
	return matches
}
