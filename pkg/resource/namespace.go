package resource

import (
	"path/filepath"
	"strings"
)

// NamespacePattern is a comma-separated list of glob patterns describing
// which namespaces an operator should watch, mirroring kopf's namespace
// pattern matching: a leading "!" marks an exclusion, later entries
// override earlier ones, and a pattern list consisting only of
// exclusions implies an implicit leading "*" inclusion so that
// "!kube-system" alone means "everything except kube-system".
type NamespacePattern struct {
	clauses []clause
}

type clause struct {
	glob    string
	exclude bool
}

// ParseNamespacePattern splits a comma-separated pattern string into a
// NamespacePattern. Whitespace around each clause is trimmed; empty
// clauses are ignored.
func ParseNamespacePattern(raw string) NamespacePattern {
	var clauses []clause
	hasInclusion := false
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "!") {
			clauses = append(clauses, clause{glob: strings.TrimPrefix(part, "!"), exclude: true})
		} else {
			clauses = append(clauses, clause{glob: part, exclude: false})
			hasInclusion = true
		}
	}
	if !hasInclusion && len(clauses) > 0 {
		clauses = append([]clause{{glob: "*", exclude: false}}, clauses...)
	}
	return NamespacePattern{clauses: clauses}
}

// Match reports whether name is accepted by the pattern: some inclusion
// clause must match it, and no exclusion clause appearing after the last
// matching inclusion may also match it. Clauses are evaluated in order,
// so a later exclusion always wins over an earlier inclusion and vice
// versa -- mirroring the original's "last matching clause decides".
func (p NamespacePattern) Match(name string) bool {
	if len(p.clauses) == 0 {
		return true
	}
	accepted := false
	for _, c := range p.clauses {
		if globMatch(c.glob, name) {
			accepted = !c.exclude
		}
	}
	return accepted
}

func globMatch(pattern, name string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	ok, err := filepath.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}

// EmptyNamespacePattern matches every namespace, used as the default
// when no --namespace flag is supplied.
func EmptyNamespacePattern() NamespacePattern {
	return NamespacePattern{}
}

// SelectSpecificNamespaces extracts the literal (non-glob) inclusion
// clauses of p -- used when namespace discovery is degraded (403
// Forbidden listing namespaces, or scanning disabled outright) and the
// operator must fall back to exactly the concrete names an operator
// named in --namespace, skipping any wildcard clause it cannot expand
// without a list call.
func SelectSpecificNamespaces(p NamespacePattern) []NamespaceName {
	var out []NamespaceName
	for _, c := range p.clauses {
		if c.exclude || isGlobPattern(c.glob) {
			continue
		}
		out = append(out, NamespaceName(c.glob))
	}
	return out
}

func isGlobPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
