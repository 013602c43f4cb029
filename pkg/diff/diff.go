// Package diff implements a shallow, path-addressed structural diff over
// generic JSON-like values (maps/slices/scalars decoded from
// encoding/json), the Go port of kopf's structs.diffs module. List values
// are treated as opaque wholes -- an addition or removal of a single
// list element is reported as a change of the entire list, matching the
// original's documented limitation.
package diff

import (
	"fmt"
	"reflect"
	"sort"
)

// Operation classifies one diff item.
type Operation string

const (
	OpAdd    Operation = "add"
	OpChange Operation = "change"
	OpRemove Operation = "remove"
)

// FieldPath addresses a field by the chain of map keys leading to it; an
// empty path denotes the root value itself.
type FieldPath []string

// Item is a single recorded difference.
type Item struct {
	Operation Operation
	Field     FieldPath
	Old       interface{}
	New       interface{}
}

// Diff is an ordered sequence of Items.
type Diff []Item

// Empty is the diff of (nil, nil): always empty.
var Empty = Diff{}

// Calculate computes the diff between a (old) and b (new), starting at
// the root path. Equal values yield nothing; a nil old with a non-nil
// new is an Add; a non-nil old with a nil new is a Remove; differing
// scalar or list values are a Change; maps are recursed into key by key.
func Calculate(a, b interface{}) Diff {
	return CalculateAt(a, b, nil)
}

// CalculateAt is Calculate with an explicit base path prefixed onto
// every emitted item, used when diffing an already-resolved sub-field.
func CalculateAt(a, b interface{}, path FieldPath) Diff {
	var items Diff
	diffInto(a, b, path, &items)
	return items
}

func diffInto(a, b interface{}, path FieldPath, out *Diff) {
	if deepEqual(a, b) {
		return
	}
	switch {
	case a == nil:
		*out = append(*out, Item{Operation: OpAdd, Field: clonePath(path), Old: a, New: b})
	case b == nil:
		*out = append(*out, Item{Operation: OpRemove, Field: clonePath(path), Old: a, New: b})
	default:
		am, aIsMap := a.(map[string]interface{})
		bm, bIsMap := b.(map[string]interface{})
		if aIsMap && bIsMap {
			diffMaps(am, bm, path, out)
			return
		}
		*out = append(*out, Item{Operation: OpChange, Field: clonePath(path), Old: a, New: b})
	}
}

func diffMaps(a, b map[string]interface{}, path FieldPath, out *Diff) {
	keys := map[string]struct{}{}
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		av, aok := a[k]
		bv, bok := b[k]
		childPath := append(append(FieldPath{}, path...), k)
		switch {
		case bok && !aok:
			diffInto(nil, bv, childPath, out)
		case aok && !bok:
			diffInto(av, nil, childPath, out)
		default:
			diffInto(av, bv, childPath, out)
		}
	}
}

func deepEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func clonePath(path FieldPath) FieldPath {
	out := make(FieldPath, len(path))
	copy(out, path)
	return out
}

func (p FieldPath) String() string {
	return fmt.Sprint([]string(p))
}
