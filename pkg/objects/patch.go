package objects

import (
	"encoding/json"
	"strings"

	"github.com/kubefabric/reactor/pkg/diff"
)

// Patch accumulates a JSON merge patch (RFC 7386) over an object's
// metadata/status/spec during one handling cycle. It is built up by
// many independent handlers writing into disjoint or overlapping
// subtrees, then applied once as a single PATCH request, or converted
// to an RFC 6902 JSON Patch for an admission response.
type Patch struct {
	data map[string]interface{}
}

// NewPatch returns an empty accumulator.
func NewPatch() *Patch {
	return &Patch{data: map[string]interface{}{}}
}

// IsEmpty reports whether nothing has been written into the patch yet.
func (p *Patch) IsEmpty() bool {
	return len(p.data) == 0
}

// SetIn writes value at the given dotted path, creating intermediate
// maps as needed and merging into (rather than replacing) any map
// already present at a shared prefix.
func (p *Patch) SetIn(path []string, value interface{}) {
	if len(path) == 0 {
		return
	}
	cur := p.data
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// GetIn reads back a value previously staged via SetIn, for handlers
// that build on top of what an earlier stage in the same cycle wrote.
func (p *Patch) GetIn(path []string) (interface{}, bool) {
	return Get(p.data, path...)
}

// DeleteIn stages a deletion of the given path: a merge patch represents
// field removal with an explicit JSON null at that key.
func (p *Patch) DeleteIn(path []string) {
	p.SetIn(path, nil)
}

// Raw exposes the underlying merge-patch map, e.g. for
// encoding/json.Marshal by the API client's PATCH request body.
func (p *Patch) Raw() map[string]interface{} {
	return p.data
}

// MarshalJSON implements json.Marshaler, emitting the merge patch body.
func (p *Patch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.data)
}

// Apply merges the patch onto a deep copy of body and returns the
// result, per RFC 7386 merge-patch semantics: a null value deletes the
// key, a map value is merged recursively, anything else replaces.
// Used by tests and by AsJSONPatch to compute the post-patch body.
func (p *Patch) Apply(body Body) Body {
	result := deepCopy(body)
	mergeInto(result, p.data)
	return result
}

func mergeInto(dst map[string]interface{}, patch map[string]interface{}) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if vm, ok := v.(map[string]interface{}); ok {
			dm, ok := dst[k].(map[string]interface{})
			if !ok {
				dm = map[string]interface{}{}
			}
			mergeInto(dm, vm)
			dst[k] = dm
			continue
		}
		dst[k] = v
	}
}

func deepCopy(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// jsonPatchOp is one RFC 6902 operation.
type jsonPatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// AsJSONPatch converts this merge patch into an RFC 6902 JSON Patch
// operation list relative to original, by applying the merge patch and
// then structurally diffing original against the result. Admission
// webhooks must respond with RFC 6902 patches regardless of how the
// patch was accumulated internally.
func (p *Patch) AsJSONPatch(original Body) ([]byte, error) {
	modified := p.Apply(original)
	items := diff.Calculate(interface{}(original), interface{}(modified))

	ops := make([]jsonPatchOp, 0, len(items))
	for _, item := range items {
		path := toJSONPointer(item.Field)
		switch item.Operation {
		case diff.OpAdd:
			ops = append(ops, jsonPatchOp{Op: "add", Path: path, Value: item.New})
		case diff.OpRemove:
			ops = append(ops, jsonPatchOp{Op: "remove", Path: path})
		case diff.OpChange:
			ops = append(ops, jsonPatchOp{Op: "replace", Path: path, Value: item.New})
		}
	}
	return json.Marshal(ops)
}

func toJSONPointer(field diff.FieldPath) string {
	if len(field) == 0 {
		return ""
	}
	escaped := make([]string, len(field))
	for i, seg := range field {
		seg = strings.ReplaceAll(seg, "~", "~0")
		seg = strings.ReplaceAll(seg, "/", "~1")
		escaped[i] = seg
	}
	return "/" + strings.Join(escaped, "/")
}
