// Package lastseen tracks the last-handled state of an object, stored
// as a JSON blob in an annotation, the Go port of kopf's
// structs.lastseen module. It is used both to decide whether an object
// changed at all since it was last fully processed, and to compute the
// field-level diff handlers receive.
package lastseen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/kubefabric/reactor/pkg/diff"
)

// Annotation is the annotation key the sanitized last-seen state is
// stored under.
const Annotation = "kopf.zalando.org/last-handled-configuration"

const kubectlLastApplied = "kubectl.kubernetes.io/last-applied-configuration"

// Digest is a content-addressed identifier of a sanitized body.
type Digest string

// Sanitize strips every field that should not participate in
// change-detection: system-assigned metadata (uid, resourceVersion,
// creationTimestamp, deletionTimestamp, selfLink, finalizers,
// generation), the last-seen annotation itself, kubectl's own
// last-applied annotation, and the framework's status subtree. The
// input is not mutated.
func Sanitize(body map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(body)

	if meta, ok := out["metadata"].(map[string]interface{}); ok {
		if anns, ok := meta["annotations"].(map[string]interface{}); ok {
			delete(anns, Annotation)
			delete(anns, kubectlLastApplied)
			if len(anns) == 0 {
				delete(meta, "annotations")
			}
		}
		delete(meta, "finalizers")
		delete(meta, "creationTimestamp")
		delete(meta, "deletionTimestamp")
		delete(meta, "selfLink")
		delete(meta, "uid")
		delete(meta, "resourceVersion")
		delete(meta, "generation")
		if len(meta) == 0 {
			delete(out, "metadata")
		}
	}

	delete(out, "status")

	return out
}

// HasState reports whether body carries a stored last-seen annotation.
func HasState(body map[string]interface{}) bool {
	_, ok := annotationValue(body)
	return ok
}

// Retrieve parses the stored last-seen annotation, if any, back into a
// generic JSON value.
func Retrieve(body map[string]interface{}) (map[string]interface{}, bool) {
	raw, ok := annotationValue(body)
	if !ok {
		return nil, false
	}
	var state map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, false
	}
	return state, true
}

func annotationValue(body map[string]interface{}) (string, bool) {
	meta, ok := body["metadata"].(map[string]interface{})
	if !ok {
		return "", false
	}
	anns, ok := meta["annotations"].(map[string]interface{})
	if !ok {
		return "", false
	}
	raw, ok := anns[Annotation].(string)
	return raw, ok
}

// Diff computes the field-level diff between the stored last-seen state
// and the sanitized current body. If no last-seen state is stored, the
// old side is treated as nil.
func Diff(body map[string]interface{}) diff.Diff {
	old, _ := Retrieve(body)
	var oldVal interface{}
	if old != nil {
		oldVal = old
	}
	newState := Sanitize(body)
	return diff.Calculate(oldVal, interface{}(newState))
}

// IsChanged reports whether the sanitized current body differs from the
// stored last-seen state.
func IsChanged(body map[string]interface{}) bool {
	return len(Diff(body)) > 0
}

// ComputeDigest computes a stable content hash of the sanitized body, using
// canonical (sorted-key) JSON so that equal states always hash equal
// regardless of field insertion order.
func ComputeDigest(body map[string]interface{}) Digest {
	sanitized := Sanitize(body)
	canon, err := json.Marshal(canonicalize(sanitized))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canon)
	return Digest(hex.EncodeToString(sum[:]))
}

// Refresh stores the sanitized current body's JSON encoding into the
// patch's last-seen annotation, to be applied alongside whatever else
// the handling cycle accumulated this run.
func Refresh(body map[string]interface{}, patch map[string]interface{}) error {
	state := Sanitize(body)
	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	meta, ok := patch["metadata"].(map[string]interface{})
	if !ok {
		meta = map[string]interface{}{}
		patch["metadata"] = meta
	}
	anns, ok := meta["annotations"].(map[string]interface{})
	if !ok {
		anns = map[string]interface{}{}
		meta["annotations"] = anns
	}
	anns[Annotation] = string(encoded)
	return nil
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
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

// canonicalize turns nested maps into a representation whose JSON
// encoding has deterministically ordered keys, since Go's
// encoding/json already sorts map[string]interface{} keys -- this
// exists to make that guarantee explicit and resilient to future
// refactors that might introduce an ordered-map type.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
