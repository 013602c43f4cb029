// Package objects defines the shared representation of a Kubernetes
// object body and the merge-patch accumulator built up against it over
// one handling cycle, used by every package that reads or writes
// object state: progress, lastseen, handling, admission.
package objects

// Body is a decoded Kubernetes object, exactly as received from the API
// (a JSON object turned into nested maps/slices/scalars by
// encoding/json). It is a type alias, not a distinct type, so existing
// map[string]interface{} values -- e.g. from pkg/lastseen or
// encoding/json.Unmarshal directly -- are usable as a Body with no
// conversion.
type Body = map[string]interface{}

// Get walks body through a dotted path of map keys, returning (nil,
// false) as soon as any step is absent or not a map.
func Get(body Body, path ...string) (interface{}, bool) {
	var cur interface{} = body
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is Get with a string type assertion.
func GetString(body Body, path ...string) (string, bool) {
	v, ok := Get(body, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// UID extracts the object's identity: metadata.uid when present, else a
// synthesized identifier from (kind, apiVersion, name, namespace,
// creationTimestamp) -- covering the rare case of an object observed
// before the API server assigned it a UID (e.g. certain admission
// review payloads), per spec.md's "Object identity" rule.
func UID(body Body) string {
	if uid, ok := GetString(body, "metadata", "uid"); ok && uid != "" {
		return uid
	}
	kind, _ := GetString(body, "kind")
	apiVersion, _ := GetString(body, "apiVersion")
	name, _ := GetString(body, "metadata", "name")
	namespace, _ := GetString(body, "metadata", "namespace")
	created, _ := GetString(body, "metadata", "creationTimestamp")
	return kind + "/" + apiVersion + "/" + namespace + "/" + name + "/" + created
}
