package diff

// Reduce re-bases d onto a sub-field addressed by path, the Go port of
// kopf's reduce_iter: a diff at "spec.size" is reducible to the diff
// under "spec" by shrinking the matching prefix off each item's field,
// and a diff that replaced the whole "spec" object is expanded into the
// finer-grained diff of the old/new values found at "size" within it.
func Reduce(d Diff, path FieldPath) Diff {
	var out Diff
	for _, item := range d {
		switch {
		case len(path) == 0:
			out = append(out, Item{Operation: item.Operation, Field: clonePath(item.Field), Old: item.Old, New: item.New})

		case len(item.Field) >= len(path) && pathsEqual(item.Field[:len(path)], path):
			out = append(out, Item{
				Operation: item.Operation,
				Field:     clonePath(item.Field[len(path):]),
				Old:       item.Old,
				New:       item.New,
			})

		case len(item.Field) < len(path) && pathsEqual(item.Field, path[:len(item.Field)]):
			tail := path[len(item.Field):]
			oldTail := resolve(item.Old, tail)
			newTail := resolve(item.New, tail)
			diffInto(oldTail, newTail, nil, &out)
		}
	}
	return out
}

func pathsEqual(a, b FieldPath) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// resolve walks value through the given key path, returning nil if any
// intermediate step is absent or not a map -- the Go analogue of kopf's
// dicts.resolve(..., assume_empty=True).
func resolve(value interface{}, path FieldPath) interface{} {
	cur := value
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}
