package diff_test

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/diff"
)

// randomBody builds a shallow JSON-like map with fuzzed leaf scalars, the
// shape diff.Calculate is actually fed in practice (a sanitized object
// body). gofuzz can't usefully fuzz an interface{} tree on its own, so it
// is only asked to fuzz the concrete leaves and key names.
func randomBody(f *fuzz.Fuzzer) map[string]interface{} {
	var keys []string
	f.NumElements(1, 4).Fuzz(&keys)

	body := make(map[string]interface{}, len(keys))
	for i, k := range keys {
		if k == "" {
			k = "field"
		}
		switch i % 3 {
		case 0:
			var s string
			f.Fuzz(&s)
			body[k] = s
		case 1:
			var n int
			f.Fuzz(&n)
			body[k] = n
		case 2:
			var nested string
			f.Fuzz(&nested)
			body[k] = map[string]interface{}{"leaf": nested}
		}
	}
	return body
}

func TestCalculateIsSymmetricUpToAddRemoveSwap(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 4)
	for i := 0; i < 200; i++ {
		a := randomBody(f)
		b := randomBody(f)

		forward := diff.Calculate(a, b)
		backward := diff.Calculate(b, a)
		require.Equal(t, len(forward), len(backward), "a=%v b=%v", a, b)

		byField := make(map[string]diff.Item, len(backward))
		for _, item := range backward {
			byField[item.Field.String()] = item
		}
		for _, item := range forward {
			swapped, ok := byField[item.Field.String()]
			require.True(t, ok, "field %v missing from reverse diff", item.Field)
			assert.Equal(t, item.Old, swapped.New)
			assert.Equal(t, item.New, swapped.Old)
			switch item.Operation {
			case diff.OpAdd:
				assert.Equal(t, diff.OpRemove, swapped.Operation)
			case diff.OpRemove:
				assert.Equal(t, diff.OpAdd, swapped.Operation)
			default:
				assert.Equal(t, item.Operation, swapped.Operation)
			}
		}
	}
}

func TestReduceIsAHomomorphismOverPresentPaths(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 3)
	for i := 0; i < 200; i++ {
		var leafKey string
		f.Fuzz(&leafKey)
		if leafKey == "" {
			leafKey = "leaf"
		}

		var oldVal, newVal string
		f.Fuzz(&oldVal)
		f.Fuzz(&newVal)

		a := map[string]interface{}{"spec": map[string]interface{}{leafKey: oldVal}}
		b := map[string]interface{}{"spec": map[string]interface{}{leafKey: newVal}}
		path := diff.FieldPath{"spec", leafKey}

		direct := diff.CalculateAt(oldVal, newVal, nil)
		reduced := diff.Reduce(diff.Calculate(a, b), path)
		assert.Equal(t, direct, reduced, "key=%q old=%q new=%q", leafKey, oldVal, newVal)
	}
}
