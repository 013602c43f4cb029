package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubefabric/reactor/pkg/diff"
)

func TestCalculateEqualValuesYieldNothing(t *testing.T) {
	assert.Empty(t, diff.Calculate(nil, nil))
	assert.Empty(t, diff.Calculate(map[string]interface{}{"a": 1}, map[string]interface{}{"a": 1}))
}

func TestCalculateAddAndRemove(t *testing.T) {
	d := diff.Calculate(nil, "hello")
	assert.Equal(t, diff.Diff{{Operation: diff.OpAdd, Field: diff.FieldPath{}, Old: nil, New: "hello"}}, d)

	d = diff.Calculate("hello", nil)
	assert.Equal(t, diff.Diff{{Operation: diff.OpRemove, Field: diff.FieldPath{}, Old: "hello", New: nil}}, d)
}

func TestCalculateScalarChange(t *testing.T) {
	d := diff.Calculate(1, 2)
	assert.Equal(t, diff.Diff{{Operation: diff.OpChange, Field: diff.FieldPath{}, Old: 1, New: 2}}, d)
}

func TestCalculateNestedMapFields(t *testing.T) {
	a := map[string]interface{}{"spec": map[string]interface{}{"size": 1, "name": "x"}}
	b := map[string]interface{}{"spec": map[string]interface{}{"size": 2, "name": "x"}}

	d := diff.Calculate(a, b)
	assert.Equal(t, diff.Diff{
		{Operation: diff.OpChange, Field: diff.FieldPath{"spec", "size"}, Old: 1, New: 2},
	}, d)
}

func TestCalculateKeyAddedAndRemoved(t *testing.T) {
	a := map[string]interface{}{"keep": 1, "gone": 2}
	b := map[string]interface{}{"keep": 1, "new": 3}

	d := diff.Calculate(a, b)
	ops := map[string]diff.Operation{}
	for _, item := range d {
		ops[item.Field[0]] = item.Operation
	}
	assert.Equal(t, diff.OpAdd, ops["new"])
	assert.Equal(t, diff.OpRemove, ops["gone"])
}

func TestCalculateListIsOpaque(t *testing.T) {
	a := map[string]interface{}{"items": []interface{}{1, 2, 3}}
	b := map[string]interface{}{"items": []interface{}{1, 2}}

	d := diff.Calculate(a, b)
	assert.Len(t, d, 1)
	assert.Equal(t, diff.OpChange, d[0].Operation)
}

func TestReduceShrinksMatchingPrefix(t *testing.T) {
	d := diff.Diff{
		{Operation: diff.OpChange, Field: diff.FieldPath{"spec", "size"}, Old: 1, New: 2},
	}
	reduced := diff.Reduce(d, diff.FieldPath{"spec"})
	assert.Equal(t, diff.Diff{
		{Operation: diff.OpChange, Field: diff.FieldPath{"size"}, Old: 1, New: 2},
	}, reduced)
}

func TestReduceExpandsWholeFieldReplacement(t *testing.T) {
	d := diff.Diff{
		{
			Operation: diff.OpChange,
			Field:     diff.FieldPath{"spec"},
			Old:       map[string]interface{}{"size": 1},
			New:       map[string]interface{}{"size": 2},
		},
	}
	reduced := diff.Reduce(d, diff.FieldPath{"spec", "size"})
	assert.Equal(t, diff.Diff{
		{Operation: diff.OpChange, Field: diff.FieldPath{}, Old: 1, New: 2},
	}, reduced)
}

func TestReduceUnrelatedFieldYieldsNothing(t *testing.T) {
	d := diff.Diff{
		{Operation: diff.OpChange, Field: diff.FieldPath{"status"}, Old: 1, New: 2},
	}
	reduced := diff.Reduce(d, diff.FieldPath{"spec"})
	assert.Empty(t, reduced)
}
