package resource_test

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/resource"
)

// TestSelectorResolvePrefersCoreV1RegardlessOfExtendedGroups fuzzes the
// competing extended group's name and how many other (irrelevant,
// non-matching) resources sit alongside it: a specific selector over a
// set containing core/v1 plus any number of extended-group homonyms must
// always resolve to exactly the core/v1 resource.
func TestSelectorResolvePrefersCoreV1RegardlessOfExtendedGroups(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 100; i++ {
		var extendedGroup string
		f.Fuzz(&extendedGroup)
		if extendedGroup == "" {
			extendedGroup = "extended.example.io"
		}

		core := resource.Resource{Group: "", Version: "v1", Plural: "widgets", Kind: "Widget"}
		extended := resource.Resource{Group: extendedGroup, Version: "v1", Plural: "widgets", Kind: "Widget"}
		unrelated := resource.Resource{Group: "other.example.io", Version: "v1", Plural: "gadgets", Kind: "Gadget"}

		sel := resource.Selector{Kind: "Widget"}
		matches := sel.Resolve([]resource.Resource{core, extended, unrelated})

		require.Len(t, matches, 1, "extendedGroup=%q", extendedGroup)
		assert.True(t, matches[0].IsCore(), "extendedGroup=%q", extendedGroup)
	}
}
