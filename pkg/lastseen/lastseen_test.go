package lastseen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/lastseen"
)

func sampleBody() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":              "my-obj",
			"uid":               "abc-123",
			"resourceVersion":   "42",
			"generation":        float64(3),
			"creationTimestamp": "2024-01-01T00:00:00Z",
			"deletionTimestamp": "2024-01-02T00:00:00Z",
			"selfLink":          "/api/v1/...",
			"finalizers":        []interface{}{"kopf.zalando.org/finalizer"},
			"annotations": map[string]interface{}{
				"kubectl.kubernetes.io/last-applied-configuration": "{}",
				lastseen.Annotation:                                `{"old":"state"}`,
				"keep-me": "yes",
			},
		},
		"spec":   map[string]interface{}{"size": float64(3)},
		"status": map[string]interface{}{"kopf": map[string]interface{}{}},
	}
}

func TestSanitizeRemovesSystemFields(t *testing.T) {
	sanitized := lastseen.Sanitize(sampleBody())
	meta := sanitized["metadata"].(map[string]interface{})

	assert.NotContains(t, meta, "uid")
	assert.NotContains(t, meta, "resourceVersion")
	assert.NotContains(t, meta, "generation")
	assert.NotContains(t, meta, "creationTimestamp")
	assert.NotContains(t, meta, "deletionTimestamp")
	assert.NotContains(t, meta, "selfLink")
	assert.NotContains(t, meta, "finalizers")
	assert.NotContains(t, sanitized, "status")

	anns := meta["annotations"].(map[string]interface{})
	assert.NotContains(t, anns, lastseen.Annotation)
	assert.NotContains(t, anns, "kubectl.kubernetes.io/last-applied-configuration")
	assert.Equal(t, "yes", anns["keep-me"])
}

// TestSanitizeDigestUnaffectedByDeletionTimestamp guards against a
// deleting object rerunning already-finished handlers purely because
// apiserver stamped metadata.deletionTimestamp: the digest must be
// identical before and after that stamp appears.
func TestSanitizeDigestUnaffectedByDeletionTimestamp(t *testing.T) {
	before := sampleBody()
	delete(before["metadata"].(map[string]interface{}), "deletionTimestamp")

	after := sampleBody()
	after["metadata"].(map[string]interface{})["deletionTimestamp"] = "2024-01-02T00:00:00Z"

	assert.Equal(t, lastseen.ComputeDigest(before), lastseen.ComputeDigest(after))
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	body := sampleBody()
	_ = lastseen.Sanitize(body)
	meta := body["metadata"].(map[string]interface{})
	assert.Contains(t, meta, "uid")
}

func TestSanitizeIsIdempotent(t *testing.T) {
	once := lastseen.Sanitize(sampleBody())
	twice := lastseen.Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestHasStateAndRetrieve(t *testing.T) {
	body := sampleBody()
	assert.True(t, lastseen.HasState(body))

	state, ok := lastseen.Retrieve(body)
	require.True(t, ok)
	assert.Equal(t, "state", state["old"])
}

func TestRetrieveMissingAnnotation(t *testing.T) {
	body := map[string]interface{}{"metadata": map[string]interface{}{}}
	_, ok := lastseen.Retrieve(body)
	assert.False(t, ok)
}

func TestDigestStableAcrossKeyOrderAndEqualForEqualSanitizedState(t *testing.T) {
	a := sampleBody()
	b := sampleBody()
	// Re-insert annotations in a different order; maps are unordered in Go
	// anyway, but this keeps the intent explicit for a reader.
	b["metadata"].(map[string]interface{})["annotations"] = map[string]interface{}{
		"keep-me":            "yes",
		lastseen.Annotation:  `{"old":"state"}`,
		"kubectl.kubernetes.io/last-applied-configuration": "{}",
	}

	assert.Equal(t, lastseen.ComputeDigest(a), lastseen.ComputeDigest(b))
}

func TestDigestChangesWithMeaningfulFields(t *testing.T) {
	a := sampleBody()
	b := sampleBody()
	b["spec"] = map[string]interface{}{"size": float64(9)}
	assert.NotEqual(t, lastseen.ComputeDigest(a), lastseen.ComputeDigest(b))
}

func TestDiffAgainstNoPriorState(t *testing.T) {
	body := map[string]interface{}{
		"metadata": map[string]interface{}{"name": "x"},
		"spec":     map[string]interface{}{"size": float64(1)},
	}
	d := lastseen.Diff(body)
	assert.NotEmpty(t, d)
}

func TestRefreshStoresSanitizedEncoding(t *testing.T) {
	body := map[string]interface{}{
		"metadata": map[string]interface{}{"name": "x"},
		"spec":     map[string]interface{}{"size": float64(1)},
	}
	patch := map[string]interface{}{}
	require.NoError(t, lastseen.Refresh(body, patch))

	meta := patch["metadata"].(map[string]interface{})
	anns := meta["annotations"].(map[string]interface{})
	assert.Contains(t, anns[lastseen.Annotation], `"size":1`)
}
