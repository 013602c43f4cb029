package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/resource"
)

func podsSelector() resource.Selector {
	return resource.Selector{Group: "", Version: "v1", Plural: "pods"}
}

func pods() resource.Resource {
	return resource.Resource{Group: "", Version: "v1", Plural: "pods", Kind: "Pod"}
}

func TestResourceHandlersFiltersBySelectorAndExcludesWebhookOnly(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "watch-pods", Selector: podsSelector()},
		{ID: "validate-pods", Selector: podsSelector(), Operation: handlers.OperationCreate},
	})

	got := reg.ResourceHandlers(pods())
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("watch-pods"), got[0].ID)
}

func TestWebhookHandlersFiltersByOperation(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "validate-create", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookValidating},
		{ID: "validate-delete", Selector: podsSelector(), Operation: handlers.OperationDelete, Kind: handlers.WebhookValidating},
	})

	cause := handlers.Cause{Resource: pods()}
	got := reg.WebhookHandlers(cause, "", "", handlers.OperationDelete)
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("validate-delete"), got[0].ID)
}

// TestWebhookHandlersExcludesMutatingFromDeleteByDefault guards the
// DELETE exclusion actually depending on handler kind, not merely on
// whatever single Operation a handler happens to be registered with: a
// validating handler registered for CREATE/UPDATE/CONNECT must still
// run on DELETE, while a mutating handler in the same position must not.
func TestWebhookHandlersExcludesMutatingFromDeleteByDefault(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "validate", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookValidating},
		{ID: "mutate", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookMutating},
	})

	cause := handlers.Cause{Resource: pods()}
	got := reg.WebhookHandlers(cause, "", "", handlers.OperationDelete)
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("validate"), got[0].ID)
}

func TestWebhookHandlersRunsMutatingOnDeleteWhenExplicitlyRegistered(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "validate", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookValidating},
		{ID: "mutate-delete", Selector: podsSelector(), Operation: handlers.OperationDelete, Kind: handlers.WebhookMutating},
	})

	cause := handlers.Cause{Resource: pods()}
	got := reg.WebhookHandlers(cause, "", "", handlers.OperationDelete)
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("mutate-delete"), got[0].ID)
}

func TestWebhookHandlersHonorsIDHint(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "a", Selector: podsSelector(), Operation: handlers.OperationCreate},
		{ID: "b", Selector: podsSelector(), Operation: handlers.OperationCreate},
	})

	cause := handlers.Cause{Resource: pods()}
	got := reg.WebhookHandlers(cause, "b", "", handlers.OperationCreate)
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("b"), got[0].ID)
}

func TestWebhookHandlersHonorsReasonHint(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "validate", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookValidating},
		{ID: "mutate", Selector: podsSelector(), Operation: handlers.OperationCreate, Kind: handlers.WebhookMutating},
	})

	cause := handlers.Cause{Resource: pods()}
	got := reg.WebhookHandlers(cause, "", handlers.WebhookMutating, handlers.OperationCreate)
	require.Len(t, got, 1)
	assert.Equal(t, handlers.HandlerID("mutate"), got[0].ID)
}

func TestSelectorsDeduplicates(t *testing.T) {
	reg := handlers.NewMapRegistry([]handlers.Handler{
		{ID: "a", Selector: podsSelector()},
		{ID: "b", Selector: podsSelector()},
	})
	assert.Len(t, reg.Selectors(), 1)
}
