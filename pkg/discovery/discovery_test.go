package discovery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/discovery"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/resource"
)

func clientFor(server string) *k8sclient.Client {
	vault := credentials.NewVault(map[credentials.VaultKey]credentials.ConnectionInfo{
		"default": {Server: server, Insecure: true},
	})
	return k8sclient.NewClient(vault)
}

// discoveryMux wires up just enough of the Kubernetes discovery and
// list/watch surface for ResourceObserver and NamespaceObserver to run
// a full cycle against: "/api" (versions: v1), "/api/v1" (pods,
// namespaces), "/apis" (apiextensions.k8s.io), and
// "/apis/apiextensions.k8s.io/v1" (customresourcedefinitions).
func discoveryMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"versions": []string{"v1"}})
	})
	mux.HandleFunc("/api/v1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resources": []map[string]interface{}{
				{"name": "pods", "singularName": "pod", "kind": "Pod", "namespaced": true, "verbs": []string{"list", "watch", "patch"}},
				{"name": "namespaces", "singularName": "namespace", "kind": "Namespace", "namespaced": false, "verbs": []string{"list", "watch", "patch"}},
			},
		})
	})
	mux.HandleFunc("/apis", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"groups": []map[string]interface{}{
				{
					"name":             "apiextensions.k8s.io",
					"versions":         []map[string]interface{}{{"version": "v1"}},
					"preferredVersion": map[string]interface{}{"version": "v1"},
				},
			},
		})
	})
	mux.HandleFunc("/apis/apiextensions.k8s.io/v1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resources": []map[string]interface{}{
				{"name": "customresourcedefinitions", "singularName": "customresourcedefinition", "kind": "CustomResourceDefinition", "namespaced": false, "verbs": []string{"list", "watch"}},
			},
		})
	})
	mux.HandleFunc("/apis/apiextensions.k8s.io/v1/customresourcedefinitions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watch") == "true" {
			<-r.Context().Done()
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{}, "metadata": map[string]interface{}{"resourceVersion": "1"},
		})
	})
	mux.HandleFunc("/api/v1/namespaces", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watch") == "true" {
			<-r.Context().Done()
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"metadata": map[string]interface{}{"name": "default", "resourceVersion": "1"}},
				{"metadata": map[string]interface{}{"name": "kube-system", "resourceVersion": "1"}},
			},
			"metadata": map[string]interface{}{"resourceVersion": "1"},
		})
	})
	return mux
}

func emptyRegistry() handlers.Registry {
	return handlers.NewMapRegistry(nil)
}

func testSettings() config.Settings {
	s := config.Default()
	s.Watching.ReconnectBackoff = time.Millisecond
	return s
}

func TestResourceObserverPublishesInitialScanAndTurnsReady(t *testing.T) {
	srv := httptest.NewServer(discoveryMux(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	insights := resource.NewInsights()
	logger := logr.Discard()

	done := make(chan error, 1)
	go func() {
		done <- discovery.ResourceObserver(ctx, testSettings(), clientFor(srv.URL), emptyRegistry(), insights, logger)
	}()

	require.NoError(t, insights.ReadyResources.WaitFor(ctx, true))

	names := map[string]bool{}
	for _, r := range insights.Resources() {
		names[r.Plural] = true
	}
	assert.True(t, names["pods"])
	assert.True(t, names["namespaces"])
	assert.True(t, names["customresourcedefinitions"])

	cancel()
	<-done
}

func TestResourceObserverSkipsCRDWatchWhenScanningDisabled(t *testing.T) {
	srv := httptest.NewServer(discoveryMux(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	settings := testSettings()
	settings.Scanning.Disabled = true

	insights := resource.NewInsights()
	logger := logr.Discard()

	done := make(chan error, 1)
	go func() {
		done <- discovery.ResourceObserver(ctx, settings, clientFor(srv.URL), emptyRegistry(), insights, logger)
	}()

	require.NoError(t, insights.ReadyResources.WaitFor(ctx, true))

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNamespaceObserverListsMatchingNamespacesAndTurnsReady(t *testing.T) {
	srv := httptest.NewServer(discoveryMux(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	insights := resource.NewInsights()
	logger := logr.Discard()
	client := clientFor(srv.URL)

	resDone := make(chan error, 1)
	go func() {
		resDone <- discovery.ResourceObserver(ctx, testSettings(), client, emptyRegistry(), insights, logger)
	}()
	require.NoError(t, insights.ReadyResources.WaitFor(ctx, true))

	patterns := []resource.NamespacePattern{resource.ParseNamespacePattern("*")}

	nsDone := make(chan error, 1)
	go func() {
		nsDone <- discovery.NamespaceObserver(ctx, testSettings(), client, patterns, false, insights, logger)
	}()

	require.NoError(t, insights.ReadyNamespaces.WaitFor(ctx, true))

	names := map[resource.NamespaceName]bool{}
	for _, n := range insights.Namespaces() {
		names[n] = true
	}
	assert.True(t, names["default"])
	assert.True(t, names["kube-system"])
	assert.False(t, insights.ClusterWide())

	cancel()
	<-resDone
	<-nsDone
}

func TestNamespaceObserverClusterWideSkipsListAndWatch(t *testing.T) {
	srv := httptest.NewServer(discoveryMux(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	insights := resource.NewInsights()
	logger := logr.Discard()
	client := clientFor(srv.URL)

	resDone := make(chan error, 1)
	go func() {
		resDone <- discovery.ResourceObserver(ctx, testSettings(), client, emptyRegistry(), insights, logger)
	}()
	require.NoError(t, insights.ReadyResources.WaitFor(ctx, true))

	nsDone := make(chan error, 1)
	go func() {
		nsDone <- discovery.NamespaceObserver(ctx, testSettings(), client, nil, true, insights, logger)
	}()

	require.NoError(t, insights.ReadyNamespaces.WaitFor(ctx, true))
	assert.True(t, insights.ClusterWide())
	assert.Empty(t, insights.Namespaces())

	cancel()
	<-resDone
	<-nsDone
}
