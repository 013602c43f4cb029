package peering_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/internal/reactor/peering"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/resource"
)

func peeringResource() resource.Resource {
	return resource.Resource{
		Group: "kopf.zalando.org", Version: "v1", Plural: "clusterkopfpeerings",
		Singular: "clusterkopfpeering", Kind: "ClusterKopfPeering",
		Namespaced: false, Verbs: []string{"patch"},
	}
}

func clientFor(server string) *k8sclient.Client {
	vault := credentials.NewVault(map[credentials.VaultKey]credentials.ConnectionInfo{
		"default": {Server: server, Insecure: true, Token: "test-token"},
	})
	return k8sclient.NewClient(vault)
}

func testSettings() config.Settings {
	s := config.Default()
	s.Peering.Name = "default"
	s.Peering.Priority = 0
	s.Peering.Lifetime = 60 * time.Second
	return s
}

func peeringBody(name string, status map[string]interface{}) objects.Body {
	return objects.Body{
		"metadata": objects.Body{"name": name},
		"status":   status,
	}
}

func peerEntry(priority int, lastSeen time.Time, lifetimeSeconds int) map[string]interface{} {
	return map[string]interface{}{
		"priority": priority,
		"lifetime": lifetimeSeconds,
		"lastseen": lastSeen.UTC().Format(time.RFC3339Nano),
	}
}

func TestProcessEventIgnoresObjectsThatAreNotOurPeeringName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	body := peeringBody("some-other-peering", nil)
	err := peering.ProcessEvent(context.Background(), clientFor(srv.URL), testSettings(), peeringResource(), nil,
		peering.Identity("me"), body, true, nil, nil)
	require.NoError(t, err)
}

func TestProcessEventPausesWhenHigherPriorityPeerIsLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	status := map[string]interface{}{
		"rival": peerEntry(100, time.Now(), 60),
	}
	body := peeringBody("default", status)

	conflicts := primitives.NewToggle(false, "conflicts")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := peering.ProcessEvent(ctx, clientFor(srv.URL), testSettings(), peeringResource(), nil,
		peering.Identity("me"), body, true, nil, conflicts)

	require.Error(t, err) // context deadline exceeded while sleeping out the blocker's lifetime
	assert.True(t, conflicts.IsOn())
}

func TestProcessEventWarnsButStillPausesOnSamePriorityPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	status := map[string]interface{}{
		"sibling": peerEntry(0, time.Now(), 60),
	}
	body := peeringBody("default", status)

	conflicts := primitives.NewToggle(false, "conflicts")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := peering.ProcessEvent(ctx, clientFor(srv.URL), testSettings(), peeringResource(), nil,
		peering.Identity("me"), body, true, nil, conflicts)

	require.Error(t, err)
	assert.True(t, conflicts.IsOn())
}

func TestProcessEventResumesWhenNoBlockersRemain(t *testing.T) {
	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&patched)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	body := peeringBody("default", map[string]interface{}{})
	conflicts := primitives.NewToggle(true, "conflicts")

	err := peering.ProcessEvent(context.Background(), clientFor(srv.URL), testSettings(), peeringResource(), nil,
		peering.Identity("me"), body, true, nil, conflicts)

	require.NoError(t, err)
	assert.True(t, conflicts.IsOff())
	assert.Nil(t, patched, "no dead peers and no blockers: nothing should be patched")
}

func TestProcessEventAutocleansDeadPeers(t *testing.T) {
	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&patched)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	status := map[string]interface{}{
		"ghost": peerEntry(0, time.Now().Add(-time.Hour), 60), // long expired
	}
	body := peeringBody("default", status)

	err := peering.ProcessEvent(context.Background(), clientFor(srv.URL), testSettings(), peeringResource(), nil,
		peering.Identity("me"), body, true, nil, nil)

	require.NoError(t, err)
	require.NotNil(t, patched)
	statusPatch, ok := patched["status"].(map[string]interface{})
	require.True(t, ok)
	ghostEntry, present := statusPatch["ghost"]
	require.True(t, present)
	assert.Nil(t, ghostEntry)
}

func TestTouchPostsOwnKeepaliveEntry(t *testing.T) {
	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/merge-patch+json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&patched)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	err := peering.Touch(context.Background(), clientFor(srv.URL), testSettings(), peeringResource(), nil, peering.Identity("me"), nil)
	require.NoError(t, err)

	statusPatch, ok := patched["status"].(map[string]interface{})
	require.True(t, ok)
	entry, ok := statusPatch["me"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, entry["priority"])
	assert.EqualValues(t, 60, entry["lifetime"])
}

func TestTouchWithZeroLifetimeNullsOwnEntry(t *testing.T) {
	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&patched)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	zero := time.Duration(0)
	err := peering.Touch(context.Background(), clientFor(srv.URL), testSettings(), peeringResource(), nil, peering.Identity("me"), &zero)
	require.NoError(t, err)

	statusPatch, ok := patched["status"].(map[string]interface{})
	require.True(t, ok)
	entry, present := statusPatch["me"]
	require.True(t, present)
	assert.Nil(t, entry)
}

func TestTouchIgnores404WhenStealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"kind": "Status", "message": "not found"})
	}))
	defer srv.Close()

	settings := testSettings()
	settings.Peering.Stealth = true
	err := peering.Touch(context.Background(), clientFor(srv.URL), settings, peeringResource(), nil, peering.Identity("me"), nil)
	require.NoError(t, err)
}

func TestDetectIdentityPrefersPodID(t *testing.T) {
	t.Setenv("POD_ID", "my-operator-pod-0")
	assert.Equal(t, peering.Identity("my-operator-pod-0"), peering.DetectIdentity(false))
}

func TestDetectIdentityFallsBackToUserHostWithTimestamp(t *testing.T) {
	t.Setenv("POD_ID", "")
	id := peering.DetectIdentity(false)
	assert.Contains(t, string(id), "@")
	assert.Contains(t, string(id), "/")
}

func TestDetectIdentityManualOmitsTimestampSuffix(t *testing.T) {
	t.Setenv("POD_ID", "")
	id := peering.DetectIdentity(true)
	assert.NotContains(t, string(id), "/")
}

func TestPeerIsDeadOnZeroLifetimeOrExpiredDeadline(t *testing.T) {
	alive := peering.Peer{LastSeen: time.Now(), Lifetime: time.Hour}
	assert.False(t, alive.IsDead(time.Now()))

	expired := peering.Peer{LastSeen: time.Now().Add(-2 * time.Hour), Lifetime: time.Hour}
	assert.True(t, expired.IsDead(time.Now()))

	departed := peering.Peer{LastSeen: time.Now(), Lifetime: 0}
	assert.True(t, departed.IsDead(time.Now()))
}

func TestGuessSelectorStandaloneReturnsNil(t *testing.T) {
	s := testSettings()
	s.Peering.Standalone = true
	assert.Nil(t, peering.GuessSelector(s))
}

func TestGuessSelectorPicksClusterOrNamespacedKind(t *testing.T) {
	s := testSettings()
	s.Peering.Standalone = false
	s.Peering.ClusterWide = true
	assert.Equal(t, &peering.ClusterPeerings, peering.GuessSelector(s))

	s.Peering.ClusterWide = false
	assert.Equal(t, &peering.NamespacedPeerings, peering.GuessSelector(s))
}
