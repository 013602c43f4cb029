package resource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubefabric/reactor/pkg/resource"
)

func podsResource() resource.Resource {
	return resource.Resource{
		Group: "", Version: "v1", Plural: "pods", Singular: "pod", Kind: "Pod",
		ShortNames: []string{"po"}, Namespaced: true,
		Verbs: []string{"get", "list", "watch", "patch", "create"},
	}
}

func deploymentsResource() resource.Resource {
	return resource.Resource{
		Group: "apps", Version: "v1", Plural: "deployments", Singular: "deployment", Kind: "Deployment",
		ShortNames: []string{"deploy"}, Namespaced: true,
		Verbs: []string{"get", "list", "watch", "patch"},
	}
}

func TestResourceNameAndAPIVersion(t *testing.T) {
	assert.Equal(t, "pods", podsResource().Name())
	assert.Equal(t, "v1", podsResource().APIVersion())
	assert.Equal(t, "deployments.apps", deploymentsResource().Name())
	assert.Equal(t, "apps/v1", deploymentsResource().APIVersion())
}

func TestResourceIsCore(t *testing.T) {
	assert.True(t, podsResource().IsCore())
	assert.False(t, deploymentsResource().IsCore())
}

func TestResourceVerbs(t *testing.T) {
	assert.True(t, podsResource().IsWatchable())
	assert.True(t, podsResource().IsPatchable())

	notWatchable := resource.Resource{Verbs: []string{"get", "list"}}
	assert.False(t, notWatchable.IsWatchable())
}

func TestResourceURLCoreNamespaced(t *testing.T) {
	ns := resource.NamespaceName("default")
	u, err := podsResource().URL(resource.URLOptions{Namespace: &ns, Name: "my-pod"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/namespaces/default/pods/my-pod", u)
}

func TestResourceURLGroupClusterWide(t *testing.T) {
	u, err := deploymentsResource().URL(resource.URLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/apis/apps/v1/deployments", u)
}

func TestResourceURLWithServerAndSubresource(t *testing.T) {
	ns := resource.NamespaceName("kube-system")
	u, err := deploymentsResource().URL(resource.URLOptions{
		Server: "https://example.com:6443/", Namespace: &ns, Name: "coredns", Subresource: "status",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:6443/apis/apps/v1/namespaces/kube-system/deployments/coredns/status", u)
}

func TestResourceURLSubresourceWithoutNameFails(t *testing.T) {
	_, err := podsResource().URL(resource.URLOptions{Subresource: "status"})
	assert.Error(t, err)
}

func TestResourceURLWithParams(t *testing.T) {
	u, err := podsResource().URL(resource.URLOptions{Params: map[string][]string{"watch": {"1"}}})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/pods?watch=1", u)
}

func TestResourceVersionURL(t *testing.T) {
	assert.Equal(t, "/apis/apps/v1", deploymentsResource().VersionURL(""))
	assert.Equal(t, "/api/v1", podsResource().VersionURL(""))
}
