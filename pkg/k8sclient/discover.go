package k8sclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// Discover scans the API server's discovery documents ("/api" for the
// core group, "/apis" for every named group) and returns every concrete
// resource it advertises, restricted to groups (nil means every group;
// an empty core group "" is requested via the legacy "/api" endpoint
// separately from the rest). It is the Go port of
// clients/scanning.py's scan_resources/_read_old_api/_read_new_apis/_read_version.
func (c *Client) Discover(ctx context.Context, groups map[string]struct{}) ([]resource.Resource, error) {
	var coreResources, groupResources []resource.Resource
	var coreErr, groupErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coreResources, coreErr = c.discoverCoreAPI(ctx, groups)
	}()
	go func() {
		defer wg.Done()
		groupResources, groupErr = c.discoverGroupedAPIs(ctx, groups)
	}()
	wg.Wait()

	if coreErr != nil {
		return nil, coreErr
	}
	if groupErr != nil {
		return nil, groupErr
	}
	return append(coreResources, groupResources...), nil
}

// wantsGroup reports whether groups selects g ("" == core), where a nil
// map means "every group".
func wantsGroup(groups map[string]struct{}, g string) bool {
	if groups == nil {
		return true
	}
	_, ok := groups[g]
	return ok
}

// wantsAnyNonCoreGroup reports whether groups could possibly include a
// named (non-core) group, short-circuiting the "/apis" scan entirely
// when the caller only asked for the core group.
func wantsAnyNonCoreGroup(groups map[string]struct{}) bool {
	if groups == nil {
		return true
	}
	for g := range groups {
		if g != "" {
			return true
		}
	}
	return false
}

func (c *Client) discoverCoreAPI(ctx context.Context, groups map[string]struct{}) ([]resource.Resource, error) {
	if !wantsGroup(groups, "") {
		return nil, nil
	}

	var versions []string
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		req, reqErr := newJSONRequest(ctx, http.MethodGet, strings.TrimRight(info.Server, "/")+"/api", nil)
		if reqErr != nil {
			return reqErr
		}
		applyAuth(req, info)
		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		var payload struct {
			Versions []string `json:"versions"`
		}
		if decErr := decodeJSONBody(resp, &payload); decErr != nil {
			return decErr
		}
		versions = payload.Versions
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []resource.Resource
	for _, v := range versions {
		rs, err := c.readAPIVersion(ctx, "", v, true)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (c *Client) discoverGroupedAPIs(ctx context.Context, groups map[string]struct{}) ([]resource.Resource, error) {
	if !wantsAnyNonCoreGroup(groups) {
		return nil, nil
	}

	type apiGroup struct {
		Name     string `json:"name"`
		Versions []struct {
			Version string `json:"version"`
		} `json:"versions"`
		PreferredVersion struct {
			Version string `json:"version"`
		} `json:"preferredVersion"`
	}

	var apiGroups []apiGroup
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		req, reqErr := newJSONRequest(ctx, http.MethodGet, strings.TrimRight(info.Server, "/")+"/apis", nil)
		if reqErr != nil {
			return reqErr
		}
		applyAuth(req, info)
		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		var payload struct {
			Groups []apiGroup `json:"groups"`
		}
		if decErr := decodeJSONBody(resp, &payload); decErr != nil {
			return decErr
		}
		apiGroups = payload.Groups
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []resource.Resource
	for _, g := range apiGroups {
		if !wantsGroup(groups, g.Name) {
			continue
		}
		for _, v := range g.Versions {
			preferred := v.Version == g.PreferredVersion.Version
			rs, err := c.readAPIVersion(ctx, g.Name, v.Version, preferred)
			if err != nil {
				return nil, err
			}
			out = append(out, rs...)
		}
	}
	return out, nil
}

// readAPIVersion fetches one group/version's resource list (e.g.
// "/api/v1" or "/apis/apps/v1"), translating each entry into a
// resource.Resource. A 404 is treated as "nothing here anymore" rather
// than an error, matching _read_version tolerating a group/version
// deleted out from under a concurrent rescan.
func (c *Client) readAPIVersion(ctx context.Context, group, version string, preferred bool) ([]resource.Resource, error) {
	type apiResource struct {
		Name         string   `json:"name"`
		SingularName string   `json:"singularName"`
		Kind         string   `json:"kind"`
		Namespaced   bool     `json:"namespaced"`
		ShortNames   []string `json:"shortNames"`
		Categories   []string `json:"categories"`
		Verbs        []string `json:"verbs"`
	}

	var payload struct {
		Resources []apiResource `json:"resources"`
	}
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		url := versionURL(info.Server, group, version)
		req, reqErr := newJSONRequest(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return reqErr
		}
		applyAuth(req, info)
		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		return decodeJSONBody(resp, &payload)
	})
	if err != nil {
		if apiErr, ok := err.(*reactorerrors.APIError); ok && apiErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}

	subresourcesOf := func(name string) []string {
		var subs []string
		prefix := name + "/"
		for _, r := range payload.Resources {
			if strings.HasPrefix(r.Name, prefix) {
				subs = append(subs, strings.TrimPrefix(r.Name, prefix))
			}
		}
		return subs
	}

	var out []resource.Resource
	for _, r := range payload.Resources {
		if strings.Contains(r.Name, "/") {
			continue // a subresource entry, not a top-level resource
		}
		singular := r.SingularName
		if singular == "" {
			singular = strings.ToLower(r.Kind)
		}
		out = append(out, resource.Resource{
			Group:        group,
			Version:      version,
			Plural:       r.Name,
			Singular:     singular,
			Kind:         r.Kind,
			ShortNames:   r.ShortNames,
			Categories:   r.Categories,
			Subresources: subresourcesOf(r.Name),
			Verbs:        r.Verbs,
			Namespaced:   r.Namespaced,
			Preferred:    preferred,
		})
	}
	return out, nil
}

func versionURL(server, group, version string) string {
	server = strings.TrimRight(server, "/")
	if group == "" {
		return fmt.Sprintf("%s/api/%s", server, version)
	}
	return fmt.Sprintf("%s/apis/%s/%s", server, group, version)
}
