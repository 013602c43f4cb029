package k8sclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kubefabric/reactor/internal/jsonlines"
	"github.com/kubefabric/reactor/internal/truncate"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// ListResult is the outcome of a List call: the decoded items plus the
// resourceVersion the watch engine must resume from afterwards.
type ListResult struct {
	Items           []objects.Body
	ResourceVersion string
}

// List fetches every current object of res (optionally scoped to ns),
// the Go port of clients/fetching.py's list_objs.
func (c *Client) List(ctx context.Context, res resource.Resource, ns *resource.NamespaceName) (ListResult, error) {
	var result ListResult
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		reqURL, urlErr := res.URL(resource.URLOptions{
			Server:    info.Server,
			Namespace: defaultNamespace(info, ns),
		})
		if urlErr != nil {
			return urlErr
		}
		req, reqErr := newJSONRequest(ctx, http.MethodGet, reqURL, nil)
		if reqErr != nil {
			return reqErr
		}
		applyAuth(req, info)

		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}

		var payload struct {
			Items    []objects.Body `json:"items"`
			Metadata struct {
				ResourceVersion string `json:"resourceVersion"`
			} `json:"metadata"`
		}
		if decErr := decodeJSONBody(resp, &payload); decErr != nil {
			return decErr
		}
		result = ListResult{Items: payload.Items, ResourceVersion: payload.Metadata.ResourceVersion}
		return nil
	})
	return result, err
}

// RawEvent is one decoded watch-stream line: its type tag (ADDED,
// MODIFIED, DELETED, ERROR, BOOKMARK) and the embedded object.
type RawEvent struct {
	Type   string
	Object objects.Body
}

// Watch opens a watch stream for res starting at resourceVersion,
// decoding the JSON-lines body as it arrives and sending each event to
// the returned channel. The channel is closed when the stream ends
// (server timeout, EOF, or ctx cancellation); the caller inspects err
// (set once, read only after the channel closes) to distinguish a clean
// end from a failure. This is the streaming counterpart of
// clients/watching.py's infinite_watch's underlying single watch call.
func (c *Client) Watch(
	ctx context.Context,
	res resource.Resource,
	ns *resource.NamespaceName,
	resourceVersion string,
	timeoutSeconds int,
) (<-chan RawEvent, <-chan error) {
	events := make(chan RawEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
			params := url.Values{}
			params.Set("watch", "true")
			if resourceVersion != "" {
				params.Set("resourceVersion", resourceVersion)
			}
			if timeoutSeconds > 0 {
				params.Set("timeoutSeconds", strconv.Itoa(timeoutSeconds))
			}
			params.Set("allowWatchBookmarks", "true")

			reqURL, urlErr := res.URL(resource.URLOptions{
				Server:    info.Server,
				Namespace: defaultNamespace(info, ns),
				Params:    params,
			})
			if urlErr != nil {
				return urlErr
			}
			req, reqErr := newJSONRequest(ctx, http.MethodGet, reqURL, nil)
			if reqErr != nil {
				return reqErr
			}
			applyAuth(req, info)

			resp, doErr := httpClient.Do(req)
			if doErr != nil {
				return doErr
			}
			defer resp.Body.Close()
			if checkErr := checkResponse(resp); checkErr != nil {
				return checkErr
			}

			dec := jsonlines.NewDecoder(resp.Body)
			for {
				line, nextErr := dec.Next()
				if nextErr != nil {
					if errors.Is(nextErr, io.EOF) {
						return nil
					}
					return reactorerrors.NewWatchingError(nextErr)
				}
				var raw struct {
					Type   string       `json:"type"`
					Object objects.Body `json:"object"`
				}
				if jsonErr := json.Unmarshal(line, &raw); jsonErr != nil {
					return reactorerrors.NewWatchingError(jsonErr)
				}
				select {
				case events <- RawEvent{Type: raw.Type, Object: raw.Object}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
		if err != nil {
			errc <- err
		}
		close(errc)
	}()

	return events, errc
}

// Patch applies patch to res/name via a JSON merge-patch request, the
// Go port of clients/patching.py's patch_obj.
func (c *Client) Patch(ctx context.Context, res resource.Resource, ns *resource.NamespaceName, name string, patch *objects.Patch) (objects.Body, error) {
	var result objects.Body
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		reqURL, urlErr := res.URL(resource.URLOptions{
			Server:    info.Server,
			Namespace: defaultNamespace(info, ns),
			Name:      name,
		})
		if urlErr != nil {
			return urlErr
		}
		req, reqErr := newJSONRequest(ctx, http.MethodPatch, reqURL, patch)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/merge-patch+json")
		applyAuth(req, info)

		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		return decodeJSONBody(resp, &result)
	})
	return result, err
}

// Create posts a new object of res into ns, the Go port of
// clients/creating.py's create_obj.
func (c *Client) Create(ctx context.Context, res resource.Resource, ns *resource.NamespaceName, body objects.Body) (objects.Body, error) {
	var result objects.Body
	err := c.do(ctx, func(httpClient *http.Client, info credentials.ConnectionInfo) error {
		reqURL, urlErr := res.URL(resource.URLOptions{
			Server:    info.Server,
			Namespace: defaultNamespace(info, ns),
		})
		if urlErr != nil {
			return urlErr
		}
		req, reqErr := newJSONRequest(ctx, http.MethodPost, reqURL, body)
		if reqErr != nil {
			return reqErr
		}
		applyAuth(req, info)

		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		return decodeJSONBody(resp, &result)
	})
	return result, err
}

// maxEventMessageLength mirrors kopf's clients/events.py MAX_MESSAGE_LENGTH.
const maxEventMessageLength = 1024

// eventInfixCut is the marker spliced into an over-long event message.
const eventInfixCut = "..."

// PostEvent records a Kubernetes Event about the given object. It
// tolerates API failures by returning them to the caller rather than
// retrying -- per spec.md §4.2, a logging failure here must never break
// the handling cycle it describes -- and it never posts an event whose
// own involvedObject is itself an Event, which would start an
// event-about-events feedback loop.
func (c *Client) PostEvent(ctx context.Context, eventsRes resource.Resource, ns *resource.NamespaceName, involvedObject objects.Body, eventType, reason, message string) error {
	kind, _ := objects.GetString(involvedObject, "kind")
	if kind == "Event" {
		return nil
	}

	message = truncate.Middle(message, maxEventMessageLength, eventInfixCut)

	name, _ := objects.GetString(involvedObject, "metadata", "name")
	uid, _ := objects.GetString(involvedObject, "metadata", "uid")
	apiVersion, _ := objects.GetString(involvedObject, "apiVersion")
	namespace, _ := objects.GetString(involvedObject, "metadata", "namespace")
	resourceVersion, _ := objects.GetString(involvedObject, "metadata", "resourceVersion")

	body := objects.Body{
		"metadata": objects.Body{
			"generateName": name + "-",
			"namespace":    namespace,
		},
		"involvedObject": objects.Body{
			"apiVersion":      apiVersion,
			"kind":            kind,
			"name":            name,
			"uid":             uid,
			"namespace":       namespace,
			"resourceVersion": resourceVersion,
		},
		"type":    eventType,
		"reason":  reason,
		"message": message,
		"source": objects.Body{
			"component": "kubefabric",
		},
	}

	_, err := c.Create(ctx, eventsRes, ns, body)
	return err
}

func applyAuth(req *http.Request, info credentials.ConnectionInfo) {
	switch {
	case info.Token != "":
		scheme := info.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}
		req.Header.Set("Authorization", fmt.Sprintf("%s %s", scheme, info.Token))
	case info.Username != "":
		req.SetBasicAuth(info.Username, info.Password)
	}
}
