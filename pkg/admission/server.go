// Package admission implements C10, the admission webhook serving core:
// given a raw AdmissionReview request, reconstruct the handler.Cause it
// describes, resolve the resource it targets, invoke the matching
// webhook handlers, and fold their results into an AdmissionReview
// response. It is the Go port of kopf.reactor.admission.
package admission

import (
	"context"
	"encoding/base64"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/handling"
	"github.com/kubefabric/reactor/pkg/admission/reviews"
	"github.com/kubefabric/reactor/pkg/admission/tunnel"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/reactorerrors"
	"github.com/kubefabric/reactor/pkg/resource"
)

// Server dispatches AdmissionReview requests against a handler Registry,
// resolving the reviewed resource against an Insights snapshot.
type Server struct {
	Registry handlers.Registry
	Insights *resource.Insights

	// ClientConfig receives the endpoint's current WebhookClientConfig
	// (URL + CABundle) every time Serve's Endpoint publishes one, so a
	// caller managing a ValidatingWebhookConfiguration/
	// MutatingWebhookConfiguration can keep it in sync.
	ClientConfig *primitives.Container[reviews.WebhookClientConfig]
}

// NewServer builds a Server with a fresh ClientConfig container.
func NewServer(reg handlers.Registry, insights *resource.Insights) *Server {
	return &Server{
		Registry:     reg,
		Insights:     insights,
		ClientConfig: primitives.NewContainer[reviews.WebhookClientConfig](),
	}
}

// Serve waits for the initial resource scan (matching kopf's refusal to
// answer admission requests before discovery has run at least once),
// then serves endpoint until ctx is done.
func (s *Server) Serve(ctx context.Context, endpoint tunnel.Endpoint) error {
	if err := s.Insights.ReadyResources.WaitFor(ctx, true); err != nil {
		return err
	}
	return endpoint.Serve(ctx, s.dispatch, s.ClientConfig)
}

// Dispatch runs a Server's dispatch logic directly, without going
// through a tunnel.Endpoint -- exported for tests exercising the
// request-to-response translation in isolation.
func Dispatch(s *Server, req reviews.Request, meta reviews.RequestMeta) (reviews.Response, error) {
	return s.dispatch(req, meta)
}

// dispatch is the reviews.WebhookFn this Server hands to its Endpoint.
func (s *Server) dispatch(req reviews.Request, meta reviews.RequestMeta) (reviews.Response, error) {
	ctx := context.Background()

	idHint := handlers.HandlerID(meta.Webhook)
	operation := handlers.Operation(req.Request.Operation)

	cause, err := s.buildCause(req)
	if err != nil {
		return reviews.Response{}, err
	}

	selected := s.Registry.WebhookHandlers(cause, idHint, meta.Reason, operation)

	var errs []error
	patch := objects.NewPatch()
	for _, h := range selected {
		result, err := handling.Invoke(ctx, h, cause)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if mutation, ok := result.(map[string]interface{}); ok {
			for k, v := range mutation {
				patch.SetIn([]string{k}, v)
			}
		}
	}

	return s.buildResponse(req, cause.Body, patch, errs)
}

// buildCause reconstructs a handlers.Cause from the raw AdmissionReview
// request, the Go port of kopf's request-to-cause translation in
// serve_admission_request.
func (s *Server) buildCause(req reviews.Request) (handlers.Cause, error) {
	payload := req.Request

	body := objects.Body(payload.Object)
	if body == nil {
		body = objects.Body(payload.OldObject)
	}
	if body == nil {
		return handlers.Cause{}, reactorerrors.NewMissingDataError("admission request carries neither object nor oldObject")
	}
	if payload.UserInfo == nil {
		return handlers.Cause{}, reactorerrors.NewMissingDataError("admission request carries no userInfo")
	}

	res, err := s.findResource(payload.Resource)
	if err != nil {
		return handlers.Cause{}, err
	}

	var ns *resource.NamespaceName
	if payload.Namespace != "" {
		n := resource.NamespaceName(payload.Namespace)
		ns = &n
	}

	return handlers.Cause{
		Body:        body,
		OldBody:     objects.Body(payload.OldObject),
		Event:       handlers.EventAny,
		Resource:    res,
		Namespace:   ns,
		Operation:   handlers.Operation(payload.Operation),
		DryRun:      payload.DryRun,
		UserInfo:    objects.Body(payload.UserInfo),
		SubResource: payload.SubResource,
	}, nil
}

// findResource resolves an AdmissionReview's (group, version, resource)
// triple against the current discovery snapshot, the Go port of kopf's
// find_resource.
func (s *Server) findResource(req reviews.RequestResource) (resource.Resource, error) {
	sel := resource.Selector{Group: req.Group, Version: req.Version, Plural: req.Resource}
	matches := sel.Resolve(s.Insights.Resources())

	switch len(matches) {
	case 0:
		return resource.Resource{}, reactorerrors.NewUnknownResourceError(
			fmt.Sprintf("no resource matches %s/%s %s", req.Group, req.Version, req.Resource))
	case 1:
		return matches[0], nil
	default:
		return resource.Resource{}, reactorerrors.NewAmbiguousResourceError(
			fmt.Sprintf("more than one resource matches %s/%s %s", req.Group, req.Version, req.Resource))
	}
}

// buildResponse folds the handler outcomes into an AdmissionReview
// response, the Go port of kopf's build_response: a single
// most-specific error wins the allowed/status fields, while any
// accumulated patch is always returned regardless of allowed, letting a
// validating and mutating handler coexist on the same request.
func (s *Server) buildResponse(req reviews.Request, body objects.Body, patch *objects.Patch, errs []error) (reviews.Response, error) {
	resp := reviews.ResponsePayload{
		UID:     req.Request.UID,
		Allowed: true,
	}

	if err := reactorerrors.SelectMostSpecific(errs); err != nil {
		resp.Allowed = false
		resp.Status = &reviews.ResponseStatus{
			Message: err.Error(),
			Code:    reactorerrors.AdmissionCode(err),
		}
		klog.V(2).InfoS("admission request denied", "uid", req.Request.UID, "reason", err.Error())
	}
	if !patch.IsEmpty() {
		rawPatch, err := patch.AsJSONPatch(body)
		if err != nil {
			return reviews.Response{}, fmt.Errorf("encoding admission patch: %w", err)
		}
		resp.Patch = base64.StdEncoding.EncodeToString(rawPatch)
		resp.PatchType = "JSONPatch"
	}

	return reviews.Response{
		APIVersion: req.APIVersion,
		Kind:       req.Kind,
		Response:   resp,
	}, nil
}
