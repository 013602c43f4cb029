// Package reviews defines the wire shapes of a Kubernetes
// AdmissionReview request/response and the webhook server/tunnel
// protocol C10 is built against. It is the Go counterpart of kopf's
// structs.reviews module.
package reviews

import (
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"

	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/objects"
)

// RequestResource is the GroupVersionResource the apiserver believes it
// is reviewing, as sent on request.resource.
type RequestResource struct {
	Group    string `json:"group"`
	Version  string `json:"version"`
	Resource string `json:"resource"`
}

// RequestPayload is the "request" field of an AdmissionReview request.
type RequestPayload struct {
	UID         string                 `json:"uid"`
	Resource    RequestResource        `json:"resource"`
	SubResource string                 `json:"subResource,omitempty"`
	Operation   string                 `json:"operation"`
	UserInfo    map[string]interface{} `json:"userInfo"`
	Object      objects.Body           `json:"object,omitempty"`
	OldObject   objects.Body           `json:"oldObject,omitempty"`
	DryRun      bool                   `json:"dryRun,omitempty"`
	Namespace   string                 `json:"namespace,omitempty"`
}

// Request is a full AdmissionReview request body.
type Request struct {
	APIVersion string         `json:"apiVersion"`
	Kind       string         `json:"kind"`
	Request    RequestPayload `json:"request"`
}

// ResponseStatus carries the message/code apiservers surface back to
// the end user when a reviewed API operation is rejected.
type ResponseStatus struct {
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// ResponsePayload is the "response" field of an AdmissionReview
// response.
type ResponsePayload struct {
	UID       string          `json:"uid"`
	Allowed   bool            `json:"allowed"`
	Warnings  []string        `json:"warnings,omitempty"`
	Patch     string          `json:"patch,omitempty"`     // base64-encoded JSON Patch
	PatchType string          `json:"patchType,omitempty"` // always "JSONPatch" when Patch is set
	Status    *ResponseStatus `json:"status,omitempty"`
}

// Response is a full AdmissionReview response body.
type Response struct {
	APIVersion string          `json:"apiVersion"`
	Kind       string          `json:"kind"`
	Response   ResponsePayload `json:"response"`
}

// WebhookClientConfig is what a webhook server/tunnel publishes once
// listening: the URL apiservers should call, and (for a self-signed
// server) the CA bundle they should trust it with. It is a direct alias
// of the admissionregistration/v1 type rather than a lookalike struct,
// since it is exactly the piece an eventual
// ValidatingWebhookConfiguration/MutatingWebhookConfiguration manager
// threads into `webhooks[].clientConfig` unchanged.
type WebhookClientConfig = admissionregistrationv1.WebhookClientConfig

// NewWebhookClientConfig builds a WebhookClientConfig from a publicly
// reachable URL and optional CA bundle, taking the address of url
// itself so callers don't each need their own pointer-typed local.
func NewWebhookClientConfig(url string, caBundle []byte) WebhookClientConfig {
	return WebhookClientConfig{URL: &url, CABundle: caBundle}
}

// RequestMeta is everything about the transport-level request that a
// webhook handler's Cause may want besides the AdmissionReview body
// itself: which path segment ("webhook" id) it arrived on, an optional
// reason hint narrowing dispatch to one WebhookKind (set by a server
// that runs separate validating/mutating endpoints), and the caller's
// headers/client certificate.
type RequestMeta struct {
	Webhook string
	Reason  handlers.WebhookKind
	Headers map[string][]string
	PeerCertCN string
}

// WebhookFn is the single callback every webhook server/tunnel in
// pkg/admission/tunnel invokes for each incoming POST: the operator's
// entire admission-review dispatch lives behind this one signature.
type WebhookFn func(req Request, meta RequestMeta) (Response, error)
