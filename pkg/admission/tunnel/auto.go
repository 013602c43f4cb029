package tunnel

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/pkg/admission/reviews"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/primitives"
)

// AutoServer is a LocalServer whose Host is decided at Serve time by
// inspecting the API server's certificate for a recognisable local
// cluster (K3d, Minikube); anything else runs as a plain local server.
type AutoServer struct {
	LocalServer
	Vault *credentials.Vault
}

func (s *AutoServer) Serve(ctx context.Context, fn reviews.WebhookFn, container *primitives.Container[reviews.WebhookClientConfig]) error {
	if host := DetectHost(s.Vault); host != "" {
		klog.InfoS("detected local cluster type for webhook hostname", "host", host)
		s.Host = host
	} else {
		klog.InfoS("no recognisable local cluster detected, running a plain local webhook server")
	}
	return s.LocalServer.Serve(ctx, fn, container)
}

// AutoTunnel picks between AutoServer (when a local cluster type is
// detected) and an ngrok tunnel (otherwise), the Go port of kopf's
// WebhookAutoTunnel.
type AutoTunnel struct {
	Addr       string
	Port       int
	Path       string
	Vault      *credentials.Vault
	NgrokToken string
}

func (t *AutoTunnel) Serve(ctx context.Context, fn reviews.WebhookFn, container *primitives.Container[reviews.WebhookClientConfig]) error {
	if host := DetectHost(t.Vault); host != "" {
		klog.InfoS("detected local cluster type for webhook hostname", "host", host)
		local := &LocalServer{Addr: t.Addr, Port: t.Port, Path: t.Path, Host: host}
		return local.Serve(ctx, fn, container)
	}
	klog.InfoS("no recognisable local cluster detected, tunneling via ngrok")
	ngrok := &NgrokTunnel{Addr: t.Addr, Port: t.Port, Path: t.Path, Token: t.NgrokToken}
	return ngrok.Serve(ctx, fn, container)
}
