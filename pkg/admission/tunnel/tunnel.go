// Package tunnel implements C10's webhook server/tunnel backends: a
// local HTTP(S) endpoint, its K3d/Minikube hostname-overridden variants,
// an ngrok tunnel for fully offline/NAT'd development, and the
// automatic detectors that pick among them. It is the Go port of kopf's
// toolkits.webhooks module.
package tunnel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/pkg/admission/reviews"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/primitives"
)

// Endpoint is a running (or about-to-run) webhook listener: Serve
// invokes fn for every request it receives and publishes the client
// config apiservers should be told to use into container, once
// initially and again on every address change, until ctx is done.
type Endpoint interface {
	Serve(ctx context.Context, fn reviews.WebhookFn, container *primitives.Container[reviews.WebhookClientConfig]) error
}

// LocalServer is a locally-listening HTTP/HTTPS endpoint -- also the
// building block every other Endpoint in this package serves through.
type LocalServer struct {
	// Addr/Port: where to listen. Empty Addr binds every interface;
	// zero Port asks the OS for a free one.
	Addr string
	Port int
	Path string

	// Host overrides the hostname reported in the published client
	// config's URL (e.g. "host.k3d.internal"); empty uses Addr.
	Host string

	// Insecure serves plain HTTP with no TLS (ngrok's free plan only
	// forwards HTTP).
	Insecure bool

	// CertFile/KeyFile use a provided certificate instead of a
	// self-signed one when both are non-empty.
	CertFile string
	KeyFile  string

	// ExtraSANs are folded into a generated self-signed certificate
	// alongside Host/Addr.
	ExtraSANs []string
}

// Serve implements Endpoint.
func (s *LocalServer) Serve(ctx context.Context, fn reviews.WebhookFn, container *primitives.Container[reviews.WebhookClientConfig]) error {
	var tlsConfig *tls.Config
	var caBundle []byte

	if !s.Insecure {
		var cert tls.Certificate
		var err error
		if s.CertFile != "" && s.KeyFile != "" {
			cert, err = tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
			if err != nil {
				return fmt.Errorf("loading webhook certificate: %w", err)
			}
			caBundle, _ = readPEMFile(s.CertFile)
		} else {
			host := s.Host
			if host == "" {
				host = accessibleAddr(s.Addr)
			}
			hostnames := append([]string{host, accessibleAddr(s.Addr)}, s.ExtraSANs...)
			certPEM, keyPEM, genErr := BuildCertificate(hostnames)
			if genErr != nil {
				return fmt.Errorf("generating self-signed webhook certificate: %w", genErr)
			}
			cert, err = tls.X509KeyPair(certPEM, keyPEM)
			if err != nil {
				return fmt.Errorf("loading generated webhook certificate: %w", err)
			}
			caBundle = certPEM
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Addr, s.Port))
	if err != nil {
		return fmt.Errorf("listening for webhooks: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}

	router := chi.NewRouter()
	router.Post(joinPath(s.Path, "/{rest:.*}"), s.handlerFor(fn))
	httpServer := &http.Server{Handler: router}

	schema := "http"
	if tlsConfig != nil {
		schema = "https"
	}
	host := s.Host
	if host == "" {
		host = accessibleAddr(s.Addr)
	}
	url := buildURL(schema, host, port, s.Path)
	klog.InfoS("webhook endpoint listening", "localURL", buildURL(schema, accessibleAddr(s.Addr), port, s.Path), "advertisedURL", url)
	container.Set(reviews.NewWebhookClientConfig(url, caBundle))

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("webhook server exited: %w", err)
		}
		return nil
	}
}

func (s *LocalServer) handlerFor(fn reviews.WebhookFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviews.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var peerCN string
		if r.TLS != nil {
			for _, cert := range r.TLS.PeerCertificates {
				peerCN = cert.Subject.CommonName
				break
			}
		}
		meta := reviews.RequestMeta{
			Webhook:    chi.URLParam(r, "rest"),
			Headers:    r.Header,
			PeerCertCN: peerCN,
		}

		resp, err := fn(req, meta)
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// writeDispatchError maps a webhook-request-level failure (as opposed to
// a failure of the API operation under review, which travels inside a
// normal 200 response) to the HTTP status apiservers expect -- the Go
// equivalent of WebhookServer._serve's exception handling in the
// original.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch classify(err) {
	case classAmbiguous:
		http.Error(w, err.Error(), http.StatusConflict)
	case classUnknown:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// K3DServer is a LocalServer reporting host.k3d.internal, the address
// K3d forwards back into the cluster where the operator is running.
type K3DServer struct{ LocalServer }

func NewK3DServer(addr string, port int, path string) *K3DServer {
	return &K3DServer{LocalServer{Addr: addr, Port: port, Path: path, Host: "host.k3d.internal"}}
}

// MinikubeServer is the Minikube equivalent of K3DServer.
type MinikubeServer struct{ LocalServer }

func NewMinikubeServer(addr string, port int, path string) *MinikubeServer {
	return &MinikubeServer{LocalServer{Addr: addr, Port: port, Path: path, Host: "host.minikube.internal"}}
}

// NgrokTunnel forwards a local, insecure (HTTP) LocalServer through an
// ngrok tunnel, for fully offline development against clusters the
// operator's machine cannot otherwise reach. It manages `ngrok` as a
// subprocess and reads the tunnel's public URL from its local API --
// the same approach pyngrok uses, since no ngrok Go SDK is available to
// this module.
type NgrokTunnel struct {
	Addr   string
	Port   int
	Path   string
	Token  string
	Binary string // defaults to "ngrok" on $PATH
}

func (t *NgrokTunnel) Serve(ctx context.Context, fn reviews.WebhookFn, container *primitives.Container[reviews.WebhookClientConfig]) error {
	local := &LocalServer{Addr: t.Addr, Port: t.Port, Path: t.Path, Insecure: true}
	localContainer := primitives.NewContainer[reviews.WebhookClientConfig]()

	localDone := make(chan error, 1)
	go func() { localDone <- local.Serve(ctx, fn, localContainer) }()

	clientConfig, err := localContainer.Wait(ctx)
	if err != nil {
		return err
	}
	var localURL string
	if clientConfig.URL != nil {
		localURL = *clientConfig.URL
	}
	localPort := portOf(localURL)

	binary := t.Binary
	if binary == "" {
		binary = "ngrok"
	}
	args := []string{"http", strconv.Itoa(localPort), "--log=stdout"}
	if t.Token != "" {
		args = append(args, "--authtoken", t.Token)
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ngrok: %w", err)
	}

	publicURL, err := waitForNgrokURL(ctx)
	if err != nil {
		return fmt.Errorf("waiting for ngrok tunnel: %w", err)
	}
	container.Set(reviews.NewWebhookClientConfig(publicURL+t.Path, nil))

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-localDone
		return ctx.Err()
	case err := <-localDone:
		return err
	}
}

// waitForNgrokURL polls ngrok's local inspection API (127.0.0.1:4040)
// for the HTTPS tunnel's public URL.
func waitForNgrokURL(ctx context.Context) (string, error) {
	type ngrokTunnels struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
		} `json:"tunnels"`
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		resp, err := client.Get("http://127.0.0.1:4040/api/tunnels")
		if err != nil {
			continue
		}
		var parsed ngrokTunnels
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if decodeErr != nil {
			continue
		}
		for _, t := range parsed.Tunnels {
			if t.Proto == "https" {
				return t.PublicURL, nil
			}
		}
	}
}

// DetectHost inspects the API server's own TLS certificate to guess
// which local cluster type (K3d/Minikube) is hosting it, the same
// signal kopf's ClusterDetector relies on. It returns "" when nothing
// recognisable is found, in which case the caller should fall back to
// an ngrok tunnel.
func DetectHost(vault *credentials.Vault) string {
	_, info, err := vault.Select()
	if err != nil || info.Server == "" {
		return ""
	}
	host, port := splitHostPort(info.Server)
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 3 * time.Second}, "tcp", net.JoinHostPort(host, port),
		&tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return ""
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return hostFromCertificate(state.PeerCertificates[0])
}

func hostFromCertificate(cert *x509.Certificate) string {
	cn := cert.Subject.CommonName
	issuerCN := cert.Issuer.CommonName
	org := ""
	if len(cert.Subject.Organization) > 0 {
		org = cert.Subject.Organization[0]
	}
	switch {
	case cn == "k3s" || org == "k3s" || hasPrefix(issuerCN, "k3s-"):
		return "host.k3d.internal"
	case cn == "minikube" || issuerCN == "minikubeCA":
		return "host.minikube.internal"
	default:
		return ""
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
