// Package config defines Settings, the single struct threaded through
// every reactor component (watch, multiplex, handling, peering,
// orchestration, admission). It is built by cmd/kubefabric from pflag
// flags, optionally overlaid from a YAML file via viper; this package
// itself never touches flags or files, so unit tests can construct a
// Settings literal directly.
package config

import (
	"time"

	"sigs.k8s.io/yaml"
)

// WatchingSettings controls C5's list/watch stream lifecycle.
type WatchingSettings struct {
	// ServerTimeoutSeconds is the `timeoutSeconds` query parameter sent
	// on every watch request; the server half-closes the stream once it
	// elapses, which InfiniteWatch treats as a normal reconnect, not an
	// error.
	ServerTimeoutSeconds int

	// ClientTimeout bounds how long a single HTTP round trip (list or
	// watch-line-read) may run before being aborted client-side.
	ClientTimeout time.Duration

	// ConnectTimeout bounds the TCP+TLS handshake portion of opening a
	// watch connection.
	ConnectTimeout time.Duration

	// ReconnectBackoff is slept before reopening a watch stream after an
	// ordinary disconnect or client-side timeout.
	ReconnectBackoff time.Duration
}

// BatchingSettings controls C6's per-object worker pool.
type BatchingSettings struct {
	// WorkerLimit bounds the number of objects processed concurrently
	// (the semaphore size backing the worker pool).
	WorkerLimit int

	// IdleTimeout is how long a per-object worker waits for its next
	// event before exiting and freeing its queue slot.
	IdleTimeout time.Duration

	// BatchWindow is how long a worker waits to coalesce rapidly
	// arriving events for the same object into a single handler cycle.
	BatchWindow time.Duration

	// ExitTimeout bounds how long shutdown waits for every stream to
	// drain its backlog before cancelling what remains.
	ExitTimeout time.Duration
}

// PeeringSettings controls C8's leader-arbitration behavior.
type PeeringSettings struct {
	// Name identifies the peering object (ClusterKopfPeering or
	// KopfPeering) this operator participates in.
	Name string

	// Mandatory requires a peering object to exist; its absence pauses
	// every watcher instead of running standalone.
	Mandatory bool

	// Standalone disables peering entirely: this operator always acts
	// as if it held the highest priority.
	Standalone bool

	// ClusterWide selects ClusterKopfPeering (cluster-scoped); when
	// false, Namespaced selects KopfPeering (namespace-scoped).
	ClusterWide bool
	Namespaced  bool

	// Priority is this operator's own priority in the peering record;
	// higher wins, same-priority is an undefined-leadership conflict.
	Priority int

	// Lifetime is how long this operator's own keepalive entry is
	// considered alive after a touch; zero marks it as departed.
	Lifetime time.Duration

	// Stealth silences the log line Touch emits when the peering object
	// does not exist; the keep-alive is skipped either way.
	Stealth bool
}

// ScanningSettings controls C3's discovery/insights observers.
type ScanningSettings struct {
	// Disabled skips discovery's runtime CRD/Namespace watches,
	// freezing the initial scan for the operator's whole lifetime.
	Disabled bool
}

// AdmissionSettings controls C10's webhook server.
type AdmissionSettings struct {
	// Managed, when non-empty, is the name of a ValidatingWebhookConfiguration
	// or MutatingWebhookConfiguration this operator auto-creates/patches
	// to point at itself.
	Managed string

	// Host/Port/Path describe the listening socket; empty Host binds
	// every interface, zero Port asks the OS for a free one.
	Host string
	Port int
	Path string

	// CertFile/KeyFile, when both non-empty, are used instead of a
	// self-signed certificate.
	CertFile string
	KeyFile  string

	// Insecure serves plain HTTP with no TLS at all (local testing only).
	Insecure bool

	// ExtraSANs are additional hostnames/IPs folded into the
	// self-signed certificate alongside Host and any detected address.
	ExtraSANs []string

	// Tunnel selects how the webhook endpoint is made reachable from the
	// apiserver: "" for a plain local server, "k3d"/"minikube" for the
	// matching local-cluster host override, "ngrok" for an external
	// tunnel, or "auto" to detect k3d/minikube from the API server's own
	// TLS certificate and fall back to ngrok.
	Tunnel string

	// NgrokToken authenticates a paid ngrok plan when Tunnel is "ngrok"
	// or "auto"; empty uses the free, rate-limited tier.
	NgrokToken string
}

// Settings is the complete operator configuration (spec.md §6
// "Operator configuration").
type Settings struct {
	Watching  WatchingSettings
	Batching  BatchingSettings
	Peering   PeeringSettings
	Scanning  ScanningSettings
	Admission AdmissionSettings
}

// Default returns the settings a bare `kubefabric run` would use absent
// any flags or overlay file.
func Default() Settings {
	return Settings{
		Watching: WatchingSettings{
			ServerTimeoutSeconds: 600,
			ClientTimeout:        10 * time.Minute,
			ConnectTimeout:       30 * time.Second,
			ReconnectBackoff:     1 * time.Second,
		},
		Batching: BatchingSettings{
			WorkerLimit: 100,
			IdleTimeout: 5 * time.Minute,
			BatchWindow: 100 * time.Millisecond,
			ExitTimeout: 2 * time.Second,
		},
		Peering: PeeringSettings{
			Name:       "default",
			Priority:   0,
			Lifetime:   60 * time.Second,
			Standalone: false,
		},
		Admission: AdmissionSettings{
			Host: "",
			Port: 0,
			Path: "/",
		},
	}
}

// DebugYAML renders s as YAML for a startup debug log line, for a human
// reading the log rather than a machine consuming it. Marshaling failure (there
// is none for this struct today) degrades to an explanatory string
// rather than a panic.
func (s Settings) DebugYAML() string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "<settings: " + err.Error() + ">"
	}
	return string(out)
}
