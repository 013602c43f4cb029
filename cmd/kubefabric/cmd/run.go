package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/handling"
	"github.com/kubefabric/reactor/internal/reactor/orchestration"
	"github.com/kubefabric/reactor/internal/reactor/peering"
	"github.com/kubefabric/reactor/pkg/admission"
	"github.com/kubefabric/reactor/pkg/admission/tunnel"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/credentials"
	"github.com/kubefabric/reactor/pkg/discovery"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/resource"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: groupCore,
	Short:   "Run the reactor core against a cluster",
	Long: LongDesc(`
		run starts the resource/namespace observers, the peering and watcher
		ensemble, and (if configured) the admission webhook server, and
		blocks until interrupted.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return runReactor(cmd.Context())
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
}

// buildRegistry returns the handler registry run wires everything against. Population
// is an external collaborator's job (see handlers.Registry's doc
// comment); run starts with an empty one so the reactor core is fully
// exercised even with nothing registered yet.
func buildRegistry() handlers.Registry {
	return handlers.NewMapRegistry(nil)
}

func runReactor(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vault, err := loadVault(kubeconfigPath, kubecontext)
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}

	client := k8sclient.NewClient(vault)
	settings := config.Default()
	settings.Peering = peeringSettings()
	settings.Admission = admissionSettings()

	reg := buildRegistry()
	insights := resource.NewInsights()
	identity := peering.DetectIdentity(false)
	patterns := namespacePatternList(namespaces)
	logger := klog.Background()

	klog.V(2).InfoS("resolved settings", "yaml", settings.DebugYAML())

	ensemble := orchestration.NewEnsemble(client, settings, reg, insights, identity)
	ensemble.SetProcessor(handling.NewProcessorFactory(client, settings, reg, handling.AllAtOnce, handlers.ErrorsTemporary))

	errs := make(chan error, 4)

	go func() { errs <- discovery.ResourceObserver(ctx, settings, client, reg, insights, logger) }()
	go func() {
		errs <- discovery.NamespaceObserver(ctx, settings, client, patterns, clusterScoped, insights, logger)
	}()
	go func() { errs <- ensemble.Run(ctx) }()

	if settings.Admission.Tunnel != "" {
		srv := admission.NewServer(reg, insights)
		endpoint := buildTunnelEndpoint(settings.Admission, vault)
		go func() { errs <- srv.Serve(ctx, endpoint) }()
	}

	// Any component exiting on its own (rather than via ctx cancellation)
	// is fatal to the whole process; wait for the first one and shut
	// everything else down with it.
	select {
	case err := <-errs:
		stop()
		if ctx.Err() != nil {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func buildTunnelEndpoint(a config.AdmissionSettings, vault *credentials.Vault) tunnel.Endpoint {
	switch a.Tunnel {
	case "k3d":
		return tunnel.NewK3DServer(a.Host, a.Port, a.Path)
	case "minikube":
		return tunnel.NewMinikubeServer(a.Host, a.Port, a.Path)
	case "ngrok":
		return &tunnel.NgrokTunnel{Addr: a.Host, Port: a.Port, Path: a.Path, Token: a.NgrokToken}
	case "auto":
		return &tunnel.AutoTunnel{Addr: a.Host, Port: a.Port, Path: a.Path, Vault: vault, NgrokToken: a.NgrokToken}
	default:
		return &tunnel.LocalServer{
			Addr: a.Host, Port: a.Port, Path: a.Path,
			Insecure: a.Insecure, CertFile: a.CertFile, KeyFile: a.KeyFile, ExtraSANs: a.ExtraSANs,
		}
	}
}
