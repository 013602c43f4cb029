// Package cmd implements kubefabric's CLI surface: run/freeze/resume,
// using cobra for command structure and viper for an optional
// config-file overlay.
package cmd

import (
	"flag"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/resource"
)

const (
	groupCore  = "group-core"
	groupOther = "group-other"
)

var (
	cfgFile string

	kubeconfigPath string
	kubecontext    string

	namespaces    string
	clusterScoped bool

	peeringName string
	priority    int
	standalone  bool
	mandatory   bool
	stealth     bool

	webhookTunnel   string
	webhookHost     string
	webhookPort     int
	webhookPath     string
	webhookInsecure bool
	webhookCertFile string
	webhookKeyFile  string
	ngrokToken      string
)

// RootCmd is kubefabric's root CLI command.
var RootCmd = &cobra.Command{
	Use:          "kubefabric",
	SilenceUsage: true,
	Short:        "kubefabric runs the reactor core of a Kubernetes operator",
	Long: LongDesc(`
		kubefabric drives the watch-stream engine, per-object worker pool,
		handler-cycle orchestrator, discovery, peering and admission webhook
		server described by this module against a real or fake cluster.`),
}

// Execute runs the root command, exiting non-zero on any command error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	klog.InitFlags(nil)
	klogFlags := pflag.NewFlagSet("klog", pflag.ExitOnError)
	klogFlags.AddGoFlagSet(flag.CommandLine)
	RootCmd.PersistentFlags().AddFlagSet(klogFlags)

	pf := RootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to a YAML file overlaying these flags (see viper's config precedence).")
	pf.StringVar(&kubeconfigPath, "kubeconfig", "", "Path to a kubeconfig file. Defaults to $KUBECONFIG or the in-cluster config.")
	pf.StringVar(&kubecontext, "context", "", "The kubeconfig context to use.")
	pf.StringVar(&namespaces, "namespace", "", "Comma-separated namespace glob patterns to watch. Empty watches every namespace.")
	pf.BoolVar(&clusterScoped, "cluster-wide", false, "Watch every namespace as a single cluster-wide scope instead of one watch per namespace.")
	pf.StringVar(&peeringName, "peering", "default", "Name of the peering object this operator participates in.")
	pf.IntVar(&priority, "priority", 0, "This operator's priority in the peering record; higher wins.")
	pf.BoolVar(&standalone, "standalone", false, "Disable peering entirely: always act as the highest-priority operator.")
	pf.BoolVar(&mandatory, "peering-mandatory", false, "Require the peering object to exist; pause every watcher while it is missing.")
	pf.BoolVar(&stealth, "peering-stealth", false, "Do not log when the peering object is missing (the keep-alive is skipped either way).")
	pf.StringVar(&webhookTunnel, "webhook-tunnel", "", "How to expose the admission webhook: \"\" to disable, \"k3d\", \"minikube\", \"ngrok\", or \"auto\".")
	pf.StringVar(&webhookHost, "webhook-host", "", "Hostname/address reported to the apiserver for the webhook endpoint.")
	pf.IntVar(&webhookPort, "webhook-port", 0, "Port the webhook server listens on; 0 picks a free one.")
	pf.StringVar(&webhookPath, "webhook-path", "/", "HTTP path the webhook server serves on.")
	pf.BoolVar(&webhookInsecure, "webhook-insecure", false, "Serve the webhook over plain HTTP instead of a self-signed/provided certificate.")
	pf.StringVar(&webhookCertFile, "webhook-cert-file", "", "TLS certificate file, used instead of a self-signed one when set together with --webhook-key-file.")
	pf.StringVar(&webhookKeyFile, "webhook-key-file", "", "TLS private key file.")
	pf.StringVar(&ngrokToken, "ngrok-token", "", "Auth token for a paid ngrok plan; empty uses the free tier.")

	cobra.OnInitialize(initConfig)

	RootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupOther, Title: "Other Commands:"},
	)
	RootCmd.SetHelpCommandGroupID(groupOther)
	RootCmd.SetCompletionCommandGroupID(groupOther)
}

// initConfig wires viper's optional YAML overlay in over whatever pflag
// already parsed, giving flags precedence over the (unused-by-default)
// config file.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			klog.ErrorS(err, "could not read config file", "path", cfgFile)
			return
		}
		RootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !viper.IsSet(f.Name) {
				return
			}
			if err := f.Value.Set(viper.GetString(f.Name)); err != nil {
				klog.ErrorS(err, "invalid config file value", "flag", f.Name)
			}
		})
	}
	viper.SetEnvPrefix("kubefabric")
	viper.AutomaticEnv()
}

// setupLogging installs a textlogger-backed klog.Logger, deferring
// verbosity entirely to klog's own "-v" flag (bridged into pflag in
// init above).
func setupLogging() {
	klog.SetLogger(textlogger.NewLogger(textlogger.NewConfig()))
}

func namespacePatternList(raw string) []resource.NamespacePattern {
	if raw == "" {
		return []resource.NamespacePattern{resource.EmptyNamespacePattern()}
	}
	out := make([]resource.NamespacePattern, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, resource.ParseNamespacePattern(part))
		}
	}
	if len(out) == 0 {
		return []resource.NamespacePattern{resource.EmptyNamespacePattern()}
	}
	return out
}

func peeringSettings() config.PeeringSettings {
	return config.PeeringSettings{
		Name:        peeringName,
		Mandatory:   mandatory,
		Standalone:  standalone,
		ClusterWide: clusterScoped,
		Namespaced:  !clusterScoped,
		Priority:    priority,
		Lifetime:    config.Default().Peering.Lifetime,
		Stealth:     stealth,
	}
}

func admissionSettings() config.AdmissionSettings {
	return config.AdmissionSettings{
		Tunnel:     webhookTunnel,
		Host:       webhookHost,
		Port:       webhookPort,
		Path:       webhookPath,
		Insecure:   webhookInsecure,
		CertFile:   webhookCertFile,
		KeyFile:    webhookKeyFile,
		NgrokToken: ngrokToken,
	}
}

// LongDesc normalizes a command's long description, matching the
// teacher's cmd/plugin/cmd helper of the same name.
func LongDesc(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(heredoc.Doc(s))
}
