package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubefabric/reactor/internal/reactor/peering"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/resource"
)

var freezeCmd = &cobra.Command{
	Use:     "freeze",
	GroupID: groupCore,
	Short:   "Post a long-lived peering entry at --priority, pausing operator instances of equal or lower priority",
	Long: LongDesc(`
		freeze posts this identity's own keep-alive entry onto the peering
		object with a lifetime far longer than any ordinary keepalive,
		effectively claiming leadership until resume or natural expiry.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		lifetime := config.Default().Peering.Lifetime * 1000
		return touchPeering(cmd.Context(), &lifetime)
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume",
	GroupID: groupCore,
	Short:   "Remove a previously frozen peering entry",
	Long: LongDesc(`
		resume nulls out this identity's own peering entry, the same way a
		running operator does on a clean shutdown, letting ordinary
		keepalive-based arbitration resume.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		zero := time.Duration(0)
		return touchPeering(cmd.Context(), &zero)
	},
}

func init() {
	RootCmd.AddCommand(freezeCmd)
	RootCmd.AddCommand(resumeCmd)
}

// touchPeering resolves the configured peering resource via a one-shot
// discovery call (freeze/resume don't run the full C3 observer loop)
// and posts identity's own entry with the given lifetime.
func touchPeering(ctx context.Context, lifetime *time.Duration) error {
	vault, err := loadVault(kubeconfigPath, kubecontext)
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}
	client := k8sclient.NewClient(vault)
	settings := config.Default()
	settings.Peering = peeringSettings()

	sel := peering.GuessSelector(settings)
	if sel == nil {
		return fmt.Errorf("peering is disabled (--standalone); nothing to %s", lifetimeVerb(lifetime))
	}

	discovered, err := client.Discover(ctx, map[string]struct{}{sel.Group: {}})
	if err != nil {
		return fmt.Errorf("discovering peering resource: %w", err)
	}
	matches := sel.Resolve(discovered)
	if len(matches) != 1 {
		return fmt.Errorf("expected exactly one resource matching %+v, found %d", *sel, len(matches))
	}
	res := matches[0]

	var ns *resource.NamespaceName
	if res.Namespaced {
		n := resource.NamespaceName("default")
		ns = &n
	}

	identity := peering.DetectIdentity(true)
	return peering.Touch(ctx, client, settings, res, ns, identity, lifetime)
}

func lifetimeVerb(lifetime *time.Duration) string {
	if lifetime != nil && *lifetime == 0 {
		return "resume"
	}
	return "freeze"
}
