package handling

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/kubefabric/reactor/internal/reactor/multiplex"
	"github.com/kubefabric/reactor/internal/reactor/watch"
	"github.com/kubefabric/reactor/pkg/config"
	"github.com/kubefabric/reactor/pkg/handlers"
	"github.com/kubefabric/reactor/pkg/k8sclient"
	"github.com/kubefabric/reactor/pkg/objects"
	"github.com/kubefabric/reactor/pkg/primitives"
	"github.com/kubefabric/reactor/pkg/resource"
)

// NewProcessorFactory builds the per-resource multiplex.Processor that
// turns C9's per-object workers into an actual reconciliation loop: each
// coalesced event becomes a Cause, runs through RunCycle against reg,
// and any resulting patch is written back via client.Patch. The
// returned factory is what cmd/kubefabric hands to
// orchestration.Ensemble.SetProcessor. It is the Go analogue of kopf's
// process_resource_event driving handling.custom_object_handler.
func NewProcessorFactory(
	client *k8sclient.Client,
	settings config.Settings,
	reg handlers.Registry,
	lifecycle Lifecycle,
	defaultErrors handlers.ErrorsMode,
) func(resource.Resource) multiplex.Processor {
	return func(res resource.Resource) multiplex.Processor {
		return func(
			ctx context.Context,
			ev watch.Event,
			pressure *primitives.Toggle,
			resourceIndexed *primitives.Toggle,
			operatorIndexed *primitives.ToggleSet,
		) error {
			if ev.Err != nil || ev.Raw == nil {
				return nil
			}

			body := ev.Raw.Object
			name, _ := objects.GetString(body, "metadata", "name")
			nsName, _ := objects.GetString(body, "metadata", "namespace")

			var ns *resource.NamespaceName
			if nsName != "" {
				n := resource.NamespaceName(nsName)
				ns = &n
			}

			deletionTimestamp, hasDeletion := objects.Get(body, "metadata", "deletionTimestamp")
			event := handlers.EventUpdate
			switch {
			case ev.Raw.Type == "DELETED" || (hasDeletion && deletionTimestamp != nil):
				event = handlers.EventDelete
			case ev.Raw.Type == "ADDED":
				event = handlers.EventCreate
			}

			cause := handlers.Cause{Body: body, Event: event, Resource: res, Namespace: ns}

			patch, _, err := RunCycle(ctx, settings, reg, lifecycle, cause, defaultErrors)
			if err != nil {
				return err
			}
			if patch.IsEmpty() {
				return nil
			}

			if _, err := client.Patch(ctx, res, ns, name, patch); err != nil {
				klog.InfoS("failed to apply handler patch", "resource", res.Name(), "name", name, "err", err)
				return err
			}
			return nil
		}
	}
}
