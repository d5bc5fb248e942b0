// Package actions is the process-wide catalog of action handlers the
// action-runner plugin dispatches into. It is the Go analogue of the
// original agent's action_plugins::create_registry, which enumerated
// manage_stratagem::{start,stop,status}_stratagem and wrapped each in a
// uniform callback at registration time.
package actions

import (
	"context"

	"github.com/lipeops/lipe-agent/internal/actionrunner"
	"github.com/lipeops/lipe-agent/internal/inventory"
	"github.com/lipeops/lipe-agent/internal/storagectl"
)

// Deps bundles the concrete collaborators action handlers need. Building
// the catalog from Deps keeps argument decoding and result wrapping
// encapsulated here rather than leaking into the action runner, per
// spec.md §4.4.
type Deps struct {
	Storage   *storagectl.Controller
	Inventory *inventory.Reader
	// StorageImage is the container image used if the storage-service
	// container does not exist yet when start_storage_service runs.
	StorageImage string
}

// noArgs is the argument type for actions that take no parameters.
type noArgs struct{}

// Catalog builds the action-name -> Handler map exposed to the action
// runner.
func Catalog(d Deps) actionrunner.Catalog {
	return actionrunner.Catalog{
		"start_storage_service": actionrunner.Typed(func(ctx context.Context, _ noArgs) (bool, error) {
			return d.Storage.Start(ctx, d.StorageImage)
		}),
		"stop_storage_service": actionrunner.Typed(func(ctx context.Context, _ noArgs) (bool, error) {
			return d.Storage.Stop(ctx)
		}),
		"status_storage_service": actionrunner.Typed(func(ctx context.Context, _ noArgs) (bool, error) {
			return d.Storage.Status(ctx)
		}),
		"list_node_groups": actionrunner.Typed(func(ctx context.Context, _ noArgs) ([]inventory.Group, error) {
			return d.Inventory.Groups(ctx)
		}),
	}
}
