// Package inventory implements the "inventory" daemon plugin: it reports
// the node's local inventory file as telemetry on session start and on
// every update tick. It is the Go analogue of the original agent's
// stratagem plugin (daemon_plugins/stratagem.rs), which read
// lipe_web.json and reported it the same way.
package inventory

import (
	"context"

	invpkg "github.com/lipeops/lipe-agent/internal/inventory"
	"github.com/lipeops/lipe-agent/internal/plugin"
)

// Plugin reports inventory.Data snapshots.
type Plugin struct {
	plugin.BasePlugin
	reader *invpkg.Reader
}

// New builds a Plugin reading from path.
func New(path string) *Plugin {
	p := &Plugin{reader: invpkg.NewReader(path)}
	p.Self = p
	return p
}

// Factory returns a plugin.Factory that builds a fresh Plugin reading
// from path, suitable for registration in plugin.Registry.
func Factory(path string) plugin.Factory {
	return func() plugin.DaemonPlugin { return New(path) }
}

// StartSession returns the full inventory snapshot, or nil if the file
// doesn't exist yet (the node may not be provisioned).
func (p *Plugin) StartSession(ctx context.Context) (plugin.Output, error) {
	d, err := p.reader.Read(ctx)
	if err != nil || d == nil {
		return nil, err
	}
	return d, nil
}
