// Package storageservice implements the "storage_service" daemon plugin:
// it reports the local storage-cluster container's running status as
// telemetry. Action-level control (start/stop/status on demand) goes
// through the same underlying storagectl.Controller via the
// internal/actions catalog, not through this plugin's session.
package storageservice

import (
	"context"

	"github.com/lipeops/lipe-agent/internal/plugin"
	"github.com/lipeops/lipe-agent/internal/storagectl"
)

// Status is the telemetry payload reported for this plugin's session.
type Status struct {
	Running bool `json:"running"`
}

// statusChecker is the one storagectl.Controller method this plugin
// needs, narrowed so tests can supply a fake instead of a live Docker
// client. *storagectl.Controller satisfies this implicitly.
type statusChecker interface {
	Status(ctx context.Context) (bool, error)
}

// Plugin reports the storage-service container's run state.
type Plugin struct {
	plugin.BasePlugin
	ctl statusChecker

	lastReported *bool
}

// New builds a Plugin controlling ctl.
func New(ctl *storagectl.Controller) *Plugin {
	p := &Plugin{ctl: ctl}
	p.Self = p
	return p
}

// Factory returns a plugin.Factory building a fresh Plugin over ctl.
func Factory(ctl *storagectl.Controller) plugin.Factory {
	return func() plugin.DaemonPlugin { return New(ctl) }
}

// StartSession reports the current run state unconditionally.
func (p *Plugin) StartSession(ctx context.Context) (plugin.Output, error) {
	running, err := p.ctl.Status(ctx)
	if err != nil {
		return nil, err
	}
	p.lastReported = &running
	return Status{Running: running}, nil
}

// UpdateSession reports only when the run state has changed since the
// last report, unlike the inventory plugin which always re-reports —
// this is the "incremental changes since last emission" half of
// spec.md §4.3 that the default StartSession-delegating behavior can't
// express on its own.
func (p *Plugin) UpdateSession(ctx context.Context) (plugin.Output, error) {
	running, err := p.ctl.Status(ctx)
	if err != nil {
		return nil, err
	}
	if p.lastReported != nil && *p.lastReported == running {
		return nil, nil
	}
	p.lastReported = &running
	return Status{Running: running}, nil
}
