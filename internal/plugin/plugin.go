// Package plugin defines the daemon-plugin contract and the process-wide
// registry of plugin constructors.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lipeops/lipe-agent/internal/errors"
)

// Input is the typed union of payloads a DaemonPlugin can receive via
// OnMessage. Today the only variant is an action-runner Action; the field
// is carried as raw JSON so plugins that don't understand a variant can
// still fail cleanly instead of the framework guessing at a shape.
type Input struct {
	Raw json.RawMessage
}

// Output is the typed union of payloads a DaemonPlugin can emit from
// StartSession/UpdateSession. Concrete plugins return any JSON-marshalable
// value; the framework only needs to serialize it onto a Data message.
type Output = any

// DaemonPlugin is a long-lived subsystem hosted by the agent. See
// spec.md §4.3 for the full concurrency contract.
type DaemonPlugin interface {
	// StartSession returns the full initial snapshot, or nil for "no
	// data yet". Invoked exactly once per accepted session.
	StartSession(ctx context.Context) (Output, error)

	// UpdateSession returns incremental changes since the last
	// emission, or nil. Invoked every update interval thereafter.
	// Never runs concurrently with StartSession or with itself.
	UpdateSession(ctx context.Context) (Output, error)

	// OnMessage handles an inbound message. May run concurrently with
	// StartSession/UpdateSession, but never before StartSession has at
	// least been scheduled.
	OnMessage(ctx context.Context, in Input) (any, error)

	// Teardown releases all plugin-owned resources synchronously. No
	// plugin method runs after Teardown returns.
	Teardown() error
}

// BasePlugin gives concrete plugins the default behavior spec.md §4.3
// describes (UpdateSession delegates to StartSession, OnMessage and
// Teardown are no-ops) so each plugin only overrides what it needs,
// mirroring the teacher's CommandHandler implementations that each
// embed only the fields they use.
type BasePlugin struct {
	Self DaemonPlugin
}

// UpdateSession delegates to StartSession unless embedders override it.
func (b BasePlugin) UpdateSession(ctx context.Context) (Output, error) {
	return b.Self.StartSession(ctx)
}

// OnMessage is a no-op default.
func (BasePlugin) OnMessage(context.Context, Input) (any, error) { return nil, nil }

// Teardown is a no-op default.
func (BasePlugin) Teardown() error { return nil }

// NoPluginError is returned when a name has no registered constructor.
// It wraps errors.ErrUnknownPlugin so callers can match with errors.Is
// regardless of which name triggered it.
type NoPluginError struct {
	Name string
}

func (e *NoPluginError) Error() string {
	return fmt.Sprintf("plugin: no plugin registered for %q: %v", e.Name, errors.ErrUnknownPlugin)
}

func (e *NoPluginError) Unwrap() error { return errors.ErrUnknownPlugin }

// Factory builds a fresh plugin instance.
type Factory func() DaemonPlugin

// Registry maps a plugin name to its factory. The zero value is usable.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	if r.factories == nil {
		r.factories = make(map[string]Factory)
	}
	r.factories[name] = f
}

// Get instantiates a fresh plugin for name, or fails with *NoPluginError.
func (r *Registry) Get(name string) (DaemonPlugin, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &NoPluginError{Name: name}
	}
	return f(), nil
}

// Names returns the registered plugin names, for startup seeding of the
// session registry's Empty states.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	return names
}
