package plugin

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/lipeops/lipe-agent/internal/errors"
)

type stubPlugin struct {
	BasePlugin
}

func (stubPlugin) StartSession(context.Context) (Output, error) { return "snapshot", nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("inventory", func() DaemonPlugin { return &stubPlugin{} })

	got, err := r.Get("inventory")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil plugin")
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("does-not-exist")
	if err == nil {
		t.Fatal("Get() should error for an unregistered name")
	}

	var npe *NoPluginError
	if !stderrors.As(err, &npe) {
		t.Fatalf("error is not a *NoPluginError: %v", err)
	}
	if npe.Name != "does-not-exist" {
		t.Errorf("NoPluginError.Name = %q, want %q", npe.Name, "does-not-exist")
	}
	if !stderrors.Is(err, errors.ErrUnknownPlugin) {
		t.Error("error should wrap errors.ErrUnknownPlugin")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func() DaemonPlugin { return &stubPlugin{} })
	r.Register("b", func() DaemonPlugin { return &stubPlugin{} })

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("len(Names()) = %d, want 2", len(names))
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("Names() = %v, want to contain a and b", names)
	}
}

func TestRegistry_ZeroValueUsable(t *testing.T) {
	var r Registry
	r.Register("x", func() DaemonPlugin { return &stubPlugin{} })

	if _, err := r.Get("x"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestBasePlugin_UpdateSessionDelegatesToStartSession(t *testing.T) {
	p := &stubPlugin{}
	p.Self = p

	out, err := p.UpdateSession(context.Background())
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if out != "snapshot" {
		t.Errorf("UpdateSession() = %v, want snapshot", out)
	}
}

func TestBasePlugin_OnMessageAndTeardownAreNoops(t *testing.T) {
	var b BasePlugin

	out, err := b.OnMessage(context.Background(), Input{})
	if err != nil || out != nil {
		t.Errorf("OnMessage() = (%v, %v), want (nil, nil)", out, err)
	}
	if err := b.Teardown(); err != nil {
		t.Errorf("Teardown() error = %v, want nil", err)
	}
}
