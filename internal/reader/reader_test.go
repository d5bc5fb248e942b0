package reader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/lipeops/lipe-agent/internal/message"
	"github.com/lipeops/lipe-agent/internal/plugin"
	"github.com/lipeops/lipe-agent/internal/session"
	"github.com/lipeops/lipe-agent/internal/transport"
)

type fakePlugin struct {
	plugin.BasePlugin
	startOut   any
	onMsgOut   any
	onMsgErr   error
	startedCh  chan struct{}
	onMessage  chan struct{}
}

func (f *fakePlugin) StartSession(context.Context) (plugin.Output, error) {
	if f.startedCh != nil {
		close(f.startedCh)
	}
	return f.startOut, nil
}

func (f *fakePlugin) OnMessage(ctx context.Context, in plugin.Input) (any, error) {
	if f.onMessage != nil {
		close(f.onMessage)
	}
	return f.onMsgOut, f.onMsgErr
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *transport.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	return transport.New(srv.Client(), u, "node-1", "0", "0")
}

func TestReader_HandleSessionCreateResponse_UnknownPlugin(t *testing.T) {
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent for an unregistered plugin")
	})
	registry := session.NewRegistry([]string{"inventory"})
	plugins := plugin.NewRegistry()
	r := New(client, registry, plugins)

	r.handleSessionCreateResponse(context.Background(), message.SessionCreateResponse{Plugin: "ghost", SessionID: "s1"})

	state, _ := registry.Get("ghost")
	if state.IsActive() {
		t.Fatal("unregistered plugin name should never become Active")
	}
}

func TestReader_HandleSessionCreateResponse_InsertsActiveSession(t *testing.T) {
	started := make(chan struct{})
	var gotBody map[string]any
	sendDone := make(chan struct{})
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		close(sendDone)
	})
	registry := session.NewRegistry([]string{"inventory"})
	plugins := plugin.NewRegistry()
	plugins.Register("inventory", func() plugin.DaemonPlugin {
		return &fakePlugin{startOut: map[string]any{"a": 1}, startedCh: started}
	})
	r := New(client, registry, plugins)

	r.handleSessionCreateResponse(context.Background(), message.SessionCreateResponse{Plugin: "inventory", SessionID: "sess-1"})

	state, _ := registry.Get("inventory")
	if !state.IsActive() {
		t.Fatal("expected Active immediately after InsertSession")
	}
	if state.Session().ID() != "sess-1" {
		t.Errorf("SessionID = %s, want sess-1", state.Session().ID())
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("StartSession was never called")
	}
	select {
	case <-sendDone:
	case <-time.After(2 * time.Second):
		t.Fatal("SendData was never posted for the non-nil StartSession result")
	}
	if gotBody == nil {
		t.Fatal("expected a posted body")
	}
}

func TestReader_HandleData_SessionNotActive(t *testing.T) {
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent when the session is not active")
	})
	registry := session.NewRegistry([]string{"inventory"})
	plugins := plugin.NewRegistry()
	r := New(client, registry, plugins)

	r.handleData(context.Background(), message.InboundData{Plugin: "inventory", SessionID: "sess-1", Body: json.RawMessage(`{}`)})
}

func TestReader_HandleData_SessionIDMismatch(t *testing.T) {
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent for a mismatched session id")
	})
	registry := session.NewRegistry([]string{"inventory"})
	plugins := plugin.NewRegistry()
	sess := session.New("inventory", "real-session", &fakePlugin{})
	registry.InsertSession("inventory", sess)
	r := New(client, registry, plugins)

	r.handleData(context.Background(), message.InboundData{Plugin: "inventory", SessionID: "wrong-session", Body: json.RawMessage(`{}`)})
}

func TestReader_HandleData_DispatchesToOnMessage(t *testing.T) {
	onMsg := make(chan struct{})
	sendDone := make(chan struct{})
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		close(sendDone)
	})
	registry := session.NewRegistry([]string{"inventory"})
	plugins := plugin.NewRegistry()
	fp := &fakePlugin{onMsgOut: map[string]any{"ok": true}, onMessage: onMsg}
	sess := session.New("inventory", "sess-1", fp)
	registry.InsertSession("inventory", sess)
	r := New(client, registry, plugins)

	r.handleData(context.Background(), message.InboundData{Plugin: "inventory", SessionID: "sess-1", Body: json.RawMessage(`{"x":1}`)})

	select {
	case <-onMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage was never called")
	}
	select {
	case <-sendDone:
	case <-time.After(2 * time.Second):
		t.Fatal("SendData was never posted for the OnMessage result")
	}
}

func TestReader_Dispatch_TerminateAndTerminateAll(t *testing.T) {
	client := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {})
	registry := session.NewRegistry([]string{"inventory", "storage_service"})
	plugins := plugin.NewRegistry()
	registry.InsertSession("inventory", session.New("inventory", "s1", &fakePlugin{}))
	registry.InsertSession("storage_service", session.New("storage_service", "s2", &fakePlugin{}))
	r := New(client, registry, plugins)

	r.dispatch(context.Background(), message.Inbound{SessionTerminate: &message.SessionTerminate{Plugin: "inventory", SessionID: "s1"}})
	state, _ := registry.Get("inventory")
	if !state.IsEmpty() {
		t.Fatal("expected inventory to be Empty after a targeted terminate")
	}

	r.dispatch(context.Background(), message.Inbound{SessionTerminateAll: true})
	state2, _ := registry.Get("storage_service")
	if !state2.IsEmpty() {
		t.Fatal("expected storage_service to be Empty after terminate-all")
	}
}
