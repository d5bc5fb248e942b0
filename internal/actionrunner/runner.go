// Package actionrunner implements the action-runner daemon plugin:
// dispatch of named request/response actions to registered handlers,
// with cooperative cancellation (spec.md §4.4).
package actionrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lipeops/lipe-agent/internal/errors"
	"github.com/lipeops/lipe-agent/internal/plugin"
)

// requiredFieldMsg is part of the external contract (spec.md §4.4): the
// manager matches on this exact text.
var requiredFieldMsg = errors.ErrMissingActionArgs.Error()

// Runner is the action-runner DaemonPlugin. It owns a registry of action
// handlers and an in-flight table mapping ActionId to a cancellation
// channel.
type Runner struct {
	plugin.BasePlugin

	catalog Catalog

	mu     sync.Mutex
	inFlight map[string]chan struct{}
}

// New builds a Runner over catalog. catalog is normally internal/actions.Catalog().
func New(catalog Catalog) *Runner {
	r := &Runner{catalog: catalog, inFlight: make(map[string]chan struct{})}
	r.Self = r
	return r
}

// StartSession reports nothing: the action runner has no telemetry of
// its own, only on-demand RPC dispatch.
func (r *Runner) StartSession(context.Context) (plugin.Output, error) { return nil, nil }

// OnMessage decodes the Action input and dispatches ACTION_START /
// ACTION_CANCEL per spec.md §4.4.
func (r *Runner) OnMessage(ctx context.Context, in plugin.Input) (any, error) {
	var a action
	if err := json.Unmarshal(in.Raw, &a); err != nil {
		return Err(err), nil
	}

	switch a.Type {
	case actionStart:
		return r.handleStart(ctx, a), nil
	case actionCancel:
		return r.handleCancel(a), nil
	default:
		return ErrString(fmt.Sprintf("%v %q", errors.ErrUnknownAction, a.Type)), nil
	}
}

func (r *Runner) handleStart(ctx context.Context, a action) Result {
	if a.Action == nil || !a.hasArgs() {
		return ErrString(requiredFieldMsg)
	}

	handler, ok := r.catalog[*a.Action]
	if !ok {
		return ErrString(requiredFieldMsg)
	}

	cancelCh := make(chan struct{})
	r.mu.Lock()
	// A duplicate id displaces nothing here: we reject it outright,
	// resolving spec.md §9's open question instead of silently losing
	// the first action's cancellation binding.
	if _, exists := r.inFlight[a.ID]; exists {
		r.mu.Unlock()
		return ErrString(fmt.Sprintf("%v: %s", errors.ErrActionInFlight, a.ID))
	}
	r.inFlight[a.ID] = cancelCh
	r.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	go func() {
		<-cancelCh
		cancelRun()
	}()

	type outcome struct {
		val any
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		val, err := handler(runCtx, a.Args)
		resultCh <- outcome{val, err}
	}()

	select {
	case o := <-resultCh:
		r.mu.Lock()
		delete(r.inFlight, a.ID)
		r.mu.Unlock()
		cancelRun()
		if o.err != nil {
			return Err(o.err)
		}
		return OK(o.val)
	case <-cancelCh:
		// The handler future is "dropped": we stop waiting on it and
		// reply immediately. It keeps running in the background under
		// runCtx (already cancelled), and its eventual result lands in
		// the buffered resultCh, which nothing reads.
		return Default()
	}
}

func (r *Runner) handleCancel(a action) Result {
	r.mu.Lock()
	cancelCh, ok := r.inFlight[a.ID]
	delete(r.inFlight, a.ID)
	r.mu.Unlock()

	if ok {
		close(cancelCh) // best effort; no one observes failure here
	}

	return Default()
}

// Teardown signals every in-flight cancellation channel and clears the
// table. No further ActionResults are emitted after this returns.
func (r *Runner) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.inFlight {
		close(ch)
		delete(r.inFlight, id)
	}
	return nil
}
