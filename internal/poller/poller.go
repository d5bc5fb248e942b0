// Package poller implements the 1Hz session-registry sweep that
// establishes sessions and collects telemetry (spec.md §4.6).
package poller

import (
	"context"
	"log"
	"time"

	"github.com/lipeops/lipe-agent/internal/session"
	"github.com/lipeops/lipe-agent/internal/transport"
)

// Poller ticks the session registry once per second, grounded on the
// teacher's ticker-driven SendHeartbeats/writePump loops in main.go and
// the original poller.rs's Interval-driven for_each.
type Poller struct {
	client   *transport.Client
	registry *session.Registry
}

// New builds a Poller over registry, sending through client.
func New(client *transport.Client, registry *session.Registry) *Poller {
	return &Poller{client: client, registry: registry}
}

// Run ticks once per second until ctx is cancelled. The registry lock is
// never held across the per-entry work: Snapshot copies the map, the
// lock is released, then each entry is handled (and its state-mutating
// result applied) independently.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.tick(ctx, now)
		}
	}
}

func (p *Poller) tick(ctx context.Context, now time.Time) {
	for name, state := range p.registry.Snapshot() {
		name, state := name, state
		go p.handleState(ctx, name, state, now)
	}
}

func (p *Poller) handleState(ctx context.Context, name string, state session.State, now time.Time) {
	switch {
	case state.IsEmpty() && !state.WaitUntil().After(now):
		if err := p.client.CreateSession(ctx, name); err != nil {
			log.Printf("[Poller] create session for %s failed: %v", name, err)
			p.registry.ResetEmpty(name)
			return
		}
		p.registry.ConvertToPending(name)

	case state.IsPending() && !state.WaitUntil().After(now):
		log.Printf("[Poller] session create for %s timed out, retrying", name)
		p.registry.ResetEmpty(name)

	case state.IsActive() && !state.NextTick().After(now):
		sess := state.Session()
		out, err := poll(ctx, sess)
		if err != nil {
			log.Printf("[Poller] %s poll error, terminating session: %v", name, err)
			p.registry.TerminateSession(name)
			return
		}
		if out != nil {
			if err := p.client.SendData(ctx, sess.NextInfo(), out); err != nil {
				log.Printf("[Poller] %s send data failed: %v", name, err)
				p.registry.TerminateSession(name)
				return
			}
		}
		p.registry.ResetActive(name)

	default:
		// Empty/Pending not yet due, or Active not yet due: no-op.
	}
}

// poll calls StartSession on the first tick and UpdateSession on every
// tick thereafter, advancing the session's own started flag exactly
// once — the Go shape of the original Session::poll() in http_comms.
func poll(ctx context.Context, s *session.Session) (any, error) {
	if !s.Started() {
		out, err := s.Plugin.StartSession(ctx)
		if err != nil {
			return nil, err
		}
		s.MarkStarted()
		return out, nil
	}
	return s.Plugin.UpdateSession(ctx)
}
