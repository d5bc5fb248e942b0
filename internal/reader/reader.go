// Package reader implements the long-poll loop that dispatches inbound
// manager messages (spec.md §4.5).
package reader

import (
	"context"
	"log"
	"time"

	"github.com/lipeops/lipe-agent/internal/errors"
	"github.com/lipeops/lipe-agent/internal/message"
	"github.com/lipeops/lipe-agent/internal/plugin"
	"github.com/lipeops/lipe-agent/internal/session"
	"github.com/lipeops/lipe-agent/internal/transport"
)

// retryDelay is the small fixed pause after a failed GET, per spec.md
// §4.5: "implementations should not busy-loop on immediate failure".
const retryDelay = 1 * time.Second

// Reader continually long-polls the manager and dispatches each inbound
// message, grounded on the teacher's readPump (blocking receive loop
// feeding handleMessage) and the original reader.rs's tail-recursive GET
// loop.
type Reader struct {
	client   *transport.Client
	registry *session.Registry
	plugins  *plugin.Registry
}

// New builds a Reader.
func New(client *transport.Client, registry *session.Registry, plugins *plugin.Registry) *Reader {
	return &Reader{client: client, registry: registry, plugins: plugins}
}

// Run loops until ctx is cancelled. Each dispatch is spawned as an
// independent goroutine so the GET loop never blocks on handler
// completion, per spec.md §4.5.
func (r *Reader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mm, err := r.client.Get(ctx)
		if err != nil {
			log.Printf("[Reader] get failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, in := range mm.Messages {
			r.dispatch(ctx, in)
		}
	}
}

func (r *Reader) dispatch(ctx context.Context, in message.Inbound) {
	switch {
	case in.SessionCreateResponse != nil:
		r.handleSessionCreateResponse(ctx, *in.SessionCreateResponse)
	case in.Data != nil:
		r.handleData(ctx, *in.Data)
	case in.SessionTerminate != nil:
		log.Printf("[Reader] terminate %s", in.SessionTerminate.Plugin)
		r.registry.TerminateSession(in.SessionTerminate.Plugin)
	case in.SessionTerminateAll:
		log.Printf("[Reader] terminate all sessions")
		r.registry.TerminateAllSessions()
	default:
		log.Printf("[Reader] dropping undecodable message")
	}
}

func (r *Reader) handleSessionCreateResponse(ctx context.Context, m message.SessionCreateResponse) {
	p, err := r.plugins.Get(m.Plugin)
	if err != nil {
		log.Printf("[Reader] %v", err)
		return
	}

	sess := session.New(m.Plugin, m.SessionID, p)

	go func() {
		out, err := p.StartSession(ctx)
		if err != nil {
			log.Printf("[Reader] start_session for %s/%s failed: %v", m.Plugin, m.SessionID, err)
			r.registry.TerminateSession(m.Plugin)
			return
		}
		sess.MarkStarted()
		if out != nil {
			if err := r.client.SendData(ctx, sess.NextInfo(), out); err != nil {
				log.Printf("[Reader] send_data for %s/%s failed: %v", m.Plugin, m.SessionID, err)
				return
			}
		}
	}()

	r.registry.InsertSession(m.Plugin, sess)
}

func (r *Reader) handleData(ctx context.Context, m message.InboundData) {
	state, ok := r.registry.Get(m.Plugin)
	if !ok || !state.IsActive() {
		log.Printf("[Reader] %v: %s/%s", errors.ErrSessionNotActive, m.Plugin, m.SessionID)
		return
	}
	if state.Session().ID() != m.SessionID {
		log.Printf("[Reader] %v: %s/%s", errors.ErrSessionNotFound, m.Plugin, m.SessionID)
		return
	}

	sess := state.Session()
	go func() {
		result, err := sess.Plugin.OnMessage(ctx, plugin.Input{Raw: m.Body})
		if err != nil {
			log.Printf("[Reader] on_message for %s/%s failed: %v", m.Plugin, m.SessionID, err)
			return
		}
		if err := r.client.SendData(ctx, sess.NextInfo(), result); err != nil {
			log.Printf("[Reader] send_data for %s/%s failed: %v", m.Plugin, m.SessionID, err)
			return
		}
	}()
}
