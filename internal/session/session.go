// Package session implements the session registry and per-session state
// machine shared by the Reader and Poller (spec.md §4.2).
package session

import (
	"sync"
	"time"

	"github.com/lipeops/lipe-agent/internal/plugin"
)

// Back-off constants per spec.md §4.2. Fixed, not exponential — the spec
// explicitly says a fixed back-off is sufficient and forbids only
// tight-loop retry.
const (
	EmptyRetry     = 10 * time.Second
	PendingTimeout = 30 * time.Second
	UpdateInterval = 10 * time.Second
)

// Info is the (plugin, session id, sequence) triple attached to every
// outbound Data message.
type Info struct {
	Plugin    string
	SessionID string
	Seq       uint64
}

// Session is the in-memory record for one accepted manager conversation.
// Ownership of Plugin is exclusive to the Session for its lifetime.
// Its own mutex guards seq/started, since the Poller's tick goroutine and
// the Reader's on_message/start_session goroutines may touch the same
// Session concurrently (spec.md §5).
type Session struct {
	name   string
	id     string
	Plugin plugin.DaemonPlugin

	mu      sync.Mutex
	seq     uint64
	started bool
}

// New creates a Session with seq=0, not yet started.
func New(name, id string, p plugin.DaemonPlugin) *Session {
	return &Session{name: name, id: id, Plugin: p}
}

// ID returns the manager-assigned session id.
func (s *Session) ID() string { return s.id }

// NextInfo atomically claims the next sequence number and returns the
// addressing triple to stamp on the Data message that carries it. This
// must be called exactly once per outbound Data message, immediately
// before handing the message to the transport, so that sequence
// allocation and transmission order agree even when two goroutines
// (e.g. a poller tick and an on_message reply) race to send for the
// same session.
func (s *Session) NextInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq
	s.seq++
	return Info{Plugin: s.name, SessionID: s.id, Seq: seq}
}

// Started reports whether StartSession has already run for this
// session, so callers know whether the next poll must call
// StartSession or UpdateSession.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// MarkStarted records that StartSession has completed.
func (s *Session) MarkStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

// kind discriminates the three State variants.
type kind int

const (
	kindEmpty kind = iota
	kindPending
	kindActive
)

// State is exactly one of Empty(waitUntil) / Pending(waitUntil) /
// Active(session, nextTick), per spec.md §3.
type State struct {
	kind      kind
	waitUntil time.Time
	session   *Session
	nextTick  time.Time
}

// Empty returns a State with no session, eligible for a create attempt
// once now reaches waitUntil.
func Empty(waitUntil time.Time) State { return State{kind: kindEmpty, waitUntil: waitUntil} }

// Pending returns a State awaiting a SessionCreateResponse, abandoned
// after waitUntil.
func Pending(waitUntil time.Time) State { return State{kind: kindPending, waitUntil: waitUntil} }

// Active returns a State with an established Session.
func Active(s *Session, nextTick time.Time) State {
	return State{kind: kindActive, session: s, nextTick: nextTick}
}

// IsEmpty, IsPending, IsActive report the current variant.
func (s State) IsEmpty() bool   { return s.kind == kindEmpty }
func (s State) IsPending() bool { return s.kind == kindPending }
func (s State) IsActive() bool  { return s.kind == kindActive }

// WaitUntil is valid for Empty/Pending states.
func (s State) WaitUntil() time.Time { return s.waitUntil }

// NextTick is valid for Active states.
func (s State) NextTick() time.Time { return s.nextTick }

// Session is valid for Active states; nil otherwise.
func (s State) Session() *Session { return s.session }

// Registry is the shared PluginName -> State mapping. Every registered
// plugin name has exactly one entry at all times; transitions are atomic
// with respect to concurrent readers (spec.md §4.2 invariants).
type Registry struct {
	mu      sync.Mutex
	entries map[string]State
}

// NewRegistry seeds every name as Empty(now), ready for the first Poller
// tick to attempt a SessionCreateRequest immediately.
func NewRegistry(names []string) *Registry {
	r := &Registry{entries: make(map[string]State, len(names))}
	now := time.Now()
	for _, n := range names {
		r.entries[n] = Empty(now)
	}
	return r
}

// ResetEmpty sets name's state to Empty with a fresh back-off deadline.
func (r *Registry) ResetEmpty(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownIfActiveLocked(name)
	r.entries[name] = Empty(time.Now().Add(EmptyRetry))
}

// ConvertToPending transitions Empty -> Pending with a timeout deadline.
// Fails silently (no-op) if the state is no longer Empty, matching
// spec.md §4.2 exactly: a slow create response racing a Poller retick
// must not clobber a state the Reader already advanced.
func (r *Registry) ConvertToPending(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[name]; !ok || !cur.IsEmpty() {
		return
	}
	r.entries[name] = Pending(time.Now().Add(PendingTimeout))
}

// InsertSession transitions any state to Active with the supplied
// Session. If the previous state was Active, its Session is torn down
// first (Teardown invoked) before being replaced.
func (r *Registry) InsertSession(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownIfActiveLocked(name)
	r.entries[name] = Active(s, time.Now().Add(UpdateInterval))
}

// ResetActive refreshes an Active entry's next-tick deadline. No-op if
// the entry is not currently Active (e.g. it was terminated concurrently).
func (r *Registry) ResetActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[name]
	if !ok || !cur.IsActive() {
		return
	}
	r.entries[name] = Active(cur.session, time.Now().Add(UpdateInterval))
}

// TerminateSession transitions name to Empty, tearing down any Session.
// Idempotent: terminating an already-Empty entry is a no-op beyond
// resetting its back-off.
func (r *Registry) TerminateSession(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownIfActiveLocked(name)
	r.entries[name] = Empty(time.Now().Add(EmptyRetry))
}

// TerminateAllSessions applies TerminateSession to every registered name.
func (r *Registry) TerminateAllSessions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.entries {
		r.teardownIfActiveLocked(name)
		r.entries[name] = Empty(time.Now().Add(EmptyRetry))
	}
}

// teardownIfActiveLocked destroys the previous Session's plugin instance.
// Must be called with mu held.
func (r *Registry) teardownIfActiveLocked(name string) {
	cur, ok := r.entries[name]
	if !ok || !cur.IsActive() {
		return
	}
	if err := cur.session.Plugin.Teardown(); err != nil {
		// Teardown errors are discarded: the registry neither logs
		// them nor returns them to its callers.
		_ = err
	}
}

// Get returns a snapshot of name's current state.
func (r *Registry) Get(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[name]
	return s, ok
}

// Snapshot returns a copy of every (name, state) pair, for the Poller's
// per-tick sweep. The registry lock is not held across the caller's
// subsequent async work — the Poller takes this snapshot, drops the
// lock, then proceeds per spec.md §4.6.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
