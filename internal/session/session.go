// Package session implements the per-connection state machine:
// subscriptions, an outbound queue, and the Open/Draining/Closed
// lifecycle. It has no knowledge of the transport (WebSocket) or the
// registry — those are wired together by internal/relayserver.
package session

import (
	"log/slog"
	"sync"

	"github.com/nostrelay/relay/internal/nostr"
)

// State is one of the three lifecycle states from spec.md §4.5.
type State int

const (
	Open State = iota
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// outboundQueueSize is the soft bound on a session's outbound queue,
// in the spirit of the teacher's subscribed-event channel
// (internal/homeassistant/websocket.go's `events chan Event, 100`):
// large enough to absorb a burst without an enqueue blocking the
// ingest path, small enough that a genuinely stuck consumer is
// detected instead of growing without bound.
const outboundQueueSize = 256

// Session is a live client connection: its subscriptions, its
// observed pubkeys (informational only, per spec.md §3), and the
// outbound queue its dedicated drain task reads from.
type Session struct {
	Key string

	mu          sync.Mutex
	state       State
	subs        map[string][]nostr.Filter
	seenPubKeys map[string]struct{}

	outbound chan []byte
	logger   *slog.Logger
}

// New creates a Session in the Open state, identified by key (a
// registry-unique session key, typically a uuid).
func New(key string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		Key:         key,
		state:       Open,
		subs:        make(map[string][]nostr.Filter),
		seenPubKeys: make(map[string]struct{}),
		outbound:    make(chan []byte, outboundQueueSize),
		logger:      logger,
	}
}

// Outbound returns the channel the session's dedicated outbound drain
// task reads from.
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// PendingOutbound reports how many frames are queued but not yet
// written to the peer. Used by graceful shutdown to give the drain
// task a bounded chance to flush before the connection is closed.
func (s *Session) PendingOutbound() int {
	return len(s.outbound)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enqueue places frame onto the session's outbound queue. It never
// blocks: if the queue is full (a stuck or very slow consumer) or the
// session is no longer Open, the frame is dropped and logged, mirroring
// the teacher's non-blocking send-with-drop on its events channel.
// Order among frames that ARE enqueued is preserved, satisfying
// spec.md §5's per-subscription ordering guarantee.
//
// The state check and the send happen under the same lock Close uses
// to flip to Closed and close the channel, so a call here can never
// observe Open and then send on a channel Close has already closed —
// that race would otherwise panic the process on an ordinary
// disconnect raced against a concurrent fan-out.
func (s *Session) Enqueue(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return
	}

	select {
	case s.outbound <- frame:
	default:
		s.logger.Warn("outbound queue full, dropping frame", "session", s.Key)
	}
}

// AddSubscription records a subscription's filters, replacing any
// prior filters under the same id. Per spec.md §4.5, the session is
// authoritative for its own subscriptions.
func (s *Session) AddSubscription(id string, filters []nostr.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = filters
}

// RemoveSubscription deletes the named subscription. Removing an
// unknown id is a no-op, per spec.md §4.5/§7.
func (s *Session) RemoveSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscriptions returns a snapshot copy of this session's current
// subscriptions.
func (s *Session) Subscriptions() map[string][]nostr.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]nostr.Filter, len(s.subs))
	for id, filters := range s.subs {
		out[id] = filters
	}
	return out
}

// ObservePubKey records that this session has sent an event signed by
// pubkey. Informational only per spec.md §3 — never used for
// authorization decisions.
func (s *Session) ObservePubKey(pubkey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenPubKeys[pubkey] = struct{}{}
}

// ObservedPubKeys returns the set of pubkeys seen from this session.
func (s *Session) ObservedPubKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.seenPubKeys))
	for pk := range s.seenPubKeys {
		out = append(out, pk)
	}
	return out
}

// Drain transitions the session to Draining. All of this session's
// subscriptions should be purged from the registry by the caller as
// part of this transition (spec.md §4.5); Session itself only tracks
// its own lifecycle state and stops accepting further outbound frames.
func (s *Session) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = Draining
}

// Close transitions the session to the terminal Closed state and
// releases its outbound queue.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = Closed
	close(s.outbound)
}
