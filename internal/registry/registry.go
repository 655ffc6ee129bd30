// Package registry implements the process-wide session registry and
// event dispatcher: it tracks which sessions exist, which filters each
// subscription is watching, and fans out freshly persisted events to
// every matching subscription exactly once.
package registry

import (
	"log/slog"
	"sync"

	"github.com/nostrelay/relay/internal/nostr"
	"github.com/nostrelay/relay/internal/session"
	"github.com/nostrelay/relay/internal/store"
)

type subKey struct {
	sessionKey string
	subID      string
}

// Registry is the single exclusive-access region for subscription
// bookkeeping and publish fan-out: every mutation and every publish
// pass takes the same lock, so a publish always observes a consistent
// snapshot of who is currently subscribed to what.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	filters  map[subKey][]nostr.Filter

	store  *store.Store
	logger *slog.Logger
}

// New creates a Registry backed by st for persistence.
func New(st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*session.Session),
		filters:  make(map[subKey][]nostr.Filter),
		store:    st,
		logger:   logger,
	}
}

// Register adds sess to the registry. It is a no-op to publish to a
// session before it is registered.
func (r *Registry) Register(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.Key] = sess
}

// Unregister removes a session and every subscription it owns: no
// further publish can reach this session's queue after this returns.
func (r *Registry) Unregister(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey)
	for k := range r.filters {
		if k.sessionKey == sessionKey {
			delete(r.filters, k)
		}
	}
}

// AddSubscription records filters under (sessionKey, subID), replacing
// any prior filters registered under the same pair.
func (r *Registry) AddSubscription(sessionKey, subID string, filters []nostr.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[subKey{sessionKey, subID}] = filters
}

// RemoveSubscription deletes a single subscription. Unknown pairs are
// a no-op, matching CLOSE's behavior.
func (r *Registry) RemoveSubscription(sessionKey, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filters, subKey{sessionKey, subID})
}

// Publish persists e and then fans it out to every subscription whose
// filters match, using the subscription snapshot held at the moment of
// this call. origin is the session key the event arrived from, if any
// ("" for events injected outside a client session); it is currently
// unused for filtering — a relay fans an accepted event back to the
// publishing session's own matching subscriptions same as any other
// subscriber.
func (r *Registry) Publish(e *nostr.Event, origin string) (store.PutResult, error) {
	res, err := r.store.Put(e)
	if err != nil {
		return 0, err
	}
	if res == store.Duplicate {
		return res, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for k, filters := range r.filters {
		if !nostr.MatchesAny(filters, e) {
			continue
		}
		sess, ok := r.sessions[k.sessionKey]
		if !ok {
			continue
		}
		frame, err := nostr.EncodeEvent(k.subID, e)
		if err != nil {
			r.logger.Error("encode event for fan-out", "error", err, "subscription", k.subID)
			continue
		}
		sess.Enqueue(frame)
	}

	return res, nil
}

// Query runs filters against the durable store directly, bypassing
// fan-out — used to serve a REQ's initial backlog.
func (r *Registry) Query(filters []nostr.Filter) ([]nostr.Event, error) {
	return r.store.Query(filters)
}

// SessionCount reports how many sessions are currently registered,
// exposed for /healthz and operational logging.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
