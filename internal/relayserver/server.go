// Package relayserver is the relay's listener: it accepts WebSocket
// connections, upgrades them, and wires each one to a fresh
// session.Session registered with the shared registry.Registry. It
// also serves the NIP-11 relay information document and a /healthz
// probe on plain net/http rather than a web framework.
package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nostrelay/relay/internal/buildinfo"
	"github.com/nostrelay/relay/internal/nostr"
	"github.com/nostrelay/relay/internal/registry"
	"github.com/nostrelay/relay/internal/session"
)

// maxFrameBytes bounds a single client frame: oversized input is
// rejected rather than accepted unbounded.
const maxFrameBytes = 512 * 1024

// RelayInfo is the NIP-11 relay information document, served at GET /
// when the client sends Accept: application/nostr+json.
type RelayInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	SupportedNIPs []int  `json:"supported_nips"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the relay's HTTP/WebSocket listener.
type Server struct {
	addr            string
	registry        *registry.Registry
	logger          *slog.Logger
	shutdownTimeout time.Duration
	relayInfo       RelayInfo

	httpServer *http.Server

	// activeMu guards active, the set of live WebSocket connections
	// tracked so graceful shutdown can signal and wait on them —
	// http.Server.Shutdown does not know about hijacked connections.
	activeMu sync.Mutex
	active   map[string]*trackedSession
	wg       sync.WaitGroup
}

// trackedSession pairs a session with the connection its outbound
// drain task writes to, so shutdown can reach both.
type trackedSession struct {
	conn *websocket.Conn
	sess *session.Session
}

// New creates a Server bound to addr, dispatching through reg.
func New(addr string, reg *registry.Registry, logger *slog.Logger, shutdownTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:            addr,
		registry:        reg,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
		active:          make(map[string]*trackedSession),
		relayInfo: RelayInfo{
			Name:          "nostrelay",
			Description:   "a minimal NIP-01 relay",
			Software:      "https://github.com/nostrelay/relay",
			Version:       buildinfo.Version,
			SupportedNIPs: []int{1, 11},
		},
	}
}

// Run starts the HTTP server and blocks until ctx is canceled, at
// which point it shuts down, allowing in-flight sessions up to
// shutdownTimeout to drain before forcing closed.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.withLogging(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", s.shutdownTimeout)

	// http.Server.Shutdown only stops accepting new connections and
	// waits on idle non-hijacked ones; a WebSocket connection is
	// hijacked the moment it's upgraded, so it's invisible to Shutdown
	// and must be drained separately below.
	httpErr := s.httpServer.Shutdown(shutdownCtx)

	s.drainSessions(s.shutdownTimeout)

	if httpErr != nil {
		return fmt.Errorf("shutdown: %w", httpErr)
	}
	return <-errCh
}

// drainSessions signals every live session to Draining, gives their
// outbound queues up to timeout to flush the frames already buffered,
// then closes the underlying connections so each readLoop unblocks and
// tears its session down. It returns once every session has finished
// closing or the deadline passes, whichever comes first.
func (s *Server) drainSessions(timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	s.activeMu.Lock()
	tracked := make([]*trackedSession, 0, len(s.active))
	for _, ts := range s.active {
		tracked = append(tracked, ts)
	}
	s.activeMu.Unlock()

	if len(tracked) == 0 {
		return
	}

	s.logger.Info("draining sessions", "count", len(tracked), "timeout", timeout)
	for _, ts := range tracked {
		ts.sess.Drain()
	}

	for _, ts := range tracked {
		waitForEmptyOutbound(ts.sess, time.Until(deadline))
	}

	for _, ts := range tracked {
		_ = ts.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ts.conn.Close()
	}

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		s.logger.Info("all sessions drained")
	case <-time.After(time.Until(deadline)):
		s.logger.Warn("shutdown deadline exceeded, remaining sessions forced closed")
	}
}

// waitForEmptyOutbound polls sess's outbound queue until it is empty or
// timeout elapses, giving the dedicated drain task a chance to flush
// already-buffered frames before the connection is closed out from
// under it.
func waitForEmptyOutbound(sess *session.Session, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	deadline := time.Now().Add(timeout)
	for sess.PendingOutbound() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.registry.SessionCount(),
	})
}

// handleRoot serves the NIP-11 document to clients that ask for it,
// upgrades WebSocket handshakes, and falls back to a small static
// status page for a plain browser request hitting "/" directly — all
// three share the path per NIP-11's content-negotiation convention.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/nostr+json" {
		w.Header().Set("Content-Type", "application/nostr+json")
		_ = json.NewEncoder(w).Encode(s.relayInfo)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		s.handleStatusPage(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := session.New(uuid.NewString(), s.logger)
	s.registry.Register(sess)
	s.logger.Info("session opened", "session", sess.Key, "remote", r.RemoteAddr)

	s.wg.Add(1)
	s.activeMu.Lock()
	s.active[sess.Key] = &trackedSession{conn: conn, sess: sess}
	s.activeMu.Unlock()

	go s.drainOutbound(conn, sess)
	s.readLoop(conn, sess)
}

// handleStatusPage renders a minimal human-readable status page for a
// plain browser visit, rather than letting a non-upgrade request fall
// through to a failed WebSocket handshake.
func (s *Server) handleStatusPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
<p>%s %s, %d active session(s).</p>
<p>Speak NIP-01 over a WebSocket connection to this URL.</p>
</body></html>`,
		s.relayInfo.Name, s.relayInfo.Name, s.relayInfo.Description,
		s.relayInfo.Software, s.relayInfo.Version, s.registry.SessionCount())
}

// drainOutbound writes every frame placed on sess's outbound queue to
// conn until the queue is closed (session torn down) or a write fails.
// A write failure means the peer is gone; the session is transitioned
// to Draining rather than left to accumulate frames nobody will read.
func (s *Server) drainOutbound(conn *websocket.Conn, sess *session.Session) {
	for frame := range sess.Outbound() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.logger.Debug("write failed, draining session", "session", sess.Key, "error", err)
			sess.Drain()
			return
		}
	}
}

// readLoop owns the connection's read side for its entire lifetime,
// dispatching each inbound frame to the session until the connection
// closes or a fatal read error occurs, then tears the session down.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	defer s.closeSession(conn, sess)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.logger.Debug("unexpected close", "session", sess.Key, "error", err)
			}
			return
		}
		s.handleFrame(sess, frame)
	}
}

func (s *Server) closeSession(conn *websocket.Conn, sess *session.Session) {
	sess.Close()
	s.registry.Unregister(sess.Key)
	conn.Close()

	s.activeMu.Lock()
	delete(s.active, sess.Key)
	s.activeMu.Unlock()
	s.wg.Done()

	s.logger.Info("session closed", "session", sess.Key)
}

// handleFrame dispatches a single parsed client message to the
// appropriate session/registry operation.
func (s *Server) handleFrame(sess *session.Session, frame []byte) {
	msg, err := nostr.ParseClientMessage(frame)
	if err != nil {
		notice, encErr := nostr.EncodeNotice(fmt.Sprintf("invalid: %v", err))
		if encErr == nil {
			sess.Enqueue(notice)
		}
		return
	}

	switch m := msg.(type) {
	case *nostr.EventMessage:
		s.handleEvent(sess, &m.Event)
	case *nostr.ReqMessage:
		s.handleReq(sess, m)
	case *nostr.CloseMessage:
		sess.RemoveSubscription(m.SubscriptionID)
		s.registry.RemoveSubscription(sess.Key, m.SubscriptionID)
	}
}

func (s *Server) handleEvent(sess *session.Session, e *nostr.Event) {
	if err := nostr.Validate(e); err != nil {
		notice, _ := nostr.EncodeNotice(fmt.Sprintf("invalid: %v", err))
		sess.Enqueue(notice)
		return
	}

	sess.ObservePubKey(e.PubKey)

	if _, err := s.registry.Publish(e, sess.Key); err != nil {
		s.logger.Error("publish failed", "session", sess.Key, "event", e.ID, "error", err)
		notice, _ := nostr.EncodeNotice(fmt.Sprintf("error: could not store event %s", e.ID))
		sess.Enqueue(notice)
	}
}

// handleReq records the subscription on the session, streams its
// historical backlog, and only then adds it to the registry's fan-out
// mirror — an event published while the backlog scan is in flight
// would otherwise be both delivered once by that scan and a second
// time by the dispatcher's concurrent fan-out, handing the client a
// duplicate frame for the same id.
func (s *Server) handleReq(sess *session.Session, m *nostr.ReqMessage) {
	sess.AddSubscription(m.SubscriptionID, m.Filters)

	events, err := s.registry.Query(m.Filters)
	if err != nil {
		s.logger.Error("query failed", "session", sess.Key, "subscription", m.SubscriptionID, "error", err)
		notice, _ := nostr.EncodeNotice(fmt.Sprintf("error: could not query subscription %s", m.SubscriptionID))
		sess.Enqueue(notice)
		return
	}

	for i := range events {
		frame, err := nostr.EncodeEvent(m.SubscriptionID, &events[i])
		if err != nil {
			s.logger.Error("encode event failed", "session", sess.Key, "error", err)
			continue
		}
		sess.Enqueue(frame)
	}

	eose, err := nostr.EncodeEOSE(m.SubscriptionID)
	if err == nil {
		sess.Enqueue(eose)
	}

	s.registry.AddSubscription(sess.Key, m.SubscriptionID, m.Filters)
}
