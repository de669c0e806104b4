package downstream

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/model"
)

// Hub is the Session Registry's view from the transport layer. It
// binds a fresh or resumed Connection to a Session and routes decoded
// client frames into that Session's command loop.
type Hub interface {
	NewSession(userID model.UserID, conn *Connection) model.SessionID
	Resume(sessionID model.SessionID, conn *Connection) bool
	HandleFrame(sessionID model.SessionID, env Envelope) bool
	Unbind(sessionID model.SessionID)
}

// Server terminates WebSocket connections and bridges them to the Hub.
// Mirrors the teacher's handleWebSocket/readPump/writePump trio,
// narrowed to own only the wire protocol — session semantics live in
// the Hub.
type Server struct {
	logger   zerolog.Logger
	hub      Hub
	tokens   *TokenIssuer
	pool     *ConnectionPool
	bufPool  *BufferPool

	maxConnections int
	connSem        chan struct{}
	clientCount    atomic.Int64
	activeCount    atomic.Int64
	shuttingDown   atomic.Bool

	// guard applies the CPU/memory emergency brake on top of the
	// connSem-based hard cap above; nil disables the extra check.
	guard interface {
		ShouldAcceptConnection() (bool, string)
	}
}

// SetGuard wires a resource guard's admission check into the upgrade
// path. Optional — a Server with no guard only enforces its hard
// connSem-based connection cap.
func (s *Server) SetGuard(g interface {
	ShouldAcceptConnection() (bool, string)
}) {
	s.guard = g
}

// ActiveConnections reports the number of currently bound WebSocket
// connections, for limits.Guard's admission check.
func (s *Server) ActiveConnections() int64 {
	return s.activeCount.Load()
}

func NewServer(logger zerolog.Logger, hub Hub, tokens *TokenIssuer, sendQueueDepth, maxConnections int) *Server {
	return &Server{
		logger:         logger.With().Str("component", "downstream").Logger(),
		hub:            hub,
		tokens:         tokens,
		pool:           NewConnectionPool(sendQueueDepth),
		bufPool:        NewBufferPool(),
		maxConnections: maxConnections,
		connSem:        make(chan struct{}, maxConnections),
	}
}

// Shutdown stops accepting new connections; existing ones continue
// until their Session tears down or the caller closes the listener.
func (s *Server) Shutdown() {
	s.shuttingDown.Store(true)
}

// ServeHTTP upgrades the request to a WebSocket and binds it to a
// Session, per spec.md §6's reconnect contract: the server MUST accept
// reconnects at /stream/{session_id} with an optional user_id query
// parameter, and MUST NOT require re-login for rebind within the
// Session TTL. The path's session_id is looked up first; if it is
// unknown (or absent) and an authenticated user_id is present, the
// Session is rehydrated under a fresh session_id. If neither locates a
// Session the channel is rejected with an explicit error code.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.connSem <- struct{}{}:
	case <-time.After(2 * time.Second):
		metrics.ConnectionsRejected.WithLabelValues("at_capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	if s.guard != nil {
		if ok, reason := s.guard.ShouldAcceptConnection(); !ok {
			<-s.connSem
			metrics.ConnectionsRejected.WithLabelValues("resource_guard").Inc()
			s.logger.Warn().Str("reason", reason).Msg("connection rejected by resource guard")
			http.Error(w, "server overloaded: "+reason, http.StatusServiceUnavailable)
			return
		}
	}

	pathSessionID := model.SessionID(r.PathValue("session_id"))
	userID := s.authenticatedUserID(r)
	if pathSessionID == "" && userID == "" {
		<-s.connSem
		metrics.ConnectionsRejected.WithLabelValues("missing_identity").Inc()
		http.Error(w, "missing session_id or a verified user_id", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connSem
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := s.clientCount.Add(1)
	c := s.pool.Get(id, conn)

	var sessionID model.SessionID
	switch {
	case pathSessionID != "" && s.hub.Resume(pathSessionID, c):
		sessionID = pathSessionID
	case userID != "":
		sessionID = s.hub.NewSession(userID, c)
	default:
		s.rejectUnresolvable(c)
		s.pool.Put(c)
		<-s.connSem
		return
	}

	if bound, err := s.bufPool.EncodeEnvelope(MsgConnected, ServerConnected{SessionID: string(sessionID)}, 256); err == nil {
		c.Send(bound)
	} else {
		s.logger.Error().Err(err).Msg("failed to encode connected frame")
	}

	s.activeCount.Add(1)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()

	go s.writePump(c)
	go s.readPump(c, sessionID)
}

// authenticatedUserID returns the user_id query parameter only if it
// is backed by a valid "Authorization: Bearer <token>" identity token
// matching it — an unauthenticated user_id would let any caller
// rehydrate an arbitrary user's durable snapshot.
func (s *Server) authenticatedUserID(r *http.Request) model.UserID {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return ""
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	uid, err := s.tokens.Verify(bearer)
	if err != nil {
		s.logger.Debug().Err(err).Msg("rejecting unverified user_id on stream upgrade")
		return ""
	}
	if string(uid) != raw {
		s.logger.Warn().Msg("user_id query parameter does not match bearer identity")
		return ""
	}
	return uid
}

// rejectUnresolvable sends the explicit error frame spec.md §4.4's
// reconnect-binding contract calls for when neither session_id nor
// user_id locates a Session, then closes the channel. It writes
// directly rather than through the pooled send queue since no write
// pump has started yet for this Connection.
func (s *Server) rejectUnresolvable(c *Connection) {
	frame, err := s.bufPool.EncodeEnvelope(MsgError, ServerError{Code: "SESSION_NOT_FOUND", Detail: "no session for the given session_id or user_id"}, 256)
	if err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		wsutil.WriteServerMessage(c.conn, ws.OpText, frame)
	}
	c.Close()
}

func (s *Server) readPump(c *Connection, sessionID model.SessionID) {
	defer func() {
		c.Close()
		s.hub.Unbind(sessionID)
		s.pool.Put(c)
		<-s.connSem
		s.activeCount.Add(-1)
		metrics.ConnectionsActive.Dec()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("client read ended")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			env, err := DecodeEnvelope(msg)
			if err != nil {
				if reply, encErr := EncodeEnvelope(MsgError, ServerError{Code: "BAD_FRAME", Detail: err.Error()}); encErr == nil {
					c.Send(reply)
				}
				continue
			}
			if !s.hub.HandleFrame(sessionID, env) {
				if reply, encErr := EncodeEnvelope(MsgStatus, ServerStatus{Code: "QUEUE_FULL", Message: "command queue full, dropped frame, retry"}); encErr == nil {
					c.Send(reply)
				}
			}
		case ws.OpClose:
			return
		}
	}
}

func (s *Server) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, frame); err != nil {
				s.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("write failed, dropping connection")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
