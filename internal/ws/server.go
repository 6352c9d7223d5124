// Package ws provides WebSocket server functionality for client connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/auth"
	"github.com/chatline/gateway/internal/config"
	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/hub"
	"github.com/chatline/gateway/internal/metrics"
	"github.com/chatline/gateway/internal/protocol"
	"github.com/chatline/gateway/internal/ratelimit"
)

// createMessageTimeout bounds one createMessage frame, store and policy included.
const createMessageTimeout = 30 * time.Second

// SubprotocolBearer marks the credential in a "bearer, <token>" subprotocol pair.
const SubprotocolBearer = "bearer"

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	registry *hub.Registry
	verifier auth.TokenVerifier
	users    UserLookup
	creator  MessageCreator
	limiter  *ratelimit.MapLimiter
	metrics  *metrics.Collectors
	log      *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conns   map[*hub.Connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(
	cfg *config.Config,
	registry *hub.Registry,
	verifier auth.TokenVerifier,
	users UserLookup,
	limiter *ratelimit.MapLimiter,
	m *metrics.Collectors,
	log *zap.Logger,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: registry,
		verifier: verifier,
		users:    users,
		limiter:  limiter,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{SubprotocolBearer},
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*hub.Connection]struct{}),
	}
}

// SetMessageCreator enables createMessage frames. Call before serving.
func (s *Server) SetMessageCreator(c MessageCreator) {
	s.creator = c
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}

// HandleWebSocket upgrades the request, authenticates the peer and, on
// success, registers the connection and starts its pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if !s.limiter.Allow(c.RealIP(), time.Now()) {
		s.countHandshake(metrics.HandshakeRateLimited)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many handshakes"})
	}
	credential := credentialFrom(c.Request())

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		s.log.Warn("Failed to upgrade WebSocket", zap.String("remote", c.RealIP()), zap.Error(err))
		return nil
	}

	conn := hub.NewConnection(ws, s.cfg.SendBuffer)
	log := s.log.With(zap.String("conn_id", conn.ID()), zap.String("remote", c.RealIP()))
	if !s.track(conn) {
		_ = conn.WriteClose(websocket.CloseGoingAway, "server shutting down", time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return nil
	}
	_ = conn.BeginAuth()

	identity, err := s.authenticate(credential)
	if err != nil {
		s.reject(conn, err, log)
		return nil
	}
	if err := conn.Activate(identity); err != nil {
		// Closed by Shutdown while authenticating.
		s.untrack(conn)
		_ = conn.Close()
		return nil
	}
	s.countHandshake(metrics.HandshakeOK)

	userID := identity.User.ID
	log = log.With(zap.Int64("user_id", userID))

	// Queue the acknowledgment before the connection becomes reachable, so no
	// onMessage can overtake it.
	s.push(conn, protocol.TypeConnected, protocol.ConnectedData{
		Status:       "good",
		ConnectionID: conn.ID(),
		UserID:       userID,
	})
	s.push(conn, protocol.TypeYourID, conn.ID())

	if prev, replaced := s.registry.Register(userID, conn); replaced {
		log.Info("Superseded previous connection", zap.String("previous_conn_id", prev.ID()))
	}
	s.broadcastUsers()

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	go s.writePump(conn)
	go s.readPump(conn, userID, log)

	log.Info("Connection active", zap.String("user", identity.User.DisplayName()))
	return nil
}

// credentialFrom takes the bearer header, then the subprotocol pair, then the
// access_token query parameter.
func credentialFrom(r *http.Request) string {
	if t := auth.BearerToken(r.Header.Get(echo.HeaderAuthorization)); t != "" {
		return t
	}
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, SubprotocolBearer) && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// authenticate verifies the credential and resolves its subject, bounded by
// the auth timeout.
func (s *Server) authenticate(credential string) (hub.Identity, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AuthTimeout)
	defer cancel()

	type result struct {
		user *domain.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		userID, err := s.verifier.VerifyToken(credential)
		if err != nil {
			done <- result{err: err}
			return
		}
		user, err := s.users.FindUserByID(ctx, userID)
		if err == nil && user == nil {
			err = ErrIdentityNotFound
		}
		done <- result{user: user, err: err}
	}()

	select {
	case <-ctx.Done():
		return hub.Identity{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return hub.Identity{}, r.err
		}
		return hub.Identity{User: *r.user, AuthenticatedAt: time.Now()}, nil
	}
}

func (s *Server) reject(conn *hub.Connection, err error, log *zap.Logger) {
	code, reason, outcome := closeFor(err)
	s.countHandshake(outcome)
	log.Info("Handshake rejected", zap.Int("close_code", code), zap.String("reason", reason), zap.Error(err))

	_ = conn.WriteClose(code, reason, time.Now().Add(s.cfg.WriteTimeout))
	s.untrack(conn)
	_ = conn.Close()
}

func closeFor(err error) (code int, reason, outcome string) {
	switch {
	case errors.Is(err, auth.ErrCredentialMissing):
		return protocol.CloseAuthRequired, "authentication required", metrics.HandshakeMissing
	case errors.Is(err, auth.ErrCredentialInvalid):
		return protocol.CloseAuthRequired, "invalid credential", metrics.HandshakeInvalid
	case errors.Is(err, ErrIdentityNotFound):
		return protocol.CloseNotFound, "identity not found", metrics.HandshakeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.CloseAuthTimeout, "authentication timeout", metrics.HandshakeTimeout
	case errors.Is(err, context.Canceled):
		return websocket.CloseGoingAway, "server shutting down", metrics.HandshakeError
	default:
		return protocol.CloseInternalError, "internal error", metrics.HandshakeError
	}
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection, userID int64, log *zap.Logger) {
	defer func() {
		_ = s.release(conn, userID, log)
		s.untrack(conn)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		s.handleMessage(conn, userID, message, log)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Connection closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("Failed to write message", zap.String("conn_id", conn.ID()), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// release removes the connection from the registry unless a newer one
// already took its place.
func (s *Server) release(conn *hub.Connection, userID int64, log *zap.Logger) error {
	if !s.registry.UnregisterHandle(userID, conn) {
		if s.metrics != nil {
			s.metrics.StaleDrops.Inc()
		}
		log.Debug("Disconnect left the newer connection registered", zap.Error(hub.ErrStaleHandle))
		return hub.ErrStaleHandle
	}
	s.broadcastUsers()
	log.Info("Connection closed")
	return nil
}

// handleMessage dispatches incoming frames to their handlers.
func (s *Server) handleMessage(conn *hub.Connection, userID int64, data []byte, log *zap.Logger) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch env.Type {
	case protocol.TypeCallUser:
		s.handleCallUser(conn, env.Data)
	case protocol.TypeAcceptCall:
		s.handleAcceptCall(conn, env.Data)
	case protocol.TypeCreateMessage:
		s.handleCreateMessage(conn, userID, env.Data, log)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+env.Type)
	}
}

// handleCallUser relays a call offer to another connection.
func (s *Server) handleCallUser(conn *hub.Connection, data json.RawMessage) {
	var msg protocol.CallUserData
	if err := json.Unmarshal(data, &msg); err != nil || msg.UserToCall == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid callUser message")
		return
	}
	target, ok := s.findConnection(msg.UserToCall)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeTargetOffline, "connection not found: "+msg.UserToCall)
		return
	}
	from := msg.From
	if from == "" {
		from = conn.ID()
	}
	s.push(target, protocol.TypeHey, protocol.HeyData{Signal: msg.SignalData, From: from})
}

// handleAcceptCall relays the callee's answer back to the caller.
func (s *Server) handleAcceptCall(conn *hub.Connection, data json.RawMessage) {
	var msg protocol.AcceptCallData
	if err := json.Unmarshal(data, &msg); err != nil || msg.To == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid acceptCall message")
		return
	}
	target, ok := s.findConnection(msg.To)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeTargetOffline, "connection not found: "+msg.To)
		return
	}
	s.push(target, protocol.TypeCallAccepted, msg.Signal)
}

// handleCreateMessage persists a message; delivery happens through the
// dispatcher like any other creation. It runs on the read loop, so a client
// has at most one creation in flight and further frames wait behind it.
func (s *Server) handleCreateMessage(conn *hub.Connection, userID int64, data json.RawMessage, log *zap.Logger) {
	if s.creator == nil {
		s.sendError(conn, protocol.ErrorCodeUnsupported, "createMessage is not enabled")
		return
	}
	var msg protocol.CreateMessageData
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid createMessage message")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, createMessageTimeout)
	defer cancel()

	m, err := s.creator.CreateMessage(ctx, userID, msg.ConversationID, msg.Content)
	if err != nil {
		log.Info("Create message rejected", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		s.sendError(conn, protocol.ErrorCodeRejected, err.Error())
		return
	}
	log.Debug("Message created over socket", zap.Int64("message_id", m.ID))
}

func (s *Server) findConnection(connID string) (hub.Handle, bool) {
	entry, ok := lo.Find(s.registry.Snapshot(), func(e hub.Entry) bool {
		return e.Handle.ID() == connID
	})
	return entry.Handle, ok
}

// broadcastUsers sends the connection id to user id map to everyone.
func (s *Server) broadcastUsers() {
	entries := s.registry.Snapshot()
	users := lo.SliceToMap(entries, func(e hub.Entry) (string, int64) {
		return e.Handle.ID(), e.UserID
	})
	frame, err := protocol.Encode(protocol.TypeAllUsers, users)
	if err != nil {
		s.log.Error("Failed to encode allUsers", zap.Error(err))
		return
	}
	for _, e := range entries {
		_ = e.Handle.Push(frame)
	}
}

func (s *Server) push(h hub.Handle, typ string, data interface{}) {
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		s.log.Error("Failed to encode frame", zap.String("type", typ), zap.Error(err))
		return
	}
	if err := h.Push(frame); err != nil {
		s.log.Debug("Push failed", zap.String("conn_id", h.ID()), zap.String("type", typ), zap.Error(err))
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn hub.Handle, code, message string) {
	s.push(conn, protocol.TypeError, protocol.ErrorData{Code: code, Message: message})
}

func (s *Server) countHandshake(outcome string) {
	if s.metrics != nil {
		s.metrics.Handshakes.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) track(conn *hub.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *hub.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.wg.Done()
	}
}

// Shutdown closes every open connection with a going-away frame and waits
// for their read loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	s.closing = true
	conns := lo.Keys(s.conns)
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	for _, conn := range conns {
		_ = conn.WriteClose(websocket.CloseGoingAway, "server shutting down", deadline)
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
