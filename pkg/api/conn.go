package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/auth"
	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/session"
	"github.com/modelexchange/mxf/pkg/store"
)

const (
	// handshakeTimeout bounds how long a fresh connection may stall before
	// presenting credentials.
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds a single WebSocket send.
	writeTimeout = 5 * time.Second

	// catchupLimit is the maximum number of events returned in a catchup
	// response. Beyond it, a catchup.overflow message tells the client to
	// reload over REST.
	catchupLimit = 200

	// connInboxSize sizes the per-connection bus subscription.
	connInboxSize = 256
)

// Control frame types exchanged outside the public event stream.
const (
	frameHandshake    = "handshake"
	frameHandshakeOK  = "handshake_ok"
	frameHandshakeErr = "handshake_err"
	frameSubscribe    = "subscribe"
	frameUnsubscribe  = "unsubscribe"
	frameCatchup      = "catchup"
	framePing         = "ping"
	framePong         = "pong"
	frameError        = "error"
)

// ConnectionManager owns the WebSocket side of the transport: handshake,
// session registration, the outbound event pump, and inbound envelope
// dispatch.
type ConnectionManager struct {
	authn    *auth.Authenticator
	sessions *session.Manager
	bus      *bus.Bus
	events   store.EventStore
	cfg      *config.Config
	log      *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// Connection is one authenticated WebSocket client.
type Connection struct {
	ID      string
	conn    *websocket.Conn
	sess    *session.Session
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

// NewConnectionManager creates the manager used by the /ws handler.
func NewConnectionManager(authn *auth.Authenticator, sessions *session.Manager, b *bus.Bus, events store.EventStore, cfg *config.Config, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		authn:    authn,
		sessions: sessions,
		bus:      b,
		events:   events,
		cfg:      cfg,
		log:      logger.With("component", "transport"),
		conns:    make(map[string]*Connection),
	}
}

// ActiveConnections returns the count of live WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll tears down every connection. Used during shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleConnection runs the full lifecycle of one WebSocket connection.
// Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sess, ok := m.handshake(ctx, conn)
	if !ok {
		return
	}

	c := &Connection{
		ID:     uuid.NewString(),
		conn:   conn,
		sess:   sess,
		ctx:    ctx,
		cancel: cancel,
	}
	sess.SetCancelFunc(cancel)

	m.mu.Lock()
	m.conns[c.ID] = c
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, c.ID)
		m.mu.Unlock()
		sess.Disconnect()
		sess.MarkClosed()
		m.sessions.Remove(sess.ID)
		if sess.Identity != nil && sess.Identity.Kind == auth.PrincipalAgent {
			m.publishPresence(parentCtx, sess, bus.EventTypeAgentDisconnected)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		m.log.Info("Connection closed", "session_id", sess.ID)
	}()

	if sess.Identity.Kind == auth.PrincipalAgent {
		m.publishPresence(ctx, sess, bus.EventTypeAgentConnected)
	}

	// Outbound pump: one bus subscription per connection, filtered to the
	// session's subscribed channels and the public whitelist.
	go m.pump(c)

	m.readLoop(c)
}

// handshake reads and verifies the first frame. Returns false when the
// connection must not proceed.
func (m *ConnectionManager) handshake(ctx context.Context, conn *websocket.Conn) (*session.Session, bool) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hsCtx)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake timeout")
		return nil, false
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != frameHandshake {
		m.rejectHandshake(ctx, conn, mxerr.CodeAuthMissing, "first frame must be a handshake")
		return nil, false
	}
	var req auth.HandshakeRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		m.rejectHandshake(ctx, conn, mxerr.CodeAuthMissing, "malformed handshake payload")
		return nil, false
	}

	identity, err := m.authn.Handshake(ctx, req)
	if err != nil {
		m.rejectHandshake(ctx, conn, mxerr.CodeOf(err), err.Error())
		return nil, false
	}

	sess := m.sessions.Create(identity)
	ok := models.NewEnvelope(frameHandshakeOK, identity.ChannelID, identity.AgentID, map[string]any{
		"sessionId": sess.ID,
		"kind":      identity.Kind,
		"userId":    identity.UserID,
	})
	if err := writeEnvelope(ctx, conn, &ok); err != nil {
		m.sessions.Remove(sess.ID)
		return nil, false
	}
	m.log.Info("Handshake accepted",
		"session_id", sess.ID, "kind", identity.Kind,
		"agent_id", identity.AgentID, "user_id", identity.UserID)
	return sess, true
}

func (m *ConnectionManager) rejectHandshake(ctx context.Context, conn *websocket.Conn, code mxerr.Code, message string) {
	env := models.NewEnvelope(frameHandshakeErr, "", "", map[string]any{
		"code":    string(code),
		"message": message,
	})
	_ = writeEnvelope(ctx, conn, &env)
	_ = conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
}

// pump forwards public bus events for subscribed channels to the client.
func (m *ConnectionManager) pump(c *Connection) {
	sub := m.bus.Subscribe(bus.SubscribeOptions{
		PublicOnly: true,
		InboxSize:  connInboxSize,
	})
	defer sub.Close()

	subscribed := func(channelID string) bool {
		for _, ch := range c.sess.SubscribedChannels() {
			if ch == channelID {
				return true
			}
		}
		return false
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			if env.ChannelID == "" || !subscribed(env.ChannelID) {
				continue
			}
			if err := c.send(&env); err != nil {
				m.log.Debug("Dropping connection on write failure",
					"session_id", c.sess.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// readLoop processes inbound envelopes until the connection closes.
func (m *ConnectionManager) readLoop(c *Connection) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.sendError(c, mxerr.CodeValidationError, "malformed envelope")
			continue
		}
		m.handleFrame(c, &env)
	}
}

func (m *ConnectionManager) handleFrame(c *Connection, env *models.Envelope) {
	switch env.Type {
	case framePing:
		pong := models.NewEnvelope(framePong, "", "", nil)
		pong.RequestID = env.RequestID
		_ = c.send(&pong)

	case frameSubscribe:
		m.handleSubscribe(c, env)

	case frameUnsubscribe:
		if env.ChannelID == "" {
			m.sendError(c, mxerr.CodeMissingRequired, "channelId is required for unsubscribe")
			return
		}
		c.sess.Unsubscribe(env.ChannelID)

	case frameCatchup:
		m.handleCatchup(c, env)

	default:
		m.handleEmit(c, env)
	}
}

// handleSubscribe validates channel visibility before recording the
// subscription. Agents may only watch their bound channel; users may watch
// any configured channel.
func (m *ConnectionManager) handleSubscribe(c *Connection, env *models.Envelope) {
	channelID := env.ChannelID
	if channelID == "" {
		m.sendError(c, mxerr.CodeMissingRequired, "channelId is required for subscribe")
		return
	}
	if _, err := m.cfg.ChannelRegistry.Get(channelID); err != nil {
		m.sendError(c, mxerr.CodeNotFound, "unknown channel: "+channelID)
		return
	}
	id := c.sess.Identity
	if id.Kind == auth.PrincipalAgent && id.ChannelID != channelID {
		m.sendError(c, mxerr.CodeToolForbidden, "agents may only subscribe to their bound channel")
		return
	}

	c.sess.Subscribe(channelID)
	confirmed := models.NewEnvelope("subscription.confirmed", channelID, "", nil)
	confirmed.RequestID = env.RequestID
	_ = c.send(&confirmed)

	// Late subscribers replay the persisted stream so they miss nothing.
	m.catchup(c, channelID, 0, env.RequestID)
}

type catchupRequest struct {
	SinceID int64 `json:"sinceId"`
}

func (m *ConnectionManager) handleCatchup(c *Connection, env *models.Envelope) {
	if env.ChannelID == "" {
		m.sendError(c, mxerr.CodeMissingRequired, "channelId is required for catchup")
		return
	}
	var req catchupRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			m.sendError(c, mxerr.CodeValidationError, "malformed catchup payload")
			return
		}
	}
	m.catchup(c, env.ChannelID, req.SinceID, env.RequestID)
}

// catchup streams persisted events with id > sinceID, capped at
// catchupLimit with an overflow notice.
func (m *ConnectionManager) catchup(c *Connection, channelID string, sinceID int64, requestID string) {
	if m.events == nil {
		return
	}
	records, err := m.events.EventsSince(c.ctx, channelID, sinceID, catchupLimit+1)
	if err != nil {
		m.log.Warn("Catchup query failed", "channel_id", channelID, "error", err)
		return
	}
	hasMore := len(records) > catchupLimit
	if hasMore {
		records = records[:catchupLimit]
	}

	for _, rec := range records {
		var env models.Envelope
		if err := json.Unmarshal(rec.Envelope, &env); err != nil {
			continue
		}
		if err := c.send(&env); err != nil {
			return
		}
	}
	if hasMore {
		overflow := models.NewEnvelope("catchup.overflow", channelID, "", map[string]any{"hasMore": true})
		overflow.RequestID = requestID
		_ = c.send(&overflow)
	}
}

// clientEmittable reports whether connected clients may originate the
// event type. Only the message surface is open: task, agent, channel,
// memory, mcp, and controlloop events are produced by their owning
// services, and accepting them from the wire would let a client forge
// lifecycle transitions.
func clientEmittable(eventType string) bool {
	return strings.HasPrefix(eventType, "message.")
}

// handleEmit publishes a client-originated event to the bus. The event
// type must pass clientEmittable, the sender identity on the wire is
// always overwritten from the verified session (users carry no agent
// identity at all), and revocation is re-checked before every publish.
func (m *ConnectionManager) handleEmit(c *Connection, env *models.Envelope) {
	id := c.sess.Identity

	if err := m.authn.CheckRevoked(c.ctx, id); err != nil {
		m.sendError(c, mxerr.CodeOf(err), "credential revoked")
		c.cancel()
		return
	}

	if !clientEmittable(env.Type) {
		m.sendError(c, mxerr.CodeValidationError, "event type cannot be client-originated: "+env.Type)
		return
	}

	switch id.Kind {
	case auth.PrincipalAgent:
		env.AgentID = id.AgentID
		env.ChannelID = id.ChannelID
	case auth.PrincipalUser:
		env.AgentID = ""
		if env.ChannelID == "" {
			m.sendError(c, mxerr.CodeMissingRequired, "channelId is required")
			return
		}
		if _, err := m.cfg.ChannelRegistry.Get(env.ChannelID); err != nil {
			m.sendError(c, mxerr.CodeNotFound, "unknown channel: "+env.ChannelID)
			return
		}
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if err := m.bus.Publish(c.ctx, *env); err != nil {
		m.sendError(c, mxerr.CodeOf(err), err.Error())
	}
}

func (m *ConnectionManager) publishPresence(ctx context.Context, sess *session.Session, eventType string) {
	id := sess.Identity
	env := models.NewEnvelope(eventType, id.ChannelID, id.AgentID, map[string]any{
		"agentId":   id.AgentID,
		"sessionId": sess.ID,
	})
	if err := m.bus.Publish(ctx, env); err != nil {
		m.log.Debug("Failed to publish presence event", "event_type", eventType, "error", err)
	}
}

func (m *ConnectionManager) sendError(c *Connection, code mxerr.Code, message string) {
	env := models.NewEnvelope(frameError, "", "", map[string]any{
		"code":    string(code),
		"message": message,
	})
	if err := c.send(&env); err != nil {
		m.log.Debug("Failed to send error frame", "session_id", c.sess.ID, "error", err)
	}
}

// send writes one envelope with the write timeout. Serialized per
// connection: the pump and the read loop's replies share the socket.
func (c *Connection) send(env *models.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeEnvelope(c.ctx, c.conn, env)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
