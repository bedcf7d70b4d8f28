package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/phonesplat/capture/logger"
	"github.com/phonesplat/capture/protocol"
)

// client is one connected capture stream and its protocol state. A client
// does not own a session; sessions are process-global and outlive any single
// connection.
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)

	mu             sync.Mutex
	streaming      bool
	paused         bool
	framesReceived int
	lastFrameTime  float64

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
		closeCh:     make(chan struct{}),
	}
}

// handleUpgrade admits, upgrades and serves one connection for its lifetime.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.sem.TryAcquire(1) {
		logger.Warn("Connection rejected, server at capacity", "max_clients", s.maxClients)
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	s.addClient(c)
	logger.ClientConnected(c.id, conn.RemoteAddr().String())
	s.notifyConnect(c.id)

	c.reply(protocol.Welcome{
		Type:       protocol.MessageTypeStatus,
		ClientID:   c.id,
		Message:    "Connected to capture server",
		ServerTime: nowSec(),
	})

	go s.pingLoop(c)
	reason := s.readLoop(c)

	c.close()
	s.removeClient(c, reason)
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *client, reason string) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	active := len(s.clients)
	s.clientsMu.Unlock()

	logger.ClientDisconnected(c.id, reason, active)
	s.notifyDisconnect(c.id)
}

// readLoop processes inbound messages until the connection dies, returning a
// human-readable disconnect reason.
func (s *Server) readLoop(c *client) string {
	conn := c.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return "server shutdown"
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed"
			}
			return fmt.Sprintf("read error: %v", err)
		}

		// A streaming client may never answer pings; any message counts as
		// liveness.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(c, data)
	}
}

// pingLoop keeps the connection alive with WebSocket pings until the client
// goes away.
func (s *Server) pingLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(c *client, data []byte) {
	receivedAt := nowSec()

	var m protocol.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		c.sendError(fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	switch t := protocol.Classify(m); t {
	case protocol.MessageTypeFrame:
		s.handleFrame(c, m, receivedAt)
	case protocol.MessageTypeControl:
		s.handleControl(c, m)
	default:
		logger.Debug("Ignoring message with unknown type", "type", string(t), "client_id", c.id)
	}
}

// handleFrame runs one data message through the ingestion path: pause gate,
// streaming transition (creating a session if none exists, before decoding,
// so even a malformed first frame opens the session), decode, append, ack.
func (s *Server) handleFrame(c *client, m protocol.RawMessage, receivedAt float64) {
	if c.isPaused() {
		s.notifyFrameDropped(c.id, DropReasonPaused)
		return
	}

	if c.beginStreaming() && s.store.CurrentSession() == "" {
		id, err := s.store.Create("")
		if err != nil {
			logger.Error("Failed to create session", "error", err)
		} else {
			s.notifySessionStart(id)
		}
	}

	p, err := protocol.DecodeFrame(m, receivedAt)
	if err != nil {
		logger.FrameDropped(c.id, DropReasonDecodeError, "error", err)
		s.notifyFrameDropped(c.id, DropReasonDecodeError)
		return
	}

	before := s.store.CurrentSession()
	ok := s.store.Append(p)
	if before == "" {
		// Append opened a session implicitly.
		if id := s.store.CurrentSession(); id != "" {
			s.notifySessionStart(id)
		}
	}

	n := c.countFrame(receivedAt)

	if ok {
		s.notifyFrame(p)
	} else {
		s.notifyFrameDropped(c.id, DropReasonWriteError)
	}

	if n%ackEvery == 0 {
		c.reply(protocol.Ack{
			Type:       protocol.MessageTypeAck,
			FrameCount: n,
			Stats:      s.store.Stats(),
		})
	}
}

func (s *Server) handleControl(c *client, m protocol.RawMessage) {
	req, err := protocol.DecodeControl(m)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	switch req.Command {
	case protocol.CommandStartSession:
		s.handleStartSession(c, req)

	case protocol.CommandEndSession:
		s.handleEndSession(c)

	case protocol.CommandPause:
		c.setPaused(true)
		c.reply(protocol.StatusReply{
			Type:    protocol.MessageTypeStatus,
			Command: protocol.CommandPause,
			Message: "Streaming paused",
		})

	case protocol.CommandResume:
		c.setPaused(false)
		c.reply(protocol.StatusReply{
			Type:    protocol.MessageTypeStatus,
			Command: protocol.CommandResume,
			Message: "Streaming resumed",
		})

	case protocol.CommandGetStatus:
		c.reply(protocol.ServerStatus{
			Type:    protocol.MessageTypeStatus,
			Command: protocol.CommandGetStatus,
			Stats:   s.store.Stats(),
			Clients: s.ClientCount(),
			Session: s.store.CurrentSession(),
		})

	case protocol.CommandPing:
		c.reply(protocol.Pong{
			Type:       protocol.MessageTypeAck,
			Command:    protocol.CommandPong,
			ServerTime: nowSec(),
			ClientTime: req.Timestamp,
		})

	default:
		c.sendError(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleStartSession(c *client, req *protocol.ControlRequest) {
	if s.store.CurrentSession() != "" {
		// Starting over an open session finalizes it first, so observers see
		// its final stats before the new session begins.
		final := s.store.End()
		s.notifySessionEnd(final.SessionID, final)
	}

	id, err := s.store.Create(req.SessionID)
	if err != nil {
		c.sendError(fmt.Sprintf("Failed to start session: %v", err))
		return
	}
	c.setStreaming(true)
	c.setPaused(false)
	s.notifySessionStart(id)

	c.reply(protocol.StatusReply{
		Type:      protocol.MessageTypeStatus,
		Command:   protocol.CommandStartSession,
		SessionID: id,
		Message:   "Session started",
	})
}

func (s *Server) handleEndSession(c *client) {
	final := s.store.End()
	c.setStreaming(false)

	if final.SessionID != "" {
		s.notifySessionEnd(final.SessionID, final)
	}

	c.reply(protocol.StatusReply{
		Type:    protocol.MessageTypeStatus,
		Command: protocol.CommandEndSession,
		Stats:   final,
		Message: "Session ended",
	})
}

func (c *client) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *client) setPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

func (c *client) setStreaming(streaming bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = streaming
}

// beginStreaming flips the connection into streaming state, reporting whether
// this call did the transition.
func (c *client) beginStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return false
	}
	c.streaming = true
	return true
}

// countFrame records a decoded data message, returning the connection's
// running frame count.
func (c *client) countFrame(receivedAt float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesReceived++
	c.lastFrameTime = receivedAt
	return c.framesReceived
}

// send JSON-encodes v and writes it as one text message.
func (c *client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// reply sends v, logging a failed write instead of surfacing it; an
// unreachable client is detected by its read loop, not here.
func (c *client) reply(v any) {
	if err := c.send(v); err != nil {
		logger.Debug("Failed to send reply", "client_id", c.id, "error", err)
	}
}

func (c *client) sendError(text string) {
	c.reply(protocol.ErrorReply{Type: protocol.MessageTypeError, Error: text})
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
}
