package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/playrelay/internal/infrastructure/config"
	"github.com/nerrad567/playrelay/internal/infrastructure/logging"
	"github.com/nerrad567/playrelay/internal/relay"
	"github.com/nerrad567/playrelay/internal/session"
)

// Inbound WebSocket message types.
const (
	WSTypeIdentify     = "identify"
	WSTypeCommand      = "command"
	WSTypeVolumeUpdate = relay.ReportVolume
	WSTypeStatusUpdate = relay.ReportStatus
	WSTypeTitleUpdate  = relay.ReportTitle
	WSTypeGetControls  = "get_controls"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a message received from a session.
type WSMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Command string `json:"command,omitempty"`
	Value   any    `json:"value,omitempty"`
	Status  any    `json:"status,omitempty"`
	Title   any    `json:"title,omitempty"`
}

// commandRecorder is told about every command received over a session.
type commandRecorder func(cmd relay.Command, res relay.Result, err error, remoteAddr string)

// Hub manages WebSocket connections. Membership for broadcasting lives in
// the session registry; the hub owns connection lifecycle and shutdown.
type Hub struct {
	cfg         config.WebSocketConfig
	logger      *logging.Logger
	broadcaster *relay.Broadcaster
	registry    *session.Registry
	record      commandRecorder

	clients map[*WSClient]struct{}
	ctx     context.Context
	mu      sync.RWMutex
}

// WSClient is one connected session. It is the session.Sink the registry
// delivers broadcasts to.
//
// send is never closed. Closing done stops writePump and makes Deliver
// refuse further messages, so a broadcast racing a disconnect is safe.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	stopOnce sync.Once

	id         string
	remoteAddr string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, b *relay.Broadcaster) *Hub {
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		broadcaster: b,
		registry:    b.Registry(),
		record:      func(relay.Command, relay.Result, error, string) {},
		clients:     make(map[*WSClient]struct{}),
		ctx:         context.Background(),
	}
}

// SetCommandRecorder sets the callback invoked after every session command.
func (h *Hub) SetCommandRecorder(record commandRecorder) {
	h.mu.Lock()
	h.record = record
	h.mu.Unlock()
}

// Run blocks until the context is cancelled, then disconnects every session.
// Commands received from sessions execute under ctx.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and the session registry, announces it
// and sends it the current state.
func (h *Hub) Register(client *WSClient) error {
	s := session.Session{ID: client.id, RemoteAddress: client.remoteAddr}
	if err := h.registry.Register(s, client); err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	registered, err := h.registry.Get(client.id)
	if err != nil {
		// Already gone again; nothing to announce.
		return nil
	}
	h.broadcaster.AdmitSession(registered)

	h.logger.Debug("websocket client connected", "session_id", client.id, "clients", h.ClientCount())
	return nil
}

// Unregister removes a client from the hub and the registry and stops its
// writer.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	if s, ok := h.registry.Unregister(client.id); ok {
		h.broadcaster.AnnounceLeave(s)
	}

	client.stop()
	h.logger.Debug("websocket client disconnected", "session_id", client.id, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) context() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctx
}

func (h *Hub) recorder() commandRecorder {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.record
}

// closeAll disconnects all clients and stops their writers.
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		client.stop()
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, sink := range h.registry.Drain() {
		sink.Close()
	}
}

// handleWebSocket upgrades the HTTP connection and registers a new session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBufferSize),
		done:       make(chan struct{}),
		id:         uuid.NewString(),
		remoteAddr: clientIP(r),
	}

	// Pumps start first so the join announcement and state sync are written
	// as soon as they are queued.
	go client.writePump(s.wsCfg)

	if err := s.hub.Register(client); err != nil {
		s.logger.Error("websocket session registration failed", "error", err)
		client.stop()
		return
	}

	go client.readPump(s.wsCfg)
}

// Deliver queues a message for the client. It reports false when the
// client's buffer is full or the client is gone.
func (c *WSClient) Deliver(data []byte) bool {
	return c.trySend(data)
}

// stop makes writePump send a close frame and exit. Safe to call more than
// once.
func (c *WSClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Close closes the underlying connection; the pumps then exit.
func (c *WSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "session_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "session_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.done:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeIdentify:
		c.handleIdentify(msg)
	case WSTypeCommand:
		c.handleCommand(msg)
	case WSTypeVolumeUpdate:
		c.handleReport(msg.Type, msg.Value)
	case WSTypeStatusUpdate:
		c.handleReport(msg.Type, msg.Status)
	case WSTypeTitleUpdate:
		c.handleReport(msg.Type, msg.Title)
	case WSTypeGetControls:
		c.hub.broadcaster.SendTo(c.id, relay.EventControls, c.hub.broadcaster.Controls())
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// handleIdentify names the session and reclassifies its role.
func (c *WSClient) handleIdentify(msg WSMessage) {
	declared, _ := session.ParseRole(msg.Role)
	s, err := c.hub.registry.Identify(c.id, msg.Name, declared)
	if err != nil {
		// Session already gone; nothing to do.
		return
	}
	c.hub.logger.Info("websocket session identified", "session_id", c.id, "name", s.DisplayName, "role", s.Role)
	c.hub.broadcaster.AnnounceIdentify()
}

// handleCommand executes a command on behalf of the session.
func (c *WSClient) handleCommand(msg WSMessage) {
	actor := c.id
	if s, err := c.hub.registry.Get(c.id); err == nil {
		actor = s.DisplayName
	}

	cmd := relay.Command{
		Name:   msg.Command,
		Value:  msg.Value,
		Source: relay.SourceWebSocket,
		Actor:  actor,
	}
	res, err := c.hub.broadcaster.Execute(c.hub.context(), cmd)
	c.hub.recorder()(cmd, res, err, c.remoteAddr)

	switch {
	case err != nil:
		c.sendError(err.Error())
	case res.Ignored:
		c.sendError("unknown command: " + msg.Command)
	}
}

// handleReport applies a state report from a controller session.
func (c *WSClient) handleReport(kind string, value any) {
	_, err := c.hub.broadcaster.Report(c.id, kind, value)
	switch {
	case err == nil, errors.Is(err, session.ErrSessionNotFound):
	default:
		c.sendError(err.Error())
	}
}

// trySend queues data without blocking. It reports false once the client
// is stopped or while its buffer is full.
func (c *WSClient) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendError sends an error event to this session only.
func (c *WSClient) sendError(message string) {
	c.hub.broadcaster.SendTo(c.id, relay.EventError, relay.ErrorPayload{Message: message})
}
