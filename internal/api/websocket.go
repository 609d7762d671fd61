package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/logging"
)

// Message types on /api/v1/ws.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelStatus carries the bridge snapshot.
	ChannelStatus = "bridge.status"
)

const (
	// wsQueueLen is how many outbound frames a slow client may lag behind
	// before frames are dropped for it.
	wsQueueLen = 64

	defaultWSMaxMessageSize = 4096
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
)

// WSMessage is the single frame shape in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans status events out to subscribed WebSocket clients.
type Hub struct {
	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
	logger         *logging.Logger

	mu      sync.Mutex
	clients map[*WSClient]struct{}

	// onSubscribe runs after a client subscribes to a channel, so the
	// server can push current state without waiting for a change.
	onSubscribe func(c *WSClient, channel string)
}

// WSClient is one WebSocket connection. Its queue is closed exactly once,
// by whoever removes it from the hub.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	queue chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

// Status is read-only, so any dashboard origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub applies cfg, falling back to a 4 KiB read limit, 30s pings and a
// 10s pong timeout for zero values.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		maxMessageSize: defaultWSMaxMessageSize,
		pingInterval:   defaultWSPingInterval,
		pongTimeout:    defaultWSPongTimeout,
		logger:         logger,
		clients:        make(map[*WSClient]struct{}),
	}
	if cfg.MaxMessageSize > 0 {
		h.maxMessageSize = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		h.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		h.pongTimeout = time.Duration(cfg.PongTimeout) * time.Second
	}
	return h
}

// Run waits for ctx to end, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.queue)
		c.conn.Close() //nolint:errcheck // Shutdown
	}
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.queue)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast queues an event frame for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := eventFrame(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	// Enqueue under the lock so remove cannot close a queue mid-send.
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.enqueue(frame)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func eventFrame(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	c := &WSClient{
		hub:      s.ws,
		conn:     conn,
		queue:    make(chan []byte, wsQueueLen),
		channels: make(map[string]bool),
	}
	s.ws.add(c)

	go c.writeLoop()
	go c.readLoop()
}

// sendCurrentStatus gives a new status subscriber the snapshot at once.
func (s *Server) sendCurrentStatus(c *WSClient, channel string) {
	if channel != ChannelStatus {
		return
	}
	if frame, err := eventFrame(ChannelStatus, s.status.Snapshot()); err == nil {
		c.hub.mu.Lock()
		c.enqueue(frame)
		c.hub.mu.Unlock()
	}
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close() //nolint:errcheck // Already failing
	}()

	idle := c.hub.pingInterval + c.hub.pongTimeout
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	extend() //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // See above
		c.handle(data)
	}
}

func (c *WSClient) writeLoop() {
	ping := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close() //nolint:errcheck // Writer done
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongTimeout)) //nolint:errcheck // Write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.queue:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best effort goodbye
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.setSubscriptions(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

// setSubscriptions applies a subscribe or unsubscribe frame and acks it.
func (c *WSClient) setSubscriptions(msg WSMessage) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorBody("invalid "+msg.Type+" payload"))
		return
	}

	on := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if on {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if on {
		key = "subscribed"
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})

	if on && c.hub.onSubscribe != nil {
		for _, ch := range sub.Channels {
			c.hub.onSubscribe(c, ch)
		}
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// enqueue drops the frame when the client's queue is full. The caller
// holds hub.mu and the client is still registered.
func (c *WSClient) enqueue(frame []byte) {
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.queue <- frame:
	default:
	}
}

// reply queues a direct answer to this client.
func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.hub.mu.Lock()
	c.enqueue(frame)
	c.hub.mu.Unlock()
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
