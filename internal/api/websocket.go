package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

// Live feed message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Live feed channels.
const (
	ChannelMachineState = "machine.state"
	ChannelCounter      = "counter.reading"
	ChannelEstimate     = "cycle.estimate"
	ChannelCycle        = "production.cycle"
	ChannelUplink       = "uplink.flush"
	ChannelAcquisition  = "machine.acquisition"

	// ChannelAll subscribes a client to every channel.
	ChannelAll = "*"
)

var knownChannels = map[string]struct{}{
	ChannelMachineState: {},
	ChannelCounter:      {},
	ChannelEstimate:     {},
	ChannelCycle:        {},
	ChannelUplink:       {},
	ChannelAcquisition:  {},
	ChannelAll:          {},
}

// Channels returns every channel a client may subscribe to, sorted.
func Channels() []string {
	out := make([]string, 0, len(knownChannels))
	for ch := range knownChannels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// clientQueueSize is the per-client outbound queue. A client that falls
// further behind than this loses events.
const clientQueueSize = 256

// WSMessage is the envelope of every live feed message.
//
// Seq increases by one per broadcast across the hub, so a client can detect
// events it missed because its queue was full.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	Clients    int    `json:"clients"`
	Broadcasts uint64 `json:"broadcasts"`
	Dropped    uint64 `json:"dropped"`
}

// Hub fans gateway events out to live feed clients.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	onCount func(int)

	seq     atomic.Uint64
	dropped atomic.Uint64

	now func() time.Time
}

// WSClient is one connected live feed client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}

	dropped atomic.Uint64
}

// NewHub creates a live feed hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
		now:     time.Now,
	}
}

// SetOnClientCount sets a callback invoked with the client count whenever
// a client joins or leaves.
func (h *Hub) SetOnClientCount(fn func(int)) {
	h.mu.Lock()
	h.onCount = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Stats returns client and delivery counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:    h.ClientCount(),
		Broadcasts: h.seq.Load(),
		Dropped:    h.dropped.Load(),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n, fn := len(h.clients), h.onCount
	h.mu.Unlock()

	h.logger.Debug("live feed client connected", "clients", n)
	if fn != nil {
		fn(n)
	}
}

// unregister removes c. Only the caller that removes it from the map closes
// its queue.
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n, fn := len(h.clients), h.onCount
	h.mu.Unlock()

	if !ok {
		return
	}
	close(c.send)
	h.logger.Debug("live feed client disconnected", "clients", n, "dropped", c.dropped.Load())
	if fn != nil {
		fn(n)
	}
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding live feed event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel) && !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// handleWebSocket upgrades the request to a live feed connection. Clients
// receive nothing until they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, clientQueueSize),
		channels: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func (c *WSClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("live feed read failed", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any message counts.
		_ = extend()
		c.handle(data)
	}
}

func (c *WSClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		accepted, rejected := c.subscribe(msg.Payload.Channels)
		body := map[string]any{"subscribed": accepted}
		if len(rejected) > 0 {
			body["rejected"] = rejected
		}
		c.reply(msg.ID, WSTypeResponse, body)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.Payload.Channels)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Payload.Channels})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// subscribe adds the known channels among names and returns the rest.
func (c *WSClient) subscribe(names []string) (accepted, rejected []string) {
	accepted = make([]string, 0, len(names))
	c.mu.Lock()
	for _, ch := range names {
		if _, ok := knownChannels[ch]; !ok {
			rejected = append(rejected, ch)
			continue
		}
		c.channels[ch] = struct{}{}
		accepted = append(accepted, ch)
	}
	c.mu.Unlock()
	return accepted, rejected
}

func (c *WSClient) unsubscribe(names []string) {
	c.mu.Lock()
	for _, ch := range names {
		delete(c.channels, ch)
	}
	c.mu.Unlock()
}

func (c *WSClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[ChannelAll]; ok {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}

// enqueue queues data without blocking and reports whether it was queued.
// A queue closed by a concurrent disconnect counts as delivered.
func (c *WSClient) enqueue(data []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = true
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: c.hub.now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
