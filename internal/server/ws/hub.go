// Package ws pushes committed ledger events to WebSocket clients. Events are
// read from the signal bus and sent as protobuf-encoded structpb.Struct
// binary frames, or as JSON text frames when the client connects with
// ?format=json.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

// busChannels are the bus patterns the hub listens on.
var busChannels = []string{"ch:market:*", "ch:config"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is public and read-only over this socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame
	json bool
	subs map[string]bool
	mu   sync.RWMutex
}

// frame is an encoded message with its WebSocket message type.
type frame struct {
	kind int
	data []byte
}

// controlMsg is what clients send: subscribe/unsubscribe to channels such as
// "ch:market:3" or "ch:market:*", or replay the durable event stream after
// a stream id ("0" replays from the start).
type controlMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Since    string   `json:"since"`
}

// Hub bridges the signal bus to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan busMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

type busMsg struct {
	channel string
	data    []byte
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan busMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range busChannels {
		go h.subscribe(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.fanOut(ctx, msg)
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, msg busMsg) {
	var bin, text *frame
	var binErr error
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.channel) {
			continue
		}
		var f *frame
		if c.json {
			if text == nil {
				text = &frame{kind: websocket.TextMessage, data: msg.data}
			}
			f = text
		} else {
			if bin == nil && binErr == nil {
				b, err := encodeProto(msg.channel, msg.data)
				if err != nil {
					binErr = err
					h.logger.WarnContext(ctx, "encode frame failed",
						slog.String("channel", msg.channel),
						slog.String("error", err.Error()),
					)
				} else {
					bin = &frame{kind: websocket.BinaryMessage, data: b}
				}
			}
			if bin == nil {
				continue
			}
			f = bin
		}
		select {
		case c.send <- *f:
		default:
			h.logger.WarnContext(ctx, "dropping message for slow client")
		}
	}
}

// subscribe forwards one bus pattern into the broadcast loop. The concrete
// channel is derived from the event so clients can subscribe narrowly.
func (h *Hub) subscribe(ctx context.Context, pattern string) {
	msgs, err := h.bus.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe failed",
			slog.String("channel", pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case h.broadcast <- busMsg{channel: channelOf(data, pattern), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func channelOf(data []byte, fallback string) string {
	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil || e.Type == "" {
		return fallback
	}
	return e.Channel()
}

// encodeProto wraps a JSON event in {"channel": ..., "event": ...} and
// encodes it as a structpb.Struct.
func encodeProto(channel string, payload []byte) ([]byte, error) {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(map[string]any{
		"channel": channel,
		"event":   event,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// HandleWS upgrades the request and registers the client.
// GET /ws[?format=json]
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		json: strings.EqualFold(r.URL.Query().Get("format"), "json"),
		subs: make(map[string]bool),
	}
	for _, ch := range busChannels {
		c.subs[ch] = true
	}

	c.hello()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.setSubscriptions(msg.Action == "subscribe", msg.Channels)
		case "replay":
			c.replay(msg.Since)
		}
	}
}

func (c *client) setSubscriptions(on bool, channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

// replay sends stream entries after since, filtered by subscription.
func (c *client) replay(since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	msgs, err := c.hub.bus.StreamRead(ctx, domain.EventStream, since, replayLimit)
	if err != nil {
		c.hub.logger.WarnContext(ctx, "replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		ch := channelOf(m.Payload, "")
		if ch == "" || !c.isSubscribed(ch) {
			continue
		}
		f := frame{kind: websocket.TextMessage, data: m.Payload}
		if !c.json {
			b, err := encodeProto(ch, m.Payload)
			if err != nil {
				continue
			}
			f = frame{kind: websocket.BinaryMessage, data: b}
		}
		if !c.trySend(f) {
			return
		}
	}
}

// trySend queues f unless the buffer is full or the client is no longer
// registered. Holding the hub lock keeps Run from closing send meanwhile.
func (c *client) trySend(f frame) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// hello tells a new client which channels it receives. It is always a JSON
// text frame and is queued before the client is registered.
func (c *client) hello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"channels":       busChannels,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
			"encoding":       map[bool]string{true: "json", false: "protobuf"}[c.json],
		},
	})
	if err != nil {
		return
	}
	c.send <- frame{kind: websocket.TextMessage, data: msg}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
