// Package ws streams pipeline events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// maxReplay bounds the events replayed to a resuming client.
	maxReplay = 500
)

// Hub bridges the pipeline event channel of the signal bus to connected
// websocket clients.
type Hub struct {
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// event is a bus payload with the fields clients filter on.
type event struct {
	typ      string
	marketID string
	data     []byte
}

func decodeEvent(data []byte) (event, error) {
	var hdr struct {
		Type     string `json:"type"`
		MarketID string `json:"market_id"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return event{}, fmt.Errorf("ws: decode event: %w", err)
	}
	return event{typ: hdr.Type, marketID: hdr.MarketID, data: data}, nil
}

// NewHub creates a Hub. allowedOrigins restricts browser origins; empty
// allows any.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:        bus,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run subscribes to the pipeline channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelPipeline)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.ChannelPipeline, err)
	}
	h.logger.Info("ws: subscribed", slog.String("channel", domain.ChannelPipeline))

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
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed")
				msgCh = nil
				continue
			}
			ev, err := decodeEvent(data)
			if err != nil {
				h.logger.Warn("ws: dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- ev.data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. Query
// parameters: market filters by market ID, types is a comma-separated list
// of event types, since is a stream ID to replay from.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	q := r.URL.Query()
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		market: q.Get("market"),
		types:  make(map[string]bool),
	}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.types[t] = true
		}
	}

	c.sendHello()
	if since := q.Get("since"); since != "" {
		c.replay(r.Context(), since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	market string
	types  map[string]bool
}

func (c *client) wants(ev event) bool {
	if c.market != "" && c.market != ev.marketID {
		return false
	}
	return len(c.types) == 0 || c.types[ev.typ]
}

// sendHello tells the client the stream is live.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"data": map[string]any{
			"channel":        domain.ChannelPipeline,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	c.send <- msg
}

// replay queues stream entries after since. Events published between the
// replay and registration are not delivered.
func (c *client) replay(ctx context.Context, since string) {
	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamPipeline, since, maxReplay)
	if err != nil {
		c.hub.logger.WarnContext(ctx, "ws: replay failed",
			slog.String("since", since),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		ev, err := decodeEvent(m.Payload)
		if err != nil || !c.wants(ev) {
			continue
		}
		select {
		case c.send <- ev.data:
		default:
			return
		}
	}
}

// readPump discards client frames; it exists to process control frames and
// detect disconnects.
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump sends queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
