package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"benchlink/internal/gateway"
)

const wsSendBuffer = 64

// wsClient is one WebSocket subscriber: its outbound queue and the
// event-type filter it requested.
type wsClient struct {
	conn  *websocket.Conn
	out   chan []byte
	types map[string]struct{} // nil means every event
}

func (c *wsClient) wants(eventType string) bool {
	if c.types == nil {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

// WSHub fans gateway events out to WebSocket subscribers. Each event is
// serialized once and queued per client; a client whose queue is full
// is evicted rather than allowed to stall the rest.
type WSHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// add registers a client. It reports false when the hub has already
// been stopped.
func (h *WSHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws client connected", "total", len(h.clients))
	return true
}

// remove drops a client and closes its queue. Safe to call more than
// once; only the call that finds the client in the set closes the
// channel.
func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
		h.logger.Debug("ws client disconnected", "total", len(h.clients))
	}
}

// Broadcast delivers a gateway event to every subscribed client.
func (h *WSHub) Broadcast(event gateway.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("ws marshal", "type", event.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.out <- data:
		default:
			delete(h.clients, c)
			close(c.out)
			h.logger.Warn("ws client evicted (queue full)")
		}
	}
}

// Stop closes every client queue and refuses further registrations.
// Safe to call multiple times.
func (h *WSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.out)
	}
}

// parseEventTypes turns the ?types=reading,setting_changed query into a
// filter set; empty means everything.
func parseEventTypes(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	types := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = struct{}{}
		}
	}
	if len(types) == 0 {
		return nil
	}
	return types
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// Without allowedOrigins nhooyr defaults to a same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:  conn,
		out:   make(chan []byte, wsSendBuffer),
		types: parseEventTypes(r.URL.Query().Get("types")),
	}
	if !s.wsHub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWriter(client)

	// Inbound frames are ignored; the read loop exists to notice the
	// peer going away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	s.wsHub.remove(client)
}

// wsWriter drains a client queue onto its connection. The queue is
// closed by the hub on eviction or shutdown, which ends the loop and
// the connection with it.
func (s *Server) wsWriter(c *wsClient) {
	for msg := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			s.wsHub.remove(c)
			c.conn.Close(websocket.StatusAbnormalClosure, "write failed")
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}
