package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // spectators are read-only
}

// Envelope is the frame spectators receive.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

// Hub pushes game events to WebSocket spectators. Slow spectators are
// dropped rather than waited for.
type Hub struct {
	mu      sync.Mutex
	clients map[*ClientConn]struct{}

	// Snapshot, when set, is sent to every new spectator as a "state" frame.
	Snapshot func(ctx context.Context) (any, error)

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*ClientConn]struct{}),
		log:     log.With("component", "ws"),
	}
}

func (h *Hub) Broadcast(event string, payload any) {
	msg, err := json.Marshal(Envelope{Type: event, Payload: mustJSON(payload)})
	if err != nil {
		h.log.Error("encode ws frame", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.Close()
		}
	}
}

// Len returns the number of connected spectators.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) attach(c *ClientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) detach(c *ClientConn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}

	if h.Snapshot != nil {
		snap, err := h.Snapshot(r.Context())
		if err != nil {
			h.log.Warn("ws snapshot", "err", err)
		} else {
			_ = ws.WriteJSON(Envelope{Type: "state", Payload: mustJSON(snap)})
		}
	}
	h.attach(cc)
	h.log.Debug("spectator connected", "remote", r.RemoteAddr)

	// writer loop
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-cc.send:
				if !ok {
					return
				}
				_ = ws.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				_ = ws.WriteMessage(websocket.PingMessage, []byte{})
			}
		}
	}()

	// reader loop; spectators have nothing to say
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.detach(cc)
	h.log.Debug("spectator disconnected", "remote", r.RemoteAddr)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
