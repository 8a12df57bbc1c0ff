package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zot/hotswap/internal/config"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev tool bound to localhost by default
	},
}

// viewer is one connected browser. Writes go through send so the
// connection has a single writer.
type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans scene snapshots out to every connected viewer.
type Hub struct {
	config  *config.Config
	mu      sync.RWMutex
	viewers map[string]*viewer
	hello   func() ([]byte, error)
}

// NewHub creates a hub. hello produces the first message a new viewer gets.
func NewHub(cfg *config.Config, hello func() ([]byte, error)) *Hub {
	return &Hub{
		config:  cfg,
		viewers: make(map[string]*viewer),
		hello:   hello,
	}
}

// HandleWebSocket upgrades the request and registers the viewer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.config.Log(0, "Server: websocket upgrade failed: %v", err)
		return
	}
	v := &viewer{id: "viewer-" + uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	if h.hello != nil {
		if msg, err := h.hello(); err != nil {
			h.config.Log(0, "Server: initial snapshot: %v", err)
		} else {
			v.send <- msg
		}
	}

	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()
	h.config.Log(1, "Server: viewer connected: %s", v.id)

	go h.writePump(v)
	go h.readPump(v)
}

// readPump only watches for the close; viewers send nothing we act on.
func (h *Hub) readPump(v *viewer) {
	defer h.drop(v)
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.config.Log(0, "Server: websocket error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	defer v.conn.Close()
	for msg := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.config.Log(2, "Server: write to %s failed: %v", v.id, err)
			h.drop(v)
			return
		}
	}
	v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// drop unregisters v and ends its write pump. Safe to call more than once.
func (h *Hub) drop(v *viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v.id]
	delete(h.viewers, v.id)
	h.mu.Unlock()
	if ok {
		close(v.send)
		h.config.Log(1, "Server: viewer disconnected: %s", v.id)
	}
}

// Broadcast queues msg for every viewer. A viewer that cannot keep up is
// dropped rather than blocking the others.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	viewers := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.RUnlock()

	h.config.Log(3, "Server: push %d bytes to %d viewers", len(msg), len(viewers))
	for _, v := range viewers {
		h.mu.RLock()
		_, live := h.viewers[v.id]
		if live {
			select {
			case v.send <- msg:
			default:
				live = false
			}
		}
		h.mu.RUnlock()
		if !live {
			h.drop(v)
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.RLock()
	viewers := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.RUnlock()
	for _, v := range viewers {
		h.drop(v)
	}
}
