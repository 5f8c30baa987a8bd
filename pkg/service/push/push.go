// Package push implements the C11 push-notification channel: a
// websocket-based fan-out of service-state snapshots to connected
// observers, standing in for the D-Bus PropertiesChanged signal this core
// leaves to an external bus layer. In-process broadcast to registered
// subscriber channels over a gorilla/websocket HTTP-upgrade handler, with
// no per-agent authentication — this is a single local control surface,
// not a multi-tenant server.
package push

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arithx/update-engine/pkg/log"
)

var plog = log.For(log.Push)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out snapshots to every currently-registered subscriber,
// dropping a message for any subscriber whose buffer is full rather than
// blocking the broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]chan []byte
	nextID  int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[int]chan []byte)}
}

// Broadcast marshals v as JSON and fans it out to every subscriber.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		plog.Logf("marshaling snapshot: %s", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- data:
		default:
			plog.Logf("subscriber %d buffer full, dropping update", id)
		}
	}
}

func (h *Hub) register() (int, chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan []byte, 8)
	h.clients[id] = ch
	return id, ch
}

func (h *Hub) unregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams every broadcast snapshot to
// it as a JSON text frame until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		plog.Logf("upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	id, ch := h.register()
	defer h.unregister(id)

	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			plog.Logf("writing to subscriber %d: %s", id, err)
			return
		}
	}
}
