package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wolfeidau/tempdesk/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback; browser origins are local tooling.
		return true
	},
}

// hub relays store-changed events from the notify bus to connected
// WebSocket clients so the UI can refresh without polling.
type hub struct {
	bus    *notify.Bus
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(bus *notify.Bus, logger *slog.Logger) *hub {
	return &hub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (h *hub) start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	events, cancel := h.bus.Subscribe()
	go h.run(events, cancel)
}

// stop is a no-op when start never ran, so shutdown of a server that
// failed before Start does not hang.
func (h *hub) stop() {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stopCh)
	<-h.doneCh
}

func (h *hub) run(events <-chan notify.Event, cancel func()) {
	defer close(h.doneCh)
	defer cancel()

	for {
		select {
		case <-h.stopCh:
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *hub) broadcast(ev notify.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			// Client is not draining; drop it rather than stall the rest.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// serveWS upgrades the connection and streams events until the client
// disconnects.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 32),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("event stream client connected", "remote_addr", r.RemoteAddr, "clients", count)

	go c.writePump()
	go h.readPump(c)
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound frames and detects disconnects.
func (h *hub) readPump(c *wsClient) {
	defer h.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
