package statusserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/flightwx/noaawxd/pkg/logger"
)

// message is a status-page push: a source state transition or cooldown
// update. Adapted from the teacher's websocket.Message, dropping the
// aircraft-filter fields that have no weather-domain equivalent.
type message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// client is one connected status-page browser tab.
type client struct {
	conn   *websocket.Conn
	send   chan *message
	hub    *hub
	mu     sync.Mutex
	closed bool
}

// hub fans status updates out to every connected client. Adapted from
// the teacher's websocket.Server, with the message-handler and
// filter-matching machinery removed: the status page is read-only, it
// never accepts client-originated messages.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcastC chan *message
	done       chan struct{} // closed when run returns, so broadcast never blocks forever
	upgrader   websocket.Upgrader
	log        *logger.Logger
	mu         sync.RWMutex
}

func newHub(log *logger.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcastC: make(chan *message),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// broadcast enqueues m for delivery to every connected client. It never
// blocks past run() having already exited.
func (h *hub) broadcast(m *message) {
	select {
	case h.broadcastC <- m:
	case <-h.done:
	}
}

// run drives the register/unregister/broadcast loop until stopCh closes.
func (h *hub) run(stopCh <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.mu.Lock()
				c.closed = true
				c.mu.Unlock()
				close(c.send)
			}
			h.mu.Unlock()

		case m := <-h.broadcastC:
			h.mu.RLock()
			var dead []*client
			for c := range h.clients {
				select {
				case c.send <- m:
				default:
					dead = append(dead, c)
				}
			}
			h.mu.RUnlock()

			if len(dead) > 0 {
				h.mu.Lock()
				for _, c := range dead {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						c.mu.Lock()
						if !c.closed {
							c.closed = true
							close(c.send)
						}
						c.mu.Unlock()
					}
				}
				h.mu.Unlock()
			}

		case <-stopCh:
			return
		}
	}
}

func (h *hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", logger.String("remote_addr", r.RemoteAddr), logger.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan *message, 16), hub: h}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump only drains and discards incoming frames to detect the
// client going away; the status page has no client-to-server protocol.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for m := range c.send {
		data, err := json.Marshal(m)
		if err != nil {
			c.hub.log.Error("marshal status message failed", logger.Error(err))
			continue
		}
		c.mu.Lock()
		err = c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
