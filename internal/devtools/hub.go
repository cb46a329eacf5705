// Package devtools mirrors the plugin runtime's state feed to any
// number of connected browser/devtools clients over WebSocket.
//
// Grounded on internal/websocket/hub.go's register/unregister/
// broadcast channel Hub, stripped of its org-scoping concern (a
// single runtime process has no tenant boundary to enforce here) and
// driven by plugin state events instead of session events.
package devtools

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pluginlog "github.com/pluginhost/runtime/internal/log"
	"github.com/pluginhost/runtime/internal/plugins"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages connected devtools WebSocket clients and broadcasts
// plugin lifecycle events to all of them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a Hub. Call Run in its own goroutine before serving
// any connection.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives registration, unregistration, and broadcast fan-out
// until ctx-like termination — callers stop it by simply abandoning
// the goroutine at process shutdown, same as the teacher's Hub.
func (h *Hub) Run() {
	logger := pluginlog.Component("devtools")
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
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			stale := make([]*client, 0)
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					stale = append(stale, c)
				}
			}
			h.mu.RUnlock()

			if len(stale) == 0 {
				continue
			}
			h.mu.Lock()
			for _, c := range stale {
				if _, ok := h.clients[c]; ok {
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
			logger.Debug().Int("dropped", len(stale)).Msg("dropped slow devtools clients")
		}
	}
}

// ClientCount reports the number of connected devtools clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MirrorFrom subscribes to manager's state feed and broadcasts every
// event as JSON to connected clients until unsubscribed at process
// shutdown.
func (h *Hub) MirrorFrom(manager *plugins.Manager) func() {
	events, unsubscribe := manager.PluginState()
	go func() {
		for ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.broadcast <- payload
		}
	}()
	return unsubscribe
}

// ServeHTTP upgrades the connection to a WebSocket and registers a
// new client. Intended to be mounted at a single devtools endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		pluginlog.Component("devtools").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains the connection to keep pong handling alive; a
// devtools client has nothing useful to send the runtime.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
