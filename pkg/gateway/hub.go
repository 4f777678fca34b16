package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket sessions and routes outbound messages,
// either to every session or to one by session ID.
type Hub struct {
	// Registered clients, and the same set keyed by session ID
	clients map[*Client]bool
	byID    map[string]*Client

	// Outbound messages for every client
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.byID[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("session_opened", "session_id", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				delete(h.byID, client.id)
				close(client.send)
				h.log.Infow("session_closed", "session_id", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()
			if client.onClose != nil {
				client.onClose(client.id)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer full, drop the message
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected session.
func (h *Hub) Broadcast(v any) {
	message, err := json.Marshal(v)
	if err != nil {
		h.log.Warnw("broadcast_marshal_failed", "err", err)
		return
	}
	h.broadcast <- message
}

// SendTo sends a message to one session. Unknown sessions are dropped
// silently; the client may simply have disconnected. The lock is held
// across the channel send: unregister closes the send channel under the
// write lock, so releasing early would race a disconnect into a send on a
// closed channel.
func (h *Hub) SendTo(sessionID string, v any) {
	message, err := json.Marshal(v)
	if err != nil {
		h.log.Warnw("send_marshal_failed", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.byID[sessionID]
	if !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		// Buffer full, skip this client
	}
}

// Client represents one WebSocket session
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// onCommand receives every decoded inbound message
	onCommand func(sessionID string, cmd Command)
	// onClose fires after the session leaves the hub
	onClose func(sessionID string)
}

// readPump pumps messages from the WebSocket connection to the command
// handler
func (c *Client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("session_read_failed", "session_id", c.id, "err", err)
			}
			break
		}

		cmd := DecodeCommand(message)
		if _, ok := cmd.(Nop); ok {
			c.hub.log.Debugw("message_ignored", "session_id", c.id)
			continue
		}
		c.onCommand(c.id, cmd)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to current write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleWebSocket handles WebSocket upgrade and session lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		id:        uuid.NewString(),
		onCommand: s.dispatchCommand,
		onClose:   s.sessionClosed,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
